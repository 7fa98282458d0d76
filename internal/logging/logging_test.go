package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"device token", strings.Repeat("A", 60) + "BEEF", "****BEEF"},
		{"exactly four", "ABCD", "****ABCD"},
		{"short", "AB", "****"},
		{"empty", "", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskToken(tt.token); got != tt.want {
				t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLevel(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, json := range []bool{true, false} {
		logger, err := New("debug", json)
		if err != nil {
			t.Fatalf("New(json=%v) error = %v", json, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("New(json=%v) debug not enabled", json)
		}
	}

	if _, err := New("loud", true); err == nil {
		t.Error("New() with bad level expected error")
	}
}

func TestNew_MasksSecretFields(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	logger, err := build("debug", true, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, obs)
	}))
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}

	secret := strings.Repeat("0123456789ABCDEF", 4)
	logger.With(zap.String("deviceToken", secret)).Info("device registered",
		zap.String("token", secret),
		zap.String("api_key", secret),
		zap.String("Secret", secret),
		zap.String("recording", "01HZX"),
		zap.Binary("packet", make([]byte, 44)),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"deviceToken", "token", "api_key", "Secret"} {
		if fields[key] != "****CDEF" {
			t.Errorf("%s field = %v, want ****CDEF", key, fields[key])
		}
	}
	if fields["recording"] != "01HZX" {
		t.Errorf("recording field = %v, want unchanged", fields["recording"])
	}
	if fields["packet"] != "[BINARY: 44 bytes]" {
		t.Errorf("packet field = %v", fields["packet"])
	}
}

func TestRedact_RespectsLevel(t *testing.T) {
	obs, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(Redact(obs))

	logger.Info("dropped", zap.String("token", "secret-token"))
	logger.Warn("kept", zap.String("token", "secret-token"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["token"]; got != "****oken" {
		t.Errorf("token field = %v, want ****oken", got)
	}
}
