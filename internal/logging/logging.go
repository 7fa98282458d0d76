// Package logging builds echocap's zap loggers and masks secrets before they
// reach a log line.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr at the given level.
// JSON output is used for machine consumers (the MCP server); the console
// encoder is used for interactive commands.
func New(level string, json bool) (*zap.Logger, error) {
	return build(level, json)
}

func build(level string, json bool, opts ...zap.Option) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	// Redact wraps last so it sees fields before any other core does
	opts = append(opts, zap.WrapCore(Redact))
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("echocap"), nil
}

// ParseLevel maps a config log level to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// MaskToken redacts a device token for logging.
// Only the last four characters survive, e.g. "****AB3F".
func MaskToken(token string) string {
	if len(token) < 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

// Bytes describes a binary payload by size only.
func Bytes(key string, data []byte) zap.Field {
	return zap.String(key, fmt.Sprintf("[BINARY: %d bytes]", len(data)))
}

var sensitiveKeys = []string{"token", "key", "secret"}

// Redact wraps core so string fields whose name ends in token, key or
// secret are masked with MaskToken and binary fields are reduced to their
// size. New applies it to every logger it builds.
func Redact(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

type redactingCore struct {
	zapcore.Core
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		r, changed := redactField(f)
		if !changed {
			if out != nil {
				out = append(out, f)
			}
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, i, len(fields))
			copy(out, fields[:i])
		}
		out = append(out, r)
	}
	if out == nil {
		return fields
	}
	return out
}

func redactField(f zapcore.Field) (zapcore.Field, bool) {
	switch f.Type {
	case zapcore.StringType:
		if isSensitive(f.Key) {
			return zap.String(f.Key, MaskToken(f.String)), true
		}
	case zapcore.BinaryType:
		if data, ok := f.Interface.([]byte); ok {
			return Bytes(f.Key, data), true
		}
	}
	return f, false
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}
