package db

import (
	"bytes"
	"context"
	"testing"

	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

func TestRecordings_SaveGetList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := &recording.Recording{ID: "01A", Kind: recording.KindVoice, Timestamp: 1000, ByteSize: 3, DurationSeconds: 1.5, Encrypted: true}
	newer := &recording.Recording{ID: "01B", Kind: recording.KindVideo, Timestamp: 2000, ByteSize: 4, DurationSeconds: 2, Encrypted: true}

	if err := s.SaveRecording(ctx, older, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SaveRecording() error = %v", err)
	}
	if err := s.SaveRecording(ctx, newer, []byte{4, 5, 6, 7}); err != nil {
		t.Fatalf("SaveRecording() error = %v", err)
	}

	got, blob, err := s.GetRecording(ctx, "01A")
	if err != nil {
		t.Fatalf("GetRecording() error = %v", err)
	}
	if *got != *older {
		t.Errorf("GetRecording() = %+v, want %+v", got, older)
	}
	if !bytes.Equal(blob, []byte{1, 2, 3}) {
		t.Errorf("ciphertext = %v", blob)
	}

	list, err := s.ListRecordings(ctx)
	if err != nil {
		t.Fatalf("ListRecordings() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListRecordings() len = %d, want 2", len(list))
	}
	if list[0].ID != "01B" || list[1].ID != "01A" {
		t.Errorf("ListRecordings() order = [%s %s], want newest first", list[0].ID, list[1].ID)
	}

	if err := s.DeleteRecording(ctx, "01A"); err != nil {
		t.Fatalf("DeleteRecording() error = %v", err)
	}
	if _, _, err := s.GetRecording(ctx, "01A"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetRecording() after delete error = %v, want NOT_FOUND", err)
	}
}

func TestListRecordings_Empty(t *testing.T) {
	s := openTestStore(t)

	list, err := s.ListRecordings(context.Background())
	if err != nil {
		t.Fatalf("ListRecordings() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListRecordings() = %v, want empty", list)
	}
}

func TestVoiceSamples_SaveListClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	samples := []*recording.VoiceSample{
		{ID: "s2", Phrase: "start recording", Audio: []byte("bbbb"), Timestamp: 20},
		{ID: "s1", Phrase: "start recording", Audio: []byte("aaa"), Timestamp: 10},
	}
	for _, vs := range samples {
		if err := s.SaveVoiceSample(ctx, vs); err != nil {
			t.Fatalf("SaveVoiceSample() error = %v", err)
		}
	}

	list, err := s.ListVoiceSamples(ctx)
	if err != nil {
		t.Fatalf("ListVoiceSamples() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListVoiceSamples() len = %d, want 2", len(list))
	}
	if list[0].ID != "s1" || string(list[0].Audio) != "aaa" {
		t.Errorf("first sample = %+v, want s1 with audio", list[0])
	}
	if list[1].Phrase != "start recording" {
		t.Errorf("Phrase = %q", list[1].Phrase)
	}

	n, err := s.ClearVoiceSamples(ctx)
	if err != nil {
		t.Fatalf("ClearVoiceSamples() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearVoiceSamples() = %d, want 2", n)
	}
	list, err = s.ListVoiceSamples(ctx)
	if err != nil {
		t.Fatalf("ListVoiceSamples() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListVoiceSamples() after clear = %d, want 0", len(list))
	}
}

func TestDeviceToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetDeviceToken(ctx); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("GetDeviceToken() before save error = %v, want NOT_FOUND", err)
	}

	tok := &recording.DeviceToken{Token: "ABCDEF", CreatedAt: 99}
	if err := s.SaveDeviceToken(ctx, tok); err != nil {
		t.Fatalf("SaveDeviceToken() error = %v", err)
	}

	got, err := s.GetDeviceToken(ctx)
	if err != nil {
		t.Fatalf("GetDeviceToken() error = %v", err)
	}
	if *got != *tok {
		t.Errorf("GetDeviceToken() = %+v, want %+v", got, tok)
	}

	rec, err := s.Get(ctx, DeviceToken, DeviceTokenID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.ID != "device_token" {
		t.Errorf("stored id = %q, want device_token", rec.ID)
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSettings(ctx); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("GetSettings() before save error = %v, want NOT_FOUND", err)
	}

	settings := recording.DefaultSettings()
	settings.StartPhrase = "begin"
	settings.ActivationEnabled = true
	if err := s.SaveSettings(ctx, &settings); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	settings.Theme = recording.ThemeDark
	if err := s.SaveSettings(ctx, &settings); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if *got != settings {
		t.Errorf("GetSettings() = %+v, want %+v", got, settings)
	}

	rec, err := s.Get(ctx, Settings, "app_settings")
	if err != nil {
		t.Fatalf("Get(app_settings) error = %v", err)
	}
	if len(rec.Blob) != 0 {
		t.Errorf("settings blob = %v, want empty", rec.Blob)
	}
}
