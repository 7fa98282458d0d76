package db

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// Fixed ids of the singleton collections.
const (
	SettingsID    = "app_settings"
	DeviceTokenID = "device_token"
)

// SaveRecording stores recording metadata together with its ciphertext.
func (s *Store) SaveRecording(ctx context.Context, r *recording.Recording, ciphertext []byte) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.Put(ctx, Recordings, Record{ID: r.ID, Doc: doc, Blob: ciphertext, UpdatedAt: r.Timestamp})
}

// GetRecording returns one recording's metadata and ciphertext.
func (s *Store) GetRecording(ctx context.Context, id string) (*recording.Recording, []byte, error) {
	rec, err := s.Get(ctx, Recordings, id)
	if err != nil {
		return nil, nil, err
	}
	r, err := decodeRecording(rec)
	if err != nil {
		return nil, nil, err
	}
	return r, rec.Blob, nil
}

// ListRecordings returns recording metadata, newest first. Ciphertext is not loaded.
func (s *Store) ListRecordings(ctx context.Context) ([]recording.Recording, error) {
	recs, err := s.Docs(ctx, Recordings)
	if err != nil {
		return nil, err
	}

	out := make([]recording.Recording, 0, len(recs))
	for i := range recs {
		r, err := decodeRecording(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}

	// Newest first; id breaks timestamp ties (ULIDs sort by creation time)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeleteRecording removes one recording.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	return s.Delete(ctx, Recordings, id)
}

// SaveVoiceSample stores a training sample; the audio goes in the blob column.
func (s *Store) SaveVoiceSample(ctx context.Context, vs *recording.VoiceSample) error {
	doc, err := json.Marshal(vs)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.Put(ctx, VoiceSamples, Record{ID: vs.ID, Doc: doc, Blob: vs.Audio, UpdatedAt: vs.Timestamp})
}

// ListVoiceSamples returns every stored sample, oldest first.
func (s *Store) ListVoiceSamples(ctx context.Context) ([]recording.VoiceSample, error) {
	recs, err := s.GetAll(ctx, VoiceSamples)
	if err != nil {
		return nil, err
	}

	out := make([]recording.VoiceSample, 0, len(recs))
	for _, rec := range recs {
		var vs recording.VoiceSample
		if err := json.Unmarshal(rec.Doc, &vs); err != nil {
			return nil, errors.NewStorage("decode", VoiceSamples, err)
		}
		vs.Audio = rec.Blob
		out = append(out, vs)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ClearVoiceSamples removes all training samples.
func (s *Store) ClearVoiceSamples(ctx context.Context) (int, error) {
	return s.Clear(ctx, VoiceSamples)
}

// SaveDeviceToken stores the device token singleton.
func (s *Store) SaveDeviceToken(ctx context.Context, tok *recording.DeviceToken) error {
	doc, err := json.Marshal(tok)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.Put(ctx, DeviceToken, Record{ID: DeviceTokenID, Doc: doc, UpdatedAt: tok.CreatedAt})
}

// GetDeviceToken returns the device token or NOT_FOUND if the device is unregistered.
func (s *Store) GetDeviceToken(ctx context.Context) (*recording.DeviceToken, error) {
	rec, err := s.Get(ctx, DeviceToken, DeviceTokenID)
	if err != nil {
		return nil, err
	}
	var tok recording.DeviceToken
	if err := json.Unmarshal(rec.Doc, &tok); err != nil {
		return nil, errors.NewStorage("decode", DeviceToken, err)
	}
	return &tok, nil
}

// SaveSettings overwrites the settings singleton.
func (s *Store) SaveSettings(ctx context.Context, settings *recording.Settings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.Put(ctx, Settings, Record{ID: SettingsID, Doc: doc})
}

// GetSettings returns the stored settings or NOT_FOUND if none were saved.
func (s *Store) GetSettings(ctx context.Context) (*recording.Settings, error) {
	rec, err := s.Get(ctx, Settings, SettingsID)
	if err != nil {
		return nil, err
	}
	settings := recording.DefaultSettings()
	if err := json.Unmarshal(rec.Doc, &settings); err != nil {
		return nil, errors.NewStorage("decode", Settings, err)
	}
	return &settings, nil
}

func decodeRecording(rec *Record) (*recording.Recording, error) {
	var r recording.Recording
	if err := json.Unmarshal(rec.Doc, &r); err != nil {
		return nil, errors.NewStorage("decode", Recordings, err)
	}
	return &r, nil
}
