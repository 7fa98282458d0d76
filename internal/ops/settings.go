package ops

import (
	"context"

	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// SettingsInput contains the fields to change. Nil fields keep their
// current value.
type SettingsInput struct {
	StartPhrase       *string
	StopPhrase        *string
	CaptureMode       *string
	ActivationEnabled *bool
	Theme             *string
}

// GetSettings returns the stored settings, or the defaults when none have
// been saved yet.
func GetSettings(ctx context.Context, store *db.Store) (*recording.Settings, error) {
	s, err := store.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			d := recording.DefaultSettings()
			return &d, nil
		}
		return nil, err
	}
	return s, nil
}

// UpdateSettings applies input over the current settings, validates the
// result, and overwrites the singleton.
func UpdateSettings(ctx context.Context, store *db.Store, input SettingsInput) (*recording.Settings, error) {
	s, err := GetSettings(ctx, store)
	if err != nil {
		return nil, err
	}

	if input.StartPhrase != nil {
		s.StartPhrase = *input.StartPhrase
	}
	if input.StopPhrase != nil {
		s.StopPhrase = *input.StopPhrase
	}
	if input.CaptureMode != nil {
		kind, err := recording.ParseKind(*input.CaptureMode)
		if err != nil {
			return nil, err
		}
		s.CaptureMode = kind
	}
	if input.ActivationEnabled != nil {
		s.ActivationEnabled = *input.ActivationEnabled
	}
	if input.Theme != nil {
		s.Theme = recording.Theme(*input.Theme)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := store.SaveSettings(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
