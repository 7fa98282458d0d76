package ops

import (
	"context"

	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
	"github.com/hpungsan/echocap/internal/trainer"
)

// StatusOutput summarizes the device. It never includes the token itself.
type StatusOutput struct {
	Registered  bool                  `json:"registered"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	Recordings  int                   `json:"recordings"`
	Settings    *recording.Settings   `json:"settings"`
	Training    *TrainingStatusOutput `json:"training"`
}

// DeviceStatus reports registration, recording count, settings, and
// training progress.
func DeviceStatus(ctx context.Context, store *db.Store, tr *trainer.Trainer) (*StatusOutput, error) {
	out := &StatusOutput{}

	tok, err := store.GetDeviceToken(ctx)
	switch {
	case err == nil:
		out.Registered = true
		out.Fingerprint = crypt.Fingerprint(tok.Token)
	case !errors.Is(err, errors.ErrNotFound):
		return nil, err
	}

	recs, err := store.ListRecordings(ctx)
	if err != nil {
		return nil, err
	}
	out.Recordings = len(recs)

	if out.Settings, err = GetSettings(ctx, store); err != nil {
		return nil, err
	}
	out.Training = TrainingStatus(tr)
	return out, nil
}
