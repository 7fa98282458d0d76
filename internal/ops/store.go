package ops

import (
	"context"
	"time"

	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/metrics"
	"github.com/hpungsan/echocap/internal/recording"
)

// SaveCapture encrypts a finalized capture under the device token and
// persists it as a new recording. Nothing is written unless encryption
// succeeded, so every stored row is a sealed packet.
func SaveCapture(ctx context.Context, store *db.Store, enc crypt.Provider, c *capture.Capture) (*recording.Recording, error) {
	if c == nil || len(c.Data) == 0 {
		return nil, errors.NewInvalidRequest("capture is empty")
	}
	if _, err := recording.ParseKind(string(c.Mode)); err != nil {
		return nil, err
	}

	token, err := loadToken(ctx, store, "save recording")
	if err != nil {
		return nil, err
	}

	packet, err := enc.Encrypt(c.Data, token)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	id, err := newID(now)
	if err != nil {
		return nil, err
	}

	rec := &recording.Recording{
		ID:              id,
		Kind:            c.Mode,
		Timestamp:       now.UnixMilli(),
		ByteSize:        len(packet),
		DurationSeconds: c.Duration.Seconds(),
		Encrypted:       true,
	}
	if err := store.SaveRecording(ctx, rec, packet); err != nil {
		return nil, err
	}

	metrics.RecordSaved(string(rec.Kind), rec.ByteSize)
	return rec, nil
}
