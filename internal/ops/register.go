package ops

import (
	"context"
	"time"

	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// RegisterOutput contains the result of the Register operation.
// Token is only set when the token was created by this call.
type RegisterOutput struct {
	Created     bool   `json:"created"`
	Token       string `json:"token,omitempty"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   int64  `json:"created_at"`
}

// Register returns the device token, generating and storing it on first use.
// An existing token is never replaced.
func Register(ctx context.Context, store *db.Store) (*RegisterOutput, error) {
	tok, err := store.GetDeviceToken(ctx)
	if err == nil {
		return &RegisterOutput{
			Fingerprint: crypt.Fingerprint(tok.Token),
			CreatedAt:   tok.CreatedAt,
		}, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	token, err := crypt.GenerateDeviceToken()
	if err != nil {
		return nil, err
	}
	tok = &recording.DeviceToken{Token: token, CreatedAt: time.Now().UnixMilli()}
	if err := store.SaveDeviceToken(ctx, tok); err != nil {
		return nil, err
	}

	return &RegisterOutput{
		Created:     true,
		Token:       tok.Token,
		Fingerprint: crypt.Fingerprint(tok.Token),
		CreatedAt:   tok.CreatedAt,
	}, nil
}
