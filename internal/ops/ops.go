// Package ops implements the operations shared by the CLI, the MCP server,
// and the orchestrator. Each operation takes its collaborators explicitly
// and returns JSON-tagged output structs.
package ops

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
)

// newID returns a new ULID string.
func newID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to generate id: %w", err))
	}
	return id.String(), nil
}

// loadToken returns the device token, or NOT_INITIALIZED when the device
// has not been registered yet.
func loadToken(ctx context.Context, store *db.Store, op string) (string, error) {
	tok, err := store.GetDeviceToken(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			e := errors.NewNotInitialized(op)
			e.Message = fmt.Sprintf("device not registered before %s", op)
			e.Hint = "run `echocap register` first"
			return "", e
		}
		return "", err
	}
	return tok.Token, nil
}
