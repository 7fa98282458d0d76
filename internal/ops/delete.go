package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
)

// DeleteInput contains parameters for the DeleteRecording operation.
type DeleteInput struct {
	ID string
}

// DeleteOutput contains the result of the DeleteRecording operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// DeleteRecording permanently removes one recording and its ciphertext.
func DeleteRecording(ctx context.Context, store *db.Store, input DeleteInput) (*DeleteOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	if err := store.DeleteRecording(ctx, id); err != nil {
		return nil, err
	}

	return &DeleteOutput{
		Deleted: true,
		ID:      id,
	}, nil
}
