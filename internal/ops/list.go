package ops

import (
	"context"

	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/recording"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination describes the window returned by a list operation.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// ListInput contains parameters for the ListRecordings operation.
type ListInput struct {
	Kind   string // optional filter: voice or video
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// ListOutput contains the result of the ListRecordings operation.
type ListOutput struct {
	Items      []recording.Recording `json:"items"`
	Pagination Pagination            `json:"pagination"`
	Sort       string                `json:"sort"`
}

// ListRecordings returns recording metadata, newest first.
func ListRecordings(ctx context.Context, store *db.Store, input ListInput) (*ListOutput, error) {
	var kind recording.Kind
	if input.Kind != "" {
		k, err := recording.ParseKind(input.Kind)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	all, err := store.ListRecordings(ctx)
	if err != nil {
		return nil, err
	}

	if kind != "" {
		filtered := all[:0]
		for _, r := range all {
			if r.Kind == kind {
				filtered = append(filtered, r)
			}
		}
		all = filtered
	}

	total := len(all)
	items := []recording.Recording{}
	if offset < total {
		end := min(offset+limit, total)
		items = append(items, all[offset:end]...)
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "timestamp_desc",
	}, nil
}
