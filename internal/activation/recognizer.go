package activation

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/echocap/internal/errors"
)

// Event is one item from a recognition feed. Err, when set, is a
// recognition error; Text and Final are unset in that case.
type Event struct {
	Text  string
	Final bool
	Err   error
}

// Recognizer opens continuous speech recognition feeds.
type Recognizer interface {
	// Subscribe starts a feed. NOT_SUPPORTED means the device cannot
	// recognize speech at all; PERMISSION_DENIED means microphone access
	// was refused. Any other error is treated as transient.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is one open feed. Events is closed when the feed ends,
// expectedly or not.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// RecognitionError is a non-fatal recognizer error such as "no-speech" or
// "aborted". These are expected during silence and are not reported.
type RecognitionError struct {
	Code string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition error: %s", e.Code)
}

// Line prefixes understood by ParseLine.
const (
	partialPrefix = "partial:"
	finalPrefix   = "final:"
	errorPrefix   = "error:"
)

// ParseLine turns one line of recognizer output into an Event.
// Plain lines (or "final:" lines) are final transcripts, "partial:" lines
// are interim, and "error:<code>" lines carry a recognition error.
// ok is false for blank lines.
func ParseLine(line string) (ev Event, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, errorPrefix):
		code := strings.ToLower(strings.TrimSpace(line[len(errorPrefix):]))
		return Event{Err: classifyCode(code)}, true
	case strings.HasPrefix(lower, partialPrefix):
		return Event{Text: strings.TrimSpace(line[len(partialPrefix):])}, true
	case strings.HasPrefix(lower, finalPrefix):
		return Event{Text: strings.TrimSpace(line[len(finalPrefix):]), Final: true}, true
	}
	return Event{Text: line, Final: true}, true
}

func classifyCode(code string) error {
	switch code {
	case "not-allowed", "service-not-allowed":
		return errors.NewPermissionDenied("microphone", &RecognitionError{Code: code})
	}
	return &RecognitionError{Code: code}
}

// isTerminal reports whether err should stop the engine instead of being retried.
func isTerminal(err error) bool {
	return errors.Is(err, errors.ErrPermissionDenied) || errors.Is(err, errors.ErrNotSupported)
}
