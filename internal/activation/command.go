package activation

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/errors"
)

const recognizerHint = "set recognizer_command in ~/.echocap/config.json to a local speech-to-text program that prints one transcript per line"

// CommandRecognizer runs a local speech-to-text program (a whisper.cpp or
// vosk streaming binary, for example) and reads one transcript per stdout
// line. Each Subscribe starts a fresh process; process exit ends the feed.
type CommandRecognizer struct {
	argv   []string
	logger *zap.Logger
}

// NewCommandRecognizer returns a recognizer for argv. An empty argv makes
// every Subscribe fail with NOT_SUPPORTED.
func NewCommandRecognizer(argv []string, logger *zap.Logger) *CommandRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandRecognizer{argv: argv, logger: logger}
}

// Subscribe starts the recognizer process.
func (r *CommandRecognizer) Subscribe(ctx context.Context) (Subscription, error) {
	if len(r.argv) == 0 {
		return nil, errors.NewNotSupported("voice activation", recognizerHint)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.NewInternal(err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		r.logger.Warn("recognizer failed to start", zap.String("program", r.argv[0]), zap.Error(err))
		return nil, classifyStartError(r.argv[0], err)
	}

	sub := &cmdSubscription{
		events: make(chan Event),
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			ev, ok := ParseLine(scanner.Text())
			if !ok {
				continue
			}
			select {
			case sub.events <- ev:
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			}
		}
		err := cmd.Wait()
		r.logger.Debug("recognizer exited", zap.Error(err))
	}()

	return sub, nil
}

// classifyStartError maps a failed process start to an engine error.
// A missing program or a denied exec is terminal; anything else is left
// plain so the engine retries.
func classifyStartError(program string, err error) error {
	switch {
	case stderrors.Is(err, exec.ErrNotFound), stderrors.Is(err, os.ErrNotExist):
		return errors.NewNotSupported("voice activation", recognizerHint)
	case stderrors.Is(err, os.ErrPermission):
		return errors.NewPermissionDenied(program, err)
	}
	return fmt.Errorf("start recognizer %s: %w", program, err)
}

type cmdSubscription struct {
	events chan Event
	cancel context.CancelFunc
	once   sync.Once
}

func (s *cmdSubscription) Events() <-chan Event {
	return s.events
}

// Close kills the recognizer process. The events channel closes once the
// reader goroutine has exited.
func (s *cmdSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}
