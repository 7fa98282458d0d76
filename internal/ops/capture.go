package ops

import (
	"context"
	"time"

	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// stopTimeout bounds how long a timed capture waits for the device to
// finalize after the caller's context is gone.
const stopTimeout = 10 * time.Second

// CaptureFor records mode for d and returns the finalized capture. If ctx
// ends first the session is still stopped and the partial capture discarded.
// The capture stays pending on the session until the caller clears it.
func CaptureFor(ctx context.Context, session *capture.Session, mode recording.Kind, d time.Duration) (*capture.Capture, error) {
	if d <= 0 {
		return nil, errors.NewInvalidRequest("duration must be positive")
	}
	if err := session.Start(ctx, mode); err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if _, err := session.Stop(stopCtx); err != nil {
			return nil, err
		}
		session.Clear()
		return nil, errors.NewCancelled("capture")
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	c, err := session.Stop(stopCtx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.NewInvalidState("capture", "stop", capture.Idle.String())
	}
	return c, nil
}
