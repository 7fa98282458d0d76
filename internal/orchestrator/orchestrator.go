// Package orchestrator connects voice activation to the capture session:
// a start trigger begins a capture, a stop trigger finalizes it, and the
// result is encrypted and stored.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/activation"
	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/metrics"
	"github.com/hpungsan/echocap/internal/ops"
	"github.com/hpungsan/echocap/internal/recording"
)

// shutdownTimeout bounds the final stop-and-save when Run exits mid-capture.
const shutdownTimeout = 15 * time.Second

// Orchestrator owns the activation engine and drives the session from its
// triggers.
type Orchestrator struct {
	store   *db.Store
	enc     crypt.Provider
	session *capture.Session
	engine  *activation.Engine
	logger  *zap.Logger
	onError func(error)
	onSaved func(*recording.Recording)

	// serializes trigger handling with shutdown
	mu sync.Mutex

	// captures whose save failed, held so a newer capture cannot replace them
	unsaved []*capture.Capture

	terminal chan error
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	restartDelay time.Duration
	onError      func(error)
	onSaved      func(*recording.Recording)
}

// WithLogger sets the logger for the orchestrator and its engine.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRestartDelay sets the recognizer resubscribe delay.
func WithRestartDelay(d time.Duration) Option {
	return func(o *options) { o.restartDelay = d }
}

// WithErrorHandler sets a hook called for every failure the orchestrator
// reports: capture start/stop failures, save failures, and terminal
// activation errors.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithSavedHandler sets a hook called after each recording is stored.
func WithSavedHandler(fn func(*recording.Recording)) Option {
	return func(o *options) { o.onSaved = fn }
}

// New returns an orchestrator listening through recognizer.
func New(store *db.Store, enc crypt.Provider, session *capture.Session, recognizer activation.Recognizer, opts ...Option) *Orchestrator {
	cfg := options{
		logger:  zap.NewNop(),
		onError: func(error) {},
		onSaved: func(*recording.Recording) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Orchestrator{
		store:    store,
		enc:      enc,
		session:  session,
		logger:   cfg.logger,
		onError:  cfg.onError,
		onSaved:  cfg.onSaved,
		terminal: make(chan error, 1),
	}
	o.engine = activation.NewEngine(recognizer,
		activation.WithRestartDelay(cfg.restartDelay),
		activation.WithLogger(cfg.logger.Named("activation")),
		activation.WithErrorHandler(o.activationFailed),
	)
	return o
}

// Engine returns the activation engine.
func (o *Orchestrator) Engine() *activation.Engine {
	return o.engine
}

// Enable starts listening for the stored phrases and records that
// activation is on. Triggers are handled with ctx.
func (o *Orchestrator) Enable(ctx context.Context) error {
	settings, err := ops.GetSettings(ctx, o.store)
	if err != nil {
		return err
	}

	onTrigger := func(t activation.Trigger) { o.HandleTrigger(ctx, t) }
	if err := o.engine.Enable(ctx, settings.StartPhrase, settings.StopPhrase, onTrigger); err != nil {
		return err
	}

	if !settings.ActivationEnabled {
		if err := o.persistEnabled(ctx, true); err != nil {
			o.engine.Disable()
			o.engine.Wait()
			return err
		}
	}
	return nil
}

// Disable stops listening, waits for the engine to wind down, and records
// that activation is off.
func (o *Orchestrator) Disable(ctx context.Context) error {
	o.engine.Disable()
	o.engine.Wait()
	return o.persistEnabled(ctx, false)
}

// Run enables activation and blocks until ctx is done or activation fails
// terminally. A capture still in progress on exit is stopped and saved.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Drop a failure left over from an earlier run
	select {
	case <-o.terminal:
	default:
	}

	if err := o.Enable(ctx); err != nil {
		return err
	}
	o.logger.Info("listening for trigger phrases")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-o.terminal:
		if err := o.persistEnabled(context.WithoutCancel(ctx), false); err != nil {
			o.logger.Warn("failed to record activation state", zap.Error(err))
		}
	}

	o.engine.Disable()
	o.engine.Wait()
	o.shutdown(context.WithoutCancel(ctx))
	return runErr
}

// HandleTrigger applies one trigger to the session. Start is only honoured
// while Idle and Stop only while Recording; anything else is ignored.
func (o *Orchestrator) HandleTrigger(ctx context.Context, t activation.Trigger) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := o.session.State()
	switch {
	case t == activation.Start && state == capture.Idle:
		o.start(ctx)
	case t == activation.Stop && state == capture.Recording:
		o.stop(ctx)
	default:
		o.logger.Debug("trigger ignored",
			zap.Stringer("trigger", t),
			zap.Stringer("state", state),
		)
	}
}

// RetryPending saves every capture left unsaved by an earlier failure and
// returns the recordings it stored. Captures that fail again stay held.
func (o *Orchestrator) RetryPending(ctx context.Context) ([]*recording.Recording, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retryLocked(ctx)
}

// Unsaved returns how many captures are waiting for a successful save.
func (o *Orchestrator) Unsaved() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.unsaved)
	if o.session.Pending() != nil {
		n++
	}
	return n
}

// retryLocked moves the session's pending capture into o.unsaved, then
// tries to save each held capture in capture order.
func (o *Orchestrator) retryLocked(ctx context.Context) ([]*recording.Recording, error) {
	if c := o.session.Pending(); c != nil {
		o.unsaved = append(o.unsaved, c)
		o.session.Clear()
	}
	if len(o.unsaved) == 0 {
		return nil, nil
	}

	var (
		saved     []*recording.Recording
		remaining []*capture.Capture
		firstErr  error
	)
	for _, c := range o.unsaved {
		rec, err := o.save(ctx, c)
		if err != nil {
			remaining = append(remaining, c)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if rec != nil {
			saved = append(saved, rec)
		}
	}
	o.unsaved = remaining
	return saved, firstErr
}

func (o *Orchestrator) start(ctx context.Context) {
	// Failures are reported by save; whatever is left stays held
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	_, _ = o.retryLocked(saveCtx)
	cancel()

	settings, err := ops.GetSettings(ctx, o.store)
	if err != nil {
		o.report(err)
		return
	}
	if err := o.session.Start(ctx, settings.CaptureMode); err != nil {
		o.report(err)
		return
	}
	o.logger.Info("recording started", zap.String("mode", string(settings.CaptureMode)))
}

// stop finalizes and saves the capture. Both run detached from ctx so a
// cancellation arriving mid-stop cannot discard the recording.
func (o *Orchestrator) stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	c, err := o.session.Stop(ctx)
	if err != nil {
		o.report(err)
		return
	}
	if c == nil {
		return
	}
	_, _ = o.save(ctx, c)
}

// save encrypts and stores c, clearing the session buffer only on success
// so a failed save can be retried.
func (o *Orchestrator) save(ctx context.Context, c *capture.Capture) (*recording.Recording, error) {
	if len(c.Data) == 0 {
		o.logger.Warn("discarding empty capture", zap.String("mode", string(c.Mode)))
		o.session.Clear()
		return nil, nil
	}

	rec, err := ops.SaveCapture(ctx, o.store, o.enc, c)
	if err != nil {
		o.report(err)
		return nil, err
	}
	o.session.Clear()

	o.logger.Info("recording saved",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Kind)),
		zap.Int("size", rec.ByteSize),
		zap.Float64("duration", rec.DurationSeconds),
	)
	o.onSaved(rec)
	return rec, nil
}

func (o *Orchestrator) shutdown(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session.State() == capture.Recording {
		o.logger.Info("stopping capture in progress")
		o.stop(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if _, err := o.retryLocked(ctx); err != nil {
		o.logger.Warn("captures left unsaved at shutdown", zap.Int("count", len(o.unsaved)))
	}
}

func (o *Orchestrator) persistEnabled(ctx context.Context, enabled bool) error {
	_, err := ops.UpdateSettings(ctx, o.store, ops.SettingsInput{ActivationEnabled: &enabled})
	return err
}

// activationFailed runs on the engine loop after it has dropped to Disabled.
func (o *Orchestrator) activationFailed(err error) {
	o.report(err)
	select {
	case o.terminal <- err:
	default:
	}
}

func (o *Orchestrator) report(err error) {
	code := string(errors.ErrInternal)
	if e, ok := errors.As(err); ok {
		code = string(e.Code)
	}
	metrics.RecordFailure(code)
	o.logger.Warn("pipeline failure", zap.String("code", code), zap.Error(err))
	o.onError(err)
}
