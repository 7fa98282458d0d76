// Package activation listens to a speech recognition feed and fires start
// and stop triggers when the configured phrases are heard.
package activation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/metrics"
	"github.com/hpungsan/echocap/internal/recording"
)

// DefaultRestartDelay is the pause before re-subscribing after the feed ends.
const DefaultRestartDelay = time.Second

// Trigger is a matched phrase.
type Trigger int

const (
	Start Trigger = iota + 1
	Stop
)

func (t Trigger) String() string {
	switch t {
	case Start:
		return "start"
	case Stop:
		return "stop"
	}
	return "none"
}

// State is the engine lifecycle state.
type State int

const (
	Disabled State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "disabled"
}

// Match tests a transcript against the phrases. The start phrase wins when
// both appear; at most one trigger is produced. Phrases must already be
// normalized.
func Match(transcript, startPhrase, stopPhrase string) (Trigger, bool) {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if startPhrase != "" && strings.Contains(text, startPhrase) {
		return Start, true
	}
	if stopPhrase != "" && strings.Contains(text, stopPhrase) {
		return Stop, true
	}
	return 0, false
}

// Engine is the voice activation state machine. While Listening it owns a
// single event loop goroutine; triggers and the error hook run on it in
// feed order.
type Engine struct {
	recognizer Recognizer
	delay      time.Duration
	logger     *zap.Logger
	onError    func(error)

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRestartDelay sets the resubscribe delay.
func WithRestartDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithErrorHandler sets the hook for terminal errors (PERMISSION_DENIED or
// NOT_SUPPORTED) that arrive after Enable has returned. The engine is
// already Disabled when it runs.
func WithErrorHandler(fn func(error)) EngineOption {
	return func(e *Engine) { e.onError = fn }
}

// NewEngine returns a disabled engine over r.
func NewEngine(r Recognizer, opts ...EngineOption) *Engine {
	e := &Engine{
		recognizer: r,
		delay:      DefaultRestartDelay,
		logger:     zap.NewNop(),
		onError:    func(error) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State reports the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Enable subscribes to the recognizer and starts listening. Terminal
// errors from the first subscription are returned and the engine stays
// Disabled. A transient first failure is retried like a dropped feed.
// Cancelling ctx has the same effect as Disable.
func (e *Engine) Enable(ctx context.Context, startPhrase, stopPhrase string, onTrigger func(Trigger)) error {
	start := recording.NormalizePhrase(startPhrase)
	stop := recording.NormalizePhrase(stopPhrase)
	if start == "" || stop == "" {
		return errors.NewInvalidRequest("start and stop phrases are required")
	}
	if onTrigger == nil {
		return errors.NewInvalidRequest("trigger callback is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Disabled {
		return errors.NewInvalidState("activation", "enable", e.state.String())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sub, err := e.recognizer.Subscribe(loopCtx)
	if err != nil {
		if isTerminal(err) {
			cancel()
			return err
		}
		e.logger.Debug("initial subscribe failed, will retry", zap.Error(err))
		sub = nil
	}

	e.gen++
	e.state = Listening
	e.cancel = cancel
	e.done = make(chan struct{})

	l := &loop{
		engine:    e,
		gen:       e.gen,
		start:     start,
		stop:      stop,
		onTrigger: onTrigger,
		done:      e.done,
	}
	go l.run(loopCtx, sub)

	e.logger.Debug("activation enabled", zap.String("start", start), zap.String("stop", stop))
	return nil
}

// Disable stops listening, closes the feed and cancels any pending
// restart. It is a no-op while Disabled. It does not wait for an in-flight
// trigger callback to return; use Wait for that.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Disabled {
		return
	}
	e.cancel()
	e.state = Disabled
	e.cancel = nil
	e.logger.Debug("activation disabled")
}

// Wait blocks until the most recent event loop has exited.
// Never call it from a trigger callback.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// drop moves the engine to Disabled if gen is still the active loop.
func (e *Engine) drop(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.state == Disabled {
		return false
	}
	e.cancel()
	e.state = Disabled
	e.cancel = nil
	return true
}

type loop struct {
	engine    *Engine
	gen       uint64
	start     string
	stop      string
	onTrigger func(Trigger)
	done      chan struct{}
}

func (l *loop) run(ctx context.Context, sub Subscription) {
	defer close(l.done)
	e := l.engine
	defer e.drop(l.gen)

	for {
		if sub != nil {
			err := l.consume(ctx, sub)
			_ = sub.Close()
			if err != nil {
				l.terminate(err)
				return
			}
		}

		if ctx.Err() != nil {
			return
		}

		e.logger.Debug("recognition feed ended, restarting", zap.Duration("delay", e.delay))
		timer := time.NewTimer(e.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		metrics.RecordRestart()
		var err error
		sub, err = e.recognizer.Subscribe(ctx)
		if err != nil {
			if isTerminal(err) {
				l.terminate(err)
				return
			}
			e.logger.Debug("resubscribe failed", zap.Error(err))
			sub = nil
			continue
		}
		e.logger.Info("recognition feed restarted")
	}
}

// consume reads one subscription until it ends. It returns a terminal
// error or nil when the feed closed or ctx was cancelled.
func (l *loop) consume(ctx context.Context, sub Subscription) error {
	e := l.engine
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				if isTerminal(ev.Err) {
					return ev.Err
				}
				e.logger.Debug("transient recognition error", zap.Error(ev.Err))
				continue
			}
			if !ev.Final {
				continue
			}
			trigger, ok := Match(ev.Text, l.start, l.stop)
			if !ok {
				continue
			}
			// Disable may have raced with this event
			if ctx.Err() != nil {
				return nil
			}
			metrics.RecordTrigger(trigger.String())
			e.logger.Debug("trigger", zap.Stringer("trigger", trigger))
			l.onTrigger(trigger)
		}
	}
}

func (l *loop) terminate(err error) {
	e := l.engine
	if !e.drop(l.gen) {
		return
	}
	e.logger.Warn("activation stopped", zap.Error(err))
	e.onError(err)
}
