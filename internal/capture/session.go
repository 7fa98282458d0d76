// Package capture owns the media capture session: one exclusive device
// stream at a time, buffered in arrival order and finalized into a single
// payload on stop.
package capture

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// DefaultChunkInterval is how often buffered bytes are cut into a chunk.
const DefaultChunkInterval = time.Second

const readBufferSize = 32 * 1024

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	}
	return "unknown"
}

// Capture is a finalized session payload.
type Capture struct {
	Data      []byte
	Mode      recording.Kind
	StartedAt time.Time
	Duration  time.Duration
}

// Session is the capture state machine. Safe for concurrent use.
type Session struct {
	device   Device
	interval time.Duration
	logger   *zap.Logger
	clock    func() time.Time

	mu        sync.Mutex
	state     State
	mode      recording.Kind
	startedAt time.Time
	stream    Stream
	chunks    [][]byte
	streamErr error
	done      chan struct{}
	pending   *Capture
}

// Option configures a Session.
type Option func(*Session)

// WithChunkInterval sets the chunk cut interval.
func WithChunkInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// NewSession returns an idle session over device.
func NewSession(device Device, opts ...Option) *Session {
	s := &Session{
		device:   device,
		interval: DefaultChunkInterval,
		logger:   zap.NewNop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the device and begins collecting chunks. Only valid while
// Idle; on any failure the session stays Idle and buffered data is untouched.
func (s *Session) Start(ctx context.Context, mode recording.Kind) error {
	if _, err := recording.ParseKind(string(mode)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return errors.NewInvalidState("capture", "start", s.state.String())
	}

	stream, err := s.device.Acquire(ctx, mode)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewDeviceUnavailable(deviceName(mode), err)
	}

	s.state = Recording
	s.mode = mode
	s.startedAt = s.clock()
	s.stream = stream
	s.chunks = nil
	s.streamErr = nil
	s.done = make(chan struct{})

	go s.collect(stream, s.done)

	s.logger.Debug("capture started", zap.String("mode", string(mode)))
	return nil
}

// Stop finalizes the active capture and returns it. The result is also kept
// as the pending buffer until Clear. Stop while Idle is a no-op returning
// (nil, nil).
func (s *Session) Stop(ctx context.Context) (*Capture, error) {
	s.mu.Lock()
	switch s.state {
	case Idle:
		s.mu.Unlock()
		return nil, nil
	case Finalizing:
		s.mu.Unlock()
		return nil, errors.NewInvalidState("capture", "stop", Finalizing.String())
	}
	s.state = Finalizing
	stream, done := s.stream, s.done
	stoppedAt := s.clock()
	s.mu.Unlock()

	if err := stream.Finalize(); err != nil {
		s.logger.Debug("finalize signal failed", zap.Error(err))
	}

	var cancelled bool
	select {
	case <-done:
	case <-ctx.Done():
		// Force the device closed so the collector unblocks
		cancelled = true
		_ = stream.Release()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, streamErr, mode, startedAt := s.chunks, s.streamErr, s.mode, s.startedAt
	s.state = Idle
	s.stream = nil
	s.chunks = nil
	s.streamErr = nil
	s.done = nil

	if cancelled {
		return nil, errors.NewCancelled("capture stop")
	}
	if streamErr != nil {
		return nil, errors.NewDeviceUnavailable(deviceName(mode), streamErr)
	}

	c := &Capture{
		Data:      bytes.Join(chunks, nil),
		Mode:      mode,
		StartedAt: startedAt,
		Duration:  stoppedAt.Sub(startedAt),
	}
	s.pending = c

	s.logger.Debug("capture finalized",
		zap.String("mode", string(mode)),
		zap.Int("chunks", len(chunks)),
		zap.Int("bytes", len(c.Data)),
		zap.Duration("duration", c.Duration),
	)
	return c, nil
}

// Pending returns the last finalized capture not yet cleared.
func (s *Session) Pending() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Clear discards the pending finalized capture.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// collect is the session's single reader. It cuts a chunk whenever the
// interval has elapsed and at end of stream, and releases the device on
// every exit path.
func (s *Session) collect(stream Stream, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := stream.Release(); err != nil {
			s.logger.Debug("device release failed", zap.Error(err))
		}
	}()

	buf := make([]byte, readBufferSize)
	var cur []byte
	lastCut := s.clock()

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			cur = append(cur, buf[:n]...)
		}
		if len(cur) > 0 && (err != nil || s.clock().Sub(lastCut) >= s.interval) {
			s.appendChunk(cur)
			cur = nil
			lastCut = s.clock()
		}
		if err != nil {
			if !stderrors.Is(err, io.EOF) {
				s.fail(err)
			}
			return
		}
	}
}

func (s *Session) appendChunk(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamErr = err
	s.logger.Warn("capture stream failed", zap.Error(err))
}

func deviceName(mode recording.Kind) string {
	if mode == recording.KindVideo {
		return "camera"
	}
	return "microphone"
}
