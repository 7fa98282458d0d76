// Package testutil provides in-memory fakes for the capture device and the
// speech recognizer.
package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// FakeDevice is an exclusive capture.Device whose streams are fed by the test.
type FakeDevice struct {
	mu         sync.Mutex
	acquireErr error
	held       bool
	streams    []*FakeStream
	releases   int
}

// NewFakeDevice returns an idle fake device.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{}
}

// FailAcquire makes every later Acquire return err. Pass nil to reset.
func (d *FakeDevice) FailAcquire(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireErr = err
}

// Acquire implements capture.Device.
func (d *FakeDevice) Acquire(ctx context.Context, mode recording.Kind) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	if d.held {
		return nil, errors.NewDeviceUnavailable("microphone", io.ErrNoProgress)
	}
	d.held = true

	s := &FakeStream{
		Mode:      mode,
		device:    d,
		data:      make(chan []byte, 64),
		errs:      make(chan error, 1),
		finalized: make(chan struct{}),
		released:  make(chan struct{}),
	}
	d.streams = append(d.streams, s)
	return s, nil
}

// Held reports whether a stream is currently acquired.
func (d *FakeDevice) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// Acquisitions returns how many streams were handed out.
func (d *FakeDevice) Acquisitions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Releases returns how many streams were released.
func (d *FakeDevice) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

// Last returns the most recent stream, or nil.
func (d *FakeDevice) Last() *FakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// FakeStream is a capture.Stream driven by Push and Fail.
type FakeStream struct {
	Mode recording.Kind

	device    *FakeDevice
	data      chan []byte
	errs      chan error
	finalized chan struct{}
	released  chan struct{}

	finalizeOnce sync.Once
	releaseOnce  sync.Once

	// owned by the single reader
	buf []byte
	eof bool
}

// Push delivers a chunk of media bytes.
func (s *FakeStream) Push(b []byte) {
	s.data <- append([]byte(nil), b...)
}

// Fail makes the next Read return err once buffered data is consumed.
func (s *FakeStream) Fail(err error) {
	s.errs <- err
}

// Read implements io.Reader.
func (s *FakeStream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		select {
		case b := <-s.data:
			s.buf = b
		case err := <-s.errs:
			return 0, err
		case <-s.finalized:
			s.eof = true
			s.drain()
		case <-s.released:
			s.eof = true
			s.drain()
		}
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *FakeStream) drain() {
	for {
		select {
		case b := <-s.data:
			s.buf = append(s.buf, b...)
		default:
			return
		}
	}
}

// Finalize implements capture.Stream.
func (s *FakeStream) Finalize() error {
	s.finalizeOnce.Do(func() { close(s.finalized) })
	return nil
}

// Release implements capture.Stream.
func (s *FakeStream) Release() error {
	s.releaseOnce.Do(func() {
		close(s.released)
		s.device.mu.Lock()
		s.device.held = false
		s.device.releases++
		s.device.mu.Unlock()
	})
	return nil
}

// Released reports whether Release has been called.
func (s *FakeStream) Released() bool {
	select {
	case <-s.released:
		return true
	default:
		return false
	}
}
