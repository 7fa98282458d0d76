package capture

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
)

// DefaultFinalizeGrace is how long a capture command may take to flush
// after the interrupt before it is killed.
const DefaultFinalizeGrace = 5 * time.Second

var errDeviceBusy = stderrors.New("device busy")

// CommandDevice captures by running a local program per mode (an ffmpeg or
// arecord pipeline) that writes encoded media to stdout until interrupted.
// At most one stream is held at a time, across both modes.
type CommandDevice struct {
	commands map[recording.Kind][]string
	grace    time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	held bool
}

// NewCommandDevice returns a device for the given audio and video argv.
func NewCommandDevice(audio, video []string, logger *zap.Logger) *CommandDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandDevice{
		commands: map[recording.Kind][]string{
			recording.KindVoice: audio,
			recording.KindVideo: video,
		},
		grace:  DefaultFinalizeGrace,
		logger: logger,
	}
}

// Acquire starts the capture command for mode.
func (d *CommandDevice) Acquire(ctx context.Context, mode recording.Kind) (Stream, error) {
	name := deviceName(mode)
	argv := d.commands[mode]
	if len(argv) == 0 {
		return nil, errors.NewDeviceUnavailable(name, fmt.Errorf("no capture command configured for %s", mode))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("acquire " + name)
	}

	d.mu.Lock()
	if d.held {
		d.mu.Unlock()
		return nil, errors.NewDeviceUnavailable(name, errDeviceBusy)
	}
	d.held = true
	d.mu.Unlock()

	cmd := exec.Command(argv[0], argv[1:]...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.free()
		return nil, errors.NewDeviceUnavailable(name, err)
	}
	if err := cmd.Start(); err != nil {
		d.free()
		if stderrors.Is(err, os.ErrPermission) {
			return nil, errors.NewPermissionDenied(name, err)
		}
		return nil, errors.NewDeviceUnavailable(name, err)
	}

	d.logger.Debug("capture command started",
		zap.String("mode", string(mode)),
		zap.String("program", argv[0]),
		zap.Int("pid", cmd.Process.Pid),
	)

	return &cmdStream{
		device: d,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (d *CommandDevice) free() {
	d.mu.Lock()
	d.held = false
	d.mu.Unlock()
}

type cmdStream struct {
	device *CommandDevice
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	finalized atomic.Bool
	released  atomic.Bool
	exited    atomic.Bool

	waitOnce    sync.Once
	waitErr     error
	releaseOnce sync.Once
}

func (s *cmdStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == nil {
		return n, nil
	}
	if s.released.Load() {
		return n, io.EOF
	}
	if stderrors.Is(err, io.EOF) {
		// Exit status only matters if we did not ask the program to stop
		if werr := s.wait(); werr != nil && !s.finalized.Load() {
			return n, fmt.Errorf("capture command exited: %w%s", werr, s.stderrTail())
		}
		return n, io.EOF
	}
	return n, err
}

// Finalize interrupts the command so it can flush its container trailer.
func (s *cmdStream) Finalize() error {
	if !s.finalized.CompareAndSwap(false, true) {
		return nil
	}
	if s.exited.Load() {
		return nil
	}

	time.AfterFunc(s.device.grace, func() {
		if !s.exited.Load() {
			s.device.logger.Warn("capture command ignored interrupt, killing", zap.Int("pid", s.cmd.Process.Pid))
			_ = s.cmd.Process.Kill()
		}
	})

	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		// Interrupt is unsupported on some platforms
		return s.cmd.Process.Kill()
	}
	return nil
}

func (s *cmdStream) Release() error {
	s.releaseOnce.Do(func() {
		s.released.Store(true)
		if !s.exited.Load() {
			_ = s.cmd.Process.Kill()
		}
		_ = s.wait()
		s.device.free()
		s.device.logger.Debug("capture command released", zap.Int("pid", s.cmd.Process.Pid))
	})
	return nil
}

func (s *cmdStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
		s.exited.Store(true)
	})
	return s.waitErr
}

func (s *cmdStream) stderrTail() string {
	msg := strings.TrimSpace(s.stderr.String())
	if msg == "" {
		return ""
	}
	if len(msg) > 200 {
		msg = msg[len(msg)-200:]
	}
	return ": " + msg
}
