package capture_test

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/echocap/internal/capture"
	"github.com/hpungsan/echocap/internal/errors"
	"github.com/hpungsan/echocap/internal/recording"
	"github.com/hpungsan/echocap/internal/testutil"
)

func newSession(t *testing.T) (*capture.Session, *testutil.FakeDevice) {
	t.Helper()
	dev := testutil.NewFakeDevice()
	return capture.NewSession(dev, capture.WithChunkInterval(time.Millisecond)), dev
}

func TestSession_StartStop_ConcatenatesInOrder(t *testing.T) {
	ctx := context.Background()
	s, dev := newSession(t)

	require.NoError(t, s.Start(ctx, recording.KindVoice))
	require.Equal(t, capture.Recording, s.State())

	stream := dev.Last()
	stream.Push([]byte("one-"))
	stream.Push([]byte("two-"))
	stream.Push([]byte("three"))

	c, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, "one-two-three", string(c.Data))
	require.Equal(t, recording.KindVoice, c.Mode)
	require.Equal(t, capture.Idle, s.State())
	require.Same(t, c, s.Pending())

	require.True(t, stream.Released())
	require.False(t, dev.Held())
}

func TestSession_StartWhileRecording_Rejected(t *testing.T) {
	ctx := context.Background()
	s, dev := newSession(t)

	require.NoError(t, s.Start(ctx, recording.KindVoice))
	dev.Last().Push([]byte("kept"))

	err := s.Start(ctx, recording.KindVideo)
	require.True(t, errors.Is(err, errors.ErrInvalidState), "got %v", err)
	require.Equal(t, capture.Recording, s.State())
	require.Equal(t, 1, dev.Acquisitions())

	c, err := s.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, "kept", string(c.Data))
	require.Equal(t, recording.KindVoice, c.Mode)
}

func TestSession_StopWhileIdle_NoOp(t *testing.T) {
	ctx := context.Background()
	s, dev := newSession(t)

	c, err := s.Stop(ctx)
	require.NoError(t, err)
	require.Nil(t, c)

	require.NoError(t, s.Start(ctx, recording.KindVoice))
	dev.Last().Push([]byte("x"))
	_, err = s.Stop(ctx)
	require.NoError(t, err)

	c, err = s.Stop(ctx)
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, capture.Idle, s.State())
	require.Equal(t, 1, dev.Releases())
}

func TestSession_AcquireFailure_StaysIdle(t *testing.T) {
	ctx := context.Background()
	s, dev := newSession(t)

	dev.FailAcquire(errors.NewPermissionDenied("microphone", nil))
	err := s.Start(ctx, recording.KindVoice)
	require.True(t, errors.Is(err, errors.ErrPermissionDenied), "got %v", err)
	require.Equal(t, capture.Idle, s.State())

	dev.FailAcquire(stderrors.New("no such device"))
	err = s.Start(ctx, recording.KindVoice)
	require.True(t, errors.Is(err, errors.ErrDeviceUnavailable), "got %v", err)
	require.Equal(t, capture.Idle, s.State())
}

func TestSession_InvalidMode(t *testing.T) {
	s, _ := newSession(t)

	err := s.Start(context.Background(), recording.Kind("photo"))
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

func TestSession_StreamError_ReleasesImmediately(t *testing.T) {
	ctx := context.Background()
	s, dev := newSession(t)

	require.NoError(t, s.Start(ctx, recording.KindVideo))
	stream := dev.Last()
	stream.Fail(stderrors.New("usb unplugged"))

	require.Eventually(t, stream.Released, time.Second, 5*time.Millisecond)
	require.Equal(t, capture.Recording, s.State())

	c, err := s.Stop(ctx)
	require.Nil(t, c)
	require.True(t, errors.Is(err, errors.ErrDeviceUnavailable), "got %v", err)
	require.Equal(t, capture.Idle, s.State())
	require.Nil(t, s.Pending())
	require.False(t, dev.Held())

	// The device is free for the next session
	require.NoError(t, s.Start(ctx, recording.KindVoice))
	_, err = s.Stop(ctx)
	require.NoError(t, err)
}

func TestSession_StopCancelled_ReleasesDevice(t *testing.T) {
	s, dev := newSession(t)
	require.NoError(t, s.Start(context.Background(), recording.KindVoice))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Finalize and ctx are both ready, so either path may win; the device
	// must be released either way.
	_, _ = s.Stop(ctx)
	require.Equal(t, capture.Idle, s.State())
	require.True(t, dev.Last().Released())
}

func TestSession_ChunksOnlyFromCurrentSession(t *testing.T) {
	ctx := context.Background()
	s, dev := newSession(t)

	require.NoError(t, s.Start(ctx, recording.KindVoice))
	dev.Last().Push([]byte("first"))
	_, err := s.Stop(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx, recording.KindVoice))
	dev.Last().Push([]byte("second"))
	c, err := s.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", string(c.Data))
	require.Equal(t, 2, dev.Releases())
}

func TestSession_Clear(t *testing.T) {
	ctx := context.Background()
	s, dev := newSession(t)

	s.Clear()
	require.Nil(t, s.Pending())

	require.NoError(t, s.Start(ctx, recording.KindVoice))
	dev.Last().Push([]byte("data"))
	_, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.Pending())

	s.Clear()
	require.Nil(t, s.Pending())
}

func TestSession_Duration(t *testing.T) {
	ctx := context.Background()
	dev := testutil.NewFakeDevice()

	base := time.Unix(1700000000, 0)
	var offset atomic.Int64
	clock := func() time.Time { return base.Add(time.Duration(offset.Load())) }
	s := capture.NewSession(dev, capture.WithClock(clock))

	require.NoError(t, s.Start(ctx, recording.KindVoice))
	offset.Store(int64(2500 * time.Millisecond))

	c, err := s.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, base, c.StartedAt)
	require.Equal(t, 2500*time.Millisecond, c.Duration)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", capture.Idle.String())
	require.Equal(t, "recording", capture.Recording.String())
	require.Equal(t, "finalizing", capture.Finalizing.String())
}
