package capture

import (
	"context"
	"io"

	"github.com/hpungsan/echocap/internal/recording"
)

// Device hands out exclusive capture streams.
type Device interface {
	// Acquire starts capturing in the given mode. It fails with
	// DEVICE_UNAVAILABLE when the device is busy or absent and with
	// PERMISSION_DENIED when access is refused.
	Acquire(ctx context.Context, mode recording.Kind) (Stream, error)
}

// Stream is one acquired capture. Read returns encoded media bytes in
// order and io.EOF once the device has flushed its final bytes or the
// stream has been released.
type Stream interface {
	io.Reader

	// Finalize asks the device to flush and end the stream.
	Finalize() error

	// Release frees the device. It must be safe to call more than once
	// and after the stream has already ended.
	Release() error
}
