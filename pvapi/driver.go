//go:build cgo

package pvapi

import (
	"fmt"
	"time"

	"github.com/kbg/sjcam/recorder"
)

// Driver adapts Camera and the frame allocator to the interfaces the
// recorder engine consumes.  The only adaptation is narrowing the engine's
// frame interface back to the concrete C-backed frame type.
type Driver struct {
	*Camera
}

// NewDriver returns a driver over a fresh, closed camera handle.
func NewDriver() *Driver {
	return &Driver{Camera: NewCamera()}
}

// Alloc satisfies the engine's allocator.
func (d *Driver) Alloc(pixelBytes int) (recorder.Frame, error) {
	return Alloc(pixelBytes)
}

// EnqueueFrame registers a frame with the driver's capture queue.  Frames
// not allocated by this package cannot be handed to the C driver.
func (d *Driver) EnqueueFrame(f recorder.Frame) error {
	pf, ok := f.(*Frame)
	if !ok {
		return fmt.Errorf("cannot enqueue frame of foreign type %T", f)
	}
	return d.Camera.EnqueueFrame(pf)
}

// WaitFrameDone blocks until the given in-flight frame completes or the
// timeout elapses.
func (d *Driver) WaitFrameDone(f recorder.Frame, timeout time.Duration) (bool, error) {
	pf, ok := f.(*Frame)
	if !ok {
		return false, fmt.Errorf("cannot wait on frame of foreign type %T", f)
	}
	return d.Camera.WaitFrameDone(pf, timeout)
}

var (
	_ recorder.Device    = (*Driver)(nil)
	_ recorder.Allocator = (*Driver)(nil)
	_ recorder.Frame     = (*Frame)(nil)
)
