/*Package recorder contains the capture engine at the heart of the camera
server.  A single worker goroutine owns the camera handle and drives a fixed
pool of frame buffers through three FIFO queues:

	Input -> CameraInflight -> Output -> (external consumers) -> Input

The engine's public surface is safe for concurrent use by any number of
caller goroutines (control dispatcher, downstream consumers); the worker is
the only goroutine that touches the capture and acquisition lifecycle of the
device and that moves buffers between CameraInflight and Output.
*/
package recorder

import (
	"time"

	"github.com/kbg/sjcam/pv"
)

// Frame is one fixed-capacity frame buffer: a pixel buffer sized for the
// camera's maximum sensor resolution at 16 bits per pixel plus a small
// ancillary buffer the camera fills with embedded metadata.  A Frame is
// owned by exactly one queue or one external consumer at any instant;
// ownership moves, it is never copied.
type Frame interface {
	// Bytes exposes the pixel buffer.  Only the region described by
	// Width, Height and BitDepth holds image data after a completion.
	Bytes() []byte

	// Capacity is the pixel buffer size in bytes, fixed at allocation.
	Capacity() int

	// Width, Height and BitDepth describe the image the camera wrote on
	// the most recent completion.
	Width() int
	Height() int
	BitDepth() int

	// FrameCount is the camera-assigned frame counter; it wraps at 65535.
	FrameCount() uint32

	// Status is the driver completion code of the most recent completion.
	Status() pv.ErrCode

	// Timestamp returns the raw camera timestamp words.
	Timestamp() (hi, lo uint32)

	// ExposureTicks is the exposure time in microseconds as reported in
	// the ancillary metadata, or 0 when the camera did not provide it.
	ExposureTicks() uint32

	// Free releases the underlying buffers.  The engine calls it only
	// from CloseCamera.
	Free()
}

// Allocator creates frame buffers.  It is a pure allocator: pooling is the
// engine's job.
type Allocator interface {
	Alloc(pixelBytes int) (Frame, error)
}

// Device is the synchronous camera binding the engine drives.  All methods
// are expected to return promptly except WaitFrameDone, which blocks up to
// its timeout.  A Device failure never panics; it is reported as an error
// for the engine to classify.
type Device interface {
	Open(id uint32) error
	Close() error
	IsOpen() bool
	ResetConfig() error
	Info() pv.CameraInfo

	// TimestampFrequency reads the tick rate of the camera's timestamp
	// clock.  The engine requires it at open time.
	TimestampFrequency() (uint32, error)

	StartCapture() error
	StopCapture() error
	EnqueueFrame(Frame) error
	ClearFrameQueue() error
	StartAcquisition() error
	StopAcquisition() error

	// WaitFrameDone blocks until the given in-flight frame completes or
	// the timeout elapses.  timedOut reports the benign timeout case.
	WaitFrameDone(f Frame, timeout time.Duration) (timedOut bool, err error)

	Attribute(name string) (pv.Value, error)
	SetAttribute(name, text string) error
	FrameStats() (pv.FrameStats, error)
}
