package pvapi

/*
#cgo CFLAGS: -I/usr/local/include -D_LINUX -D_x64
#cgo LDFLAGS: -L/usr/local/lib -lPvAPI
#include <stdlib.h>
#include <PvApi.h>
*/
import "C"

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/kbg/sjcam/pv"
)

// ancillaryLen is the size of the per-frame metadata buffer the camera
// fills alongside the pixel data.
const ancillaryLen = 48

// exposureWordOffset is the byte offset of the exposure-time word inside
// the ancillary buffer.  Ancillary words are big-endian on the wire.
const exposureWordOffset = 8

// Frame wraps one driver frame descriptor together with its pixel and
// ancillary buffers.  All three live in C memory so the descriptor can sit
// on the driver's capture queue without violating cgo pointer rules.
type Frame struct {
	cframe *C.tPvFrame
}

// Alloc allocates a frame with a pixel buffer of the given size and the
// standard ancillary buffer.  Both buffers are zeroed.
func Alloc(pixelBytes int) (*Frame, error) {
	if pixelBytes <= 0 {
		return nil, fmt.Errorf("invalid frame buffer size %d", pixelBytes)
	}
	cf := (*C.tPvFrame)(C.calloc(1, C.size_t(unsafe.Sizeof(C.tPvFrame{}))))
	if cf == nil {
		return nil, fmt.Errorf("cannot allocate frame descriptor")
	}
	img := C.calloc(1, C.size_t(pixelBytes))
	if img == nil {
		C.free(unsafe.Pointer(cf))
		return nil, fmt.Errorf("cannot allocate %d byte image buffer", pixelBytes)
	}
	anc := C.calloc(1, ancillaryLen)
	if anc == nil {
		C.free(img)
		C.free(unsafe.Pointer(cf))
		return nil, fmt.Errorf("cannot allocate ancillary buffer")
	}
	cf.ImageBuffer = img
	cf.ImageBufferSize = C.ulong(pixelBytes)
	cf.AncillaryBuffer = anc
	cf.AncillaryBufferSize = ancillaryLen
	return &Frame{cframe: cf}, nil
}

// Bytes exposes the image data of the most recent completion.  Before the
// first completion the driver has written nothing and the slice is empty.
func (f *Frame) Bytes() []byte {
	n := int(f.cframe.ImageSize)
	if n <= 0 || n > int(f.cframe.ImageBufferSize) {
		return nil
	}
	return unsafe.Slice((*byte)(f.cframe.ImageBuffer), n)
}

// Capacity is the fixed pixel buffer size in bytes.
func (f *Frame) Capacity() int { return int(f.cframe.ImageBufferSize) }

func (f *Frame) Width() int    { return int(f.cframe.Width) }
func (f *Frame) Height() int   { return int(f.cframe.Height) }
func (f *Frame) BitDepth() int { return int(f.cframe.BitDepth) }

// FrameCount is the camera-assigned frame counter of the most recent
// completion.  It wraps at 65535.
func (f *Frame) FrameCount() uint32 { return uint32(f.cframe.FrameCount) }

// Status is the driver completion code of the most recent completion.
func (f *Frame) Status() pv.ErrCode { return pv.ErrCode(f.cframe.Status) }

// Timestamp returns the raw camera timestamp words.
func (f *Frame) Timestamp() (hi, lo uint32) {
	return uint32(f.cframe.TimestampHi), uint32(f.cframe.TimestampLo)
}

// Ancillary exposes the metadata buffer the camera filled on the most
// recent completion.
func (f *Frame) Ancillary() []byte {
	n := int(f.cframe.AncillarySize)
	if n <= 0 || n > ancillaryLen {
		return nil
	}
	return unsafe.Slice((*byte)(f.cframe.AncillaryBuffer), n)
}

// ExposureTicks extracts the exposure time in microseconds from the
// ancillary metadata, or 0 when the camera did not provide it.
func (f *Frame) ExposureTicks() uint32 {
	anc := f.Ancillary()
	if len(anc) < exposureWordOffset+4 {
		return 0
	}
	return binary.BigEndian.Uint32(anc[exposureWordOffset:])
}

// Free releases the descriptor and both buffers.  The frame must not be on
// the driver's capture queue.  Free is idempotent.
func (f *Frame) Free() {
	if f.cframe == nil {
		return
	}
	C.free(f.cframe.ImageBuffer)
	C.free(f.cframe.AncillaryBuffer)
	C.free(unsafe.Pointer(f.cframe))
	f.cframe = nil
}
