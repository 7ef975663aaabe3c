/*Package pvapi exposes control of Prosilica/AVT GigE cameras in Go via PvAPI.

The package wraps the vendor driver one call deep: every function is
synchronous and blocks at most for the timeout of the underlying driver call.
Concurrency control lives in the recorder engine, not here.
*/
package pvapi

/*
#cgo CFLAGS: -I/usr/local/include -D_LINUX -D_x64
#cgo LDFLAGS: -L/usr/local/lib -lPvAPI
#include <stdlib.h>
#include <string.h>
#include <PvApi.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"

	"github.com/kbg/sjcam/pv"
)

var (
	libMu   sync.Mutex
	libRefs int
)

// Initialize acquires the process-wide PvAPI library handle.  Calls are
// ref-counted; each successful Initialize must be paired with one
// Uninitialize.
func Initialize() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if err := pv.Error(pv.ErrCode(C.PvInitialize())); err != nil {
			return fmt.Errorf("PvInitialize: %w", err)
		}
	}
	libRefs++
	return nil
}

// Uninitialize releases one reference on the library handle and tears the
// library down when the last reference is gone.
func Uninitialize() {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		return
	}
	libRefs--
	if libRefs == 0 {
		C.PvUnInitialize()
	}
}

// Version returns the PvAPI library version as "major.minor".
func Version() string {
	var major, minor C.ulong
	C.PvVersion(&major, &minor)
	return fmt.Sprintf("%d.%d", uint(major), uint(minor))
}

// CameraSummary describes one camera found during discovery.
type CameraSummary struct {
	UniqueID        uint32
	CameraName      string
	ModelName       string
	SerialNumber    string
	FirmwareVersion string
	PermittedAccess uint32
	InterfaceType   uint32
}

// MasterAccess reports whether the camera can be opened with full control.
func (cs CameraSummary) MasterAccess() bool {
	return cs.PermittedAccess&C.ePvAccessMaster != 0
}

// AccessString renders the camera's permitted access for listings.
func (cs CameraSummary) AccessString() string {
	if cs.PermittedAccess&C.ePvAccessMaster != 0 {
		return "Master"
	}
	if cs.PermittedAccess&C.ePvAccessMonitor != 0 {
		return "Monitor"
	}
	return "None"
}

// InterfaceString renders the camera's bus type for listings.
func (cs CameraSummary) InterfaceString() string {
	switch cs.InterfaceType {
	case C.ePvInterfaceEthernet:
		return "GigE"
	case C.ePvInterfaceFirewire:
		return "Firewire"
	}
	return "Unknown"
}

// AvailableCameras polls device discovery until at least one camera shows up
// or the timeout elapses, then lists everything found.  Discovery over the
// network is transient immediately after link-up, hence the retry loop.
func AvailableCameras(timeout time.Duration) []CameraSummary {
	var count C.ulong
	op := func() error {
		count = C.PvCameraCount()
		if count == 0 {
			return fmt.Errorf("no camera found")
		}
		return nil
	}
	b := backoff.NewConstantBackOff(100 * time.Millisecond)
	backoff.Retry(op, backoff.WithMaxRetries(b, uint64(timeout/(100*time.Millisecond))))
	if count == 0 {
		return nil
	}

	infos := make([]C.tPvCameraInfoEx, count)
	n := C.PvCameraListEx(&infos[0], count, nil, C.ulong(unsafe.Sizeof(infos[0])))
	out := make([]CameraSummary, 0, int(n))
	for i := 0; i < int(n); i++ {
		ci := &infos[i]
		out = append(out, CameraSummary{
			UniqueID:        uint32(ci.UniqueId),
			CameraName:      C.GoString(&ci.CameraName[0]),
			ModelName:       C.GoString(&ci.ModelName[0]),
			SerialNumber:    C.GoString(&ci.SerialNumber[0]),
			FirmwareVersion: C.GoString(&ci.FirmwareVersion[0]),
			PermittedAccess: uint32(ci.PermittedAccess),
			InterfaceType:   uint32(ci.InterfaceType),
		})
	}
	return out
}
