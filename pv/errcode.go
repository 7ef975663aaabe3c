/*Package pv holds the vocabulary shared between the PvAPI camera binding and
the recorder engine: driver error codes, attribute datatypes and values,
camera information, and timestamp conversion.

It is free of cgo so that the engine and its tests build without the vendor
SDK installed.
*/
package pv

import "fmt"

// ErrCode is a PvAPI driver status code.
type ErrCode int

// The PvAPI status codes.
const (
	ErrSuccess ErrCode = iota
	ErrCameraFault
	ErrInternalFault
	ErrBadHandle
	ErrBadParameter
	ErrBadSequence
	ErrNotFound
	ErrAccessDenied
	ErrUnplugged
	ErrInvalidSetup
	ErrResources
	ErrBandwidth
	ErrQueueFull
	ErrBufferTooSmall
	ErrCancelled
	ErrDataLost
	ErrDataMissing
	ErrTimeout
	ErrOutOfRange
	ErrWrongType
	ErrForbidden
	ErrUnavailable
	ErrFirewall

	errCodeCount
)

var errCodeStrings = [errCodeCount]string{
	"ePvErrSuccess",
	"ePvErrCameraFault",
	"ePvErrInternalFault",
	"ePvErrBadHandle",
	"ePvErrBadParameter",
	"ePvErrBadSequence",
	"ePvErrNotFound",
	"ePvErrAccessDenied",
	"ePvErrUnplugged",
	"ePvErrInvalidSetup",
	"ePvErrResources",
	"ePvErrBandwidth",
	"ePvErrQueueFull",
	"ePvErrBufferTooSmall",
	"ePvErrCancelled",
	"ePvErrDataLost",
	"ePvErrDataMissing",
	"ePvErrTimeout",
	"ePvErrOutOfRange",
	"ePvErrWrongType",
	"ePvErrForbidden",
	"ePvErrUnavailable",
	"ePvErrFirewall",
}

var errCodeMessages = [errCodeCount]string{
	"No error",
	"Unexpected camera fault",
	"Unexpected fault in PvApi or driver",
	"Camera handle is invalid",
	"Bad parameter to API call",
	"Sequence of API calls is incorrect",
	"Camera or attribute not found",
	"Camera cannot be opened in the specified mode",
	"Camera was unplugged",
	"Setup is invalid (an attribute is invalid)",
	"System/network resources or memory not available",
	"1394 bandwidth not available",
	"Too many frames on queue",
	"Frame buffer is too small",
	"Frame cancelled by user",
	"The data for the frame was lost",
	"Some data in the frame is missing",
	"Timeout during wait",
	"Attribute value is out of the expected range",
	"Attribute is not this type (wrong access function)",
	"Attribute write forbidden at this time",
	"Attribute is not available at this time",
	"A firewall is blocking the traffic",
}

// String returns the symbolic name of the code, e.g. "ePvErrTimeout".
func (e ErrCode) String() string {
	if e >= 0 && e < errCodeCount {
		return errCodeStrings[e]
	}
	return fmt.Sprintf("ePvErr(%d)", int(e))
}

// Message returns the human readable description of the code.
func (e ErrCode) Message() string {
	if e >= 0 && e < errCodeCount {
		return errCodeMessages[e]
	}
	return "Unknown error"
}

// Error satisfies the error interface.
func (e ErrCode) Error() string {
	return fmt.Sprintf("%s. [%s]", e.Message(), e.String())
}

// Error returns nil for a success code and the code itself otherwise.
func Error(e ErrCode) error {
	if e == ErrSuccess {
		return nil
	}
	return e
}

// FormatError combines a context message with a driver code in the
// "<msg> PvApi: <description>. [<symbol>]" layout used throughout the
// server's diagnostics.
func FormatError(msg string, e ErrCode) string {
	return fmt.Sprintf("%s PvApi: %s. [%s]", msg, e.Message(), e.String())
}
