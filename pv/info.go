package pv

import (
	"fmt"
	"strings"
)

// CameraInfo is the cached description of an open camera, populated once at
// open time and cleared on close.
type CameraInfo struct {
	UniqueID        uint32
	CameraName      string
	ModelName       string
	SerialNumber    string
	FirmwareVersion string
	HwAddress       string
	IPAddress       string
	SensorWidth     uint32
	SensorHeight    uint32
	SensorBits      uint32

	// TimestampFrequency is the tick rate of the camera's timestamp clock,
	// used to convert raw frame timestamps to real time.
	TimestampFrequency uint32
}

// InfoString renders the camera description in the aligned multi-line layout
// the server prints after opening a camera.
func (ci CameraInfo) InfoString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Camera infos:")
	fmt.Fprintf(&b, "\n    UniqueId .......... %d", ci.UniqueID)
	fmt.Fprintf(&b, "\n    CameraName ........ %s", ci.CameraName)
	fmt.Fprintf(&b, "\n    ModelName ......... %s", ci.ModelName)
	fmt.Fprintf(&b, "\n    SerialNumber ...... %s", ci.SerialNumber)
	fmt.Fprintf(&b, "\n    FirmwareVersion ... %s", ci.FirmwareVersion)
	fmt.Fprintf(&b, "\n    HwAddress ......... %s", ci.HwAddress)
	fmt.Fprintf(&b, "\n    IpAddress ......... %s", ci.IPAddress)
	fmt.Fprintf(&b, "\n    Sensor ............ %dx%d@%d",
		ci.SensorWidth, ci.SensorHeight, ci.SensorBits)
	return b.String()
}

// FrameStats is a snapshot of the driver's frame statistics counters.
type FrameStats struct {
	FPS       float32 `json:"fps"`
	Completed uint32  `json:"completed"`
	Dropped   uint32  `json:"dropped"`
}
