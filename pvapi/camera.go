package pvapi

/*
#cgo CFLAGS: -I/usr/local/include -D_LINUX -D_x64
#cgo LDFLAGS: -L/usr/local/lib -lPvAPI
#include <stdlib.h>
#include <PvApi.h>
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/kbg/sjcam/pv"
)

// attrBufLen is the scratch size for string and enum attribute reads.
const attrBufLen = 64

// Camera is a handle to one open GigE camera.  All methods are synchronous;
// none is safe for unsynchronized concurrent use (the recorder engine
// serializes access behind its session lock).
type Camera struct {
	handle C.tPvHandle
	open   bool
	info   pv.CameraInfo
}

// NewCamera returns a closed camera handle.
func NewCamera() *Camera {
	return &Camera{}
}

// IsOpen reports whether the device handle is currently open.
func (c *Camera) IsOpen() bool { return c.open }

// Info returns the cached camera description.  Only meaningful while open.
func (c *Camera) Info() pv.CameraInfo { return c.info }

// Open enumerates available cameras, verifies the requested id if nonzero,
// and opens the camera with exclusive (master) access.  Color sensors are
// rejected; only monochrome cameras are supported.  Sensor geometry and
// addressing are read and cached on success.
func (c *Camera) Open(id uint32) error {
	if c.open {
		c.Close()
	}

	cameras := AvailableCameras(3 * time.Second)
	if len(cameras) == 0 {
		return fmt.Errorf("no camera found")
	}

	if id != 0 {
		found := false
		for _, cs := range cameras {
			if cs.UniqueID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no camera with unique ID %d found", id)
		}
	}

	// open the camera with the given id, or the first one offering
	// master access
	code := pv.ErrSuccess
	for _, cs := range cameras {
		if (id == 0 || id == cs.UniqueID) && cs.MasterAccess() {
			e := pv.ErrCode(C.PvCameraOpen(C.ulong(cs.UniqueID), C.ePvAccessMaster, &c.handle))
			if e != pv.ErrSuccess {
				code = e
				continue
			}
			c.open = true
			c.info = pv.CameraInfo{
				UniqueID:        cs.UniqueID,
				CameraName:      cs.CameraName,
				ModelName:       cs.ModelName,
				SerialNumber:    cs.SerialNumber,
				FirmwareVersion: cs.FirmwareVersion,
			}
			break
		}
	}
	if !c.open {
		return fmt.Errorf("%s", pv.FormatError("Cannot open camera.", code))
	}

	sensorType, err := c.GetAttrEnum("SensorType")
	if err != nil {
		c.Close()
		return err
	}
	if sensorType != "Mono" {
		c.Close()
		return fmt.Errorf("sensor type %q is not supported", sensorType)
	}

	if err := c.cacheInfo(); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Camera) cacheInfo() error {
	ip, err := c.GetAttrString("DeviceIPAddress")
	if err != nil {
		return err
	}
	hw, err := c.GetAttrString("DeviceEthAddress")
	if err != nil {
		return err
	}
	w, err := c.GetAttrUint32("SensorWidth")
	if err != nil {
		return err
	}
	h, err := c.GetAttrUint32("SensorHeight")
	if err != nil {
		return err
	}
	bits, err := c.GetAttrUint32("SensorBits")
	if err != nil {
		return err
	}
	freq, err := c.GetAttrUint32("TimeStampFrequency")
	if err != nil {
		return err
	}
	c.info.IPAddress = ip
	c.info.HwAddress = hw
	c.info.SensorWidth = w
	c.info.SensorHeight = h
	c.info.SensorBits = bits
	c.info.TimestampFrequency = freq
	return nil
}

// Close releases the device handle and clears the cached description.  It is
// idempotent.
func (c *Camera) Close() error {
	if c.open {
		C.PvCameraClose(c.handle)
		c.handle = 0
		c.open = false
		c.info = pv.CameraInfo{}
	}
	return nil
}

// ResetConfig restores the camera's factory attribute settings.
func (c *Camera) ResetConfig() error {
	if err := c.SetAttrEnum("ConfigFileIndex", "Factory"); err != nil {
		return fmt.Errorf("cannot select factory settings: %w", err)
	}
	if err := c.RunCommand("ConfigFileLoad"); err != nil {
		return fmt.Errorf("cannot load factory settings: %w", err)
	}
	return nil
}

// StartCapture starts the driver's internal buffering subsystem.  It is
// independent from acquisition.
func (c *Camera) StartCapture() error {
	if err := pv.Error(pv.ErrCode(C.PvCaptureStart(c.handle))); err != nil {
		return fmt.Errorf("cannot start capturing: %w", err)
	}
	return nil
}

// StopCapture stops the driver's internal buffering subsystem.
func (c *Camera) StopCapture() error {
	if err := pv.Error(pv.ErrCode(C.PvCaptureEnd(c.handle))); err != nil {
		return fmt.Errorf("cannot stop capturing: %w", err)
	}
	return nil
}

// IsCapturing queries whether the buffering subsystem is running.
func (c *Camera) IsCapturing() bool {
	var started C.ulong
	e := pv.ErrCode(C.PvCaptureQuery(c.handle, &started))
	return e == pv.ErrSuccess && started != 0
}

// EnqueueFrame registers a frame buffer with the driver's capture queue.
func (c *Camera) EnqueueFrame(f *Frame) error {
	if err := pv.Error(pv.ErrCode(C.PvCaptureQueueFrame(c.handle, f.cframe, nil))); err != nil {
		return fmt.Errorf("cannot enqueue frame: %w", err)
	}
	return nil
}

// ClearFrameQueue aborts all frames on the driver's capture queue.  Aborted
// frames come back with status cancelled or data-missing; their memory stays
// owned by the caller.
func (c *Camera) ClearFrameQueue() error {
	if err := pv.Error(pv.ErrCode(C.PvCaptureQueueClear(c.handle))); err != nil {
		return fmt.Errorf("cannot clear frame queue: %w", err)
	}
	return nil
}

// StartAcquisition starts sensor triggering.
func (c *Camera) StartAcquisition() error {
	if err := c.RunCommand("AcquisitionStart"); err != nil {
		return fmt.Errorf("cannot start image acquisition: %w", err)
	}
	return nil
}

// StopAcquisition stops sensor triggering.
func (c *Camera) StopAcquisition() error {
	if err := c.RunCommand("AcquisitionStop"); err != nil {
		return fmt.Errorf("cannot stop image acquisition: %w", err)
	}
	return nil
}

// WaitFrameDone blocks until the given in-flight frame completes or the
// timeout elapses.  timedOut distinguishes the benign timeout (retry) from a
// real driver failure.
func (c *Camera) WaitFrameDone(f *Frame, timeout time.Duration) (timedOut bool, err error) {
	e := pv.ErrCode(C.PvCaptureWaitForFrameDone(c.handle, f.cframe, C.ulong(timeout/time.Millisecond)))
	if e == pv.ErrTimeout {
		return true, e
	}
	if e != pv.ErrSuccess {
		return false, fmt.Errorf("failed to wait for frame: %w", e)
	}
	return false, nil
}

// RunCommand executes a command attribute on the device.
func (c *Camera) RunCommand(name string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	if err := pv.Error(pv.ErrCode(C.PvCommandRun(c.handle, cname))); err != nil {
		return fmt.Errorf("cannot run command %s: %w", name, err)
	}
	return nil
}

// FrameStats queries the driver's frame statistics counters.
func (c *Camera) FrameStats() (pv.FrameStats, error) {
	fps, err := c.GetAttrFloat32("StatFrameRate")
	if err != nil {
		return pv.FrameStats{}, err
	}
	completed, err := c.GetAttrUint32("StatFramesCompleted")
	if err != nil {
		return pv.FrameStats{}, err
	}
	dropped, err := c.GetAttrUint32("StatFramesDropped")
	if err != nil {
		return pv.FrameStats{}, err
	}
	return pv.FrameStats{FPS: fps, Completed: completed, Dropped: dropped}, nil
}

// GetAttrString reads a string attribute.
func (c *Camera) GetAttrString(name string) (string, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	buf := (*C.char)(C.malloc(attrBufLen))
	defer C.free(unsafe.Pointer(buf))
	e := pv.ErrCode(C.PvAttrStringGet(c.handle, cname, buf, attrBufLen, nil))
	if e != pv.ErrSuccess {
		return "", fmt.Errorf("cannot get attribute %s: %w", name, e)
	}
	return C.GoString(buf), nil
}

// SetAttrString writes a string attribute.
func (c *Camera) SetAttrString(name, value string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	cvalue := C.CString(value)
	defer C.free(unsafe.Pointer(cvalue))
	if err := pv.Error(pv.ErrCode(C.PvAttrStringSet(c.handle, cname, cvalue))); err != nil {
		return fmt.Errorf("cannot set attribute %s: %w", name, err)
	}
	return nil
}

// GetAttrEnum reads an enum attribute as its string value.
func (c *Camera) GetAttrEnum(name string) (string, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	buf := (*C.char)(C.malloc(attrBufLen))
	defer C.free(unsafe.Pointer(buf))
	e := pv.ErrCode(C.PvAttrEnumGet(c.handle, cname, buf, attrBufLen, nil))
	if e != pv.ErrSuccess {
		return "", fmt.Errorf("cannot get attribute %s: %w", name, e)
	}
	return C.GoString(buf), nil
}

// SetAttrEnum writes an enum attribute from its string value.
func (c *Camera) SetAttrEnum(name, value string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	cvalue := C.CString(value)
	defer C.free(unsafe.Pointer(cvalue))
	if err := pv.Error(pv.ErrCode(C.PvAttrEnumSet(c.handle, cname, cvalue))); err != nil {
		return fmt.Errorf("cannot set attribute %s: %w", name, err)
	}
	return nil
}

// GetAttrUint32 reads a uint32 attribute.
func (c *Camera) GetAttrUint32(name string) (uint32, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var v C.tPvUint32
	e := pv.ErrCode(C.PvAttrUint32Get(c.handle, cname, &v))
	if e != pv.ErrSuccess {
		return 0, fmt.Errorf("cannot get attribute %s: %w", name, e)
	}
	return uint32(v), nil
}

// SetAttrUint32 writes a uint32 attribute.
func (c *Camera) SetAttrUint32(name string, value uint32) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	if err := pv.Error(pv.ErrCode(C.PvAttrUint32Set(c.handle, cname, C.tPvUint32(value)))); err != nil {
		return fmt.Errorf("cannot set attribute %s: %w", name, err)
	}
	return nil
}

// GetAttrFloat32 reads a float32 attribute.
func (c *Camera) GetAttrFloat32(name string) (float32, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var v C.tPvFloat32
	e := pv.ErrCode(C.PvAttrFloat32Get(c.handle, cname, &v))
	if e != pv.ErrSuccess {
		return 0, fmt.Errorf("cannot get attribute %s: %w", name, e)
	}
	return float32(v), nil
}

// SetAttrFloat32 writes a float32 attribute.
func (c *Camera) SetAttrFloat32(name string, value float32) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	if err := pv.Error(pv.ErrCode(C.PvAttrFloat32Set(c.handle, cname, C.tPvFloat32(value)))); err != nil {
		return fmt.Errorf("cannot set attribute %s: %w", name, err)
	}
	return nil
}

// GetAttrInt64 reads an int64 attribute.
func (c *Camera) GetAttrInt64(name string) (int64, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var v C.tPvInt64
	e := pv.ErrCode(C.PvAttrInt64Get(c.handle, cname, &v))
	if e != pv.ErrSuccess {
		return 0, fmt.Errorf("cannot get attribute %s: %w", name, e)
	}
	return int64(v), nil
}

// SetAttrInt64 writes an int64 attribute.
func (c *Camera) SetAttrInt64(name string, value int64) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	if err := pv.Error(pv.ErrCode(C.PvAttrInt64Set(c.handle, cname, C.tPvInt64(value)))); err != nil {
		return fmt.Errorf("cannot set attribute %s: %w", name, err)
	}
	return nil
}

// GetAttrBoolean reads a boolean attribute.
func (c *Camera) GetAttrBoolean(name string) (bool, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var v C.tPvBoolean
	e := pv.ErrCode(C.PvAttrBooleanGet(c.handle, cname, &v))
	if e != pv.ErrSuccess {
		return false, fmt.Errorf("cannot get attribute %s: %w", name, e)
	}
	return v != 0, nil
}

// SetAttrBoolean writes a boolean attribute.
func (c *Camera) SetAttrBoolean(name string, value bool) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var v C.tPvBoolean
	if value {
		v = 1
	}
	if err := pv.Error(pv.ErrCode(C.PvAttrBooleanSet(c.handle, cname, v))); err != nil {
		return fmt.Errorf("cannot set attribute %s: %w", name, err)
	}
	return nil
}

// datatype inspects the declared datatype of an attribute.
func (c *Camera) datatype(name string) (pv.Datatype, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var info C.tPvAttributeInfo
	e := pv.ErrCode(C.PvAttrInfo(c.handle, cname, &info))
	if e != pv.ErrSuccess {
		return pv.DatatypeUnknown, fmt.Errorf("cannot get attribute %s: %w", name, e)
	}
	switch info.Datatype {
	case C.ePvDatatypeString:
		return pv.DatatypeString, nil
	case C.ePvDatatypeEnum:
		return pv.DatatypeEnum, nil
	case C.ePvDatatypeUint32:
		return pv.DatatypeUint32, nil
	case C.ePvDatatypeFloat32:
		return pv.DatatypeFloat32, nil
	case C.ePvDatatypeInt64:
		return pv.DatatypeInt64, nil
	case C.ePvDatatypeBoolean:
		return pv.DatatypeBoolean, nil
	case C.ePvDatatypeCommand:
		return pv.DatatypeCommand, nil
	case C.ePvDatatypeRaw:
		return pv.DatatypeRaw, nil
	}
	return pv.DatatypeUnknown, nil
}

// Attribute reads any attribute by name, dispatching on its declared
// datatype.  Needed because the control protocol carries attribute names
// with no compile-time type.
func (c *Camera) Attribute(name string) (pv.Value, error) {
	dt, err := c.datatype(name)
	if err != nil {
		return pv.Value{}, err
	}
	switch dt {
	case pv.DatatypeString:
		s, err := c.GetAttrString(name)
		if err != nil {
			return pv.Value{}, err
		}
		return pv.StringValue(s), nil
	case pv.DatatypeEnum:
		s, err := c.GetAttrEnum(name)
		if err != nil {
			return pv.Value{}, err
		}
		return pv.EnumValue(s), nil
	case pv.DatatypeUint32:
		u, err := c.GetAttrUint32(name)
		if err != nil {
			return pv.Value{}, err
		}
		return pv.Uint32Value(u), nil
	case pv.DatatypeFloat32:
		f, err := c.GetAttrFloat32(name)
		if err != nil {
			return pv.Value{}, err
		}
		return pv.Float32Value(f), nil
	case pv.DatatypeInt64:
		i, err := c.GetAttrInt64(name)
		if err != nil {
			return pv.Value{}, err
		}
		return pv.Int64Value(i), nil
	case pv.DatatypeBoolean:
		b, err := c.GetAttrBoolean(name)
		if err != nil {
			return pv.Value{}, err
		}
		return pv.BoolValue(b), nil
	}
	return pv.Value{}, fmt.Errorf("cannot get attribute %s: datatype %s has no value representation", name, dt)
}

// SetAttribute writes any attribute by name, dispatching on its declared
// datatype.  Text input is parsed to the declared type; an inconvertible
// value is an error, never a truncation.
func (c *Camera) SetAttribute(name string, text string) error {
	dt, err := c.datatype(name)
	if err != nil {
		return err
	}
	v, err := pv.ParseValue(dt, text)
	if err != nil {
		return fmt.Errorf("cannot set attribute %s: %w", name, err)
	}
	switch dt {
	case pv.DatatypeString:
		s, _ := v.Str()
		return c.SetAttrString(name, s)
	case pv.DatatypeEnum:
		s, _ := v.Str()
		return c.SetAttrEnum(name, s)
	case pv.DatatypeUint32:
		u, _ := v.Uint32()
		return c.SetAttrUint32(name, u)
	case pv.DatatypeFloat32:
		f, _ := v.Float32()
		return c.SetAttrFloat32(name, f)
	case pv.DatatypeInt64:
		i, _ := v.Int64()
		return c.SetAttrInt64(name, i)
	case pv.DatatypeBoolean:
		b, _ := v.Bool()
		return c.SetAttrBoolean(name, b)
	}
	return fmt.Errorf("cannot set attribute %s: datatype %s has no value representation", name, dt)
}

// TimestampFrequency reads the camera's timestamp clock rate.  It is
// required for converting raw frame timestamps; opening a session fails
// without it.
func (c *Camera) TimestampFrequency() (uint32, error) {
	return c.GetAttrUint32("TimeStampFrequency")
}
