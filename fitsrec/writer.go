/*Package fitsrec saves finished camera frames as FITS files.

The writer is armed with a frame count and stepping; while armed, every
successful frame whose index is a multiple of the stepping is written to
<prefix>_<utc timestamp>.fits in the output directory.  Files are created
under a temporary name and renamed when complete, so a consumer watching the
directory never sees a partial file.
*/
package fitsrec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/kbg/sjcam/pv"
	"github.com/kbg/sjcam/recorder"
)

// Writer writes armed frame sequences to FITS files.  ProcessFrame is
// called from the frame fan-out goroutine; arming and configuration may
// happen concurrently from the command dispatcher.
type Writer struct {
	mu        sync.Mutex
	dir       string
	prefix    string
	creator   string
	device    string
	telescope string
	info      pv.CameraInfo

	count    int
	stepping int
	i        int
}

// New returns a writer storing files with the given name prefix in dir.
func New(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, stepping: 1}
}

// SetCreator sets the CREATOR header value.
func (w *Writer) SetCreator(creator string) {
	w.mu.Lock()
	w.creator = creator
	w.mu.Unlock()
}

// SetDeviceName sets the INSTRUME header value.
func (w *Writer) SetDeviceName(name string) {
	w.mu.Lock()
	w.device = name
	w.mu.Unlock()
}

// SetTelescopeName sets the optional TELESCOP header value.
func (w *Writer) SetTelescopeName(name string) {
	w.mu.Lock()
	w.telescope = name
	w.mu.Unlock()
}

// SetCameraInfo supplies the camera description for the header cards.
func (w *Writer) SetCameraInfo(info pv.CameraInfo) {
	w.mu.Lock()
	w.info = info
	w.mu.Unlock()
}

// WriteNext arms the writer: of the next count*stepping successful frames,
// every stepping-th one is written.  A count of 0 disarms.
func (w *Writer) WriteNext(count, stepping int) {
	w.mu.Lock()
	if count < 0 {
		count = 0
	}
	if stepping < 1 {
		stepping = 1
	}
	w.count = count
	w.stepping = stepping
	w.i = 0
	w.mu.Unlock()
}

// Pending reports how many frames are still to be written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.i >= w.count*w.stepping {
		return 0
	}
	written := (w.i + w.stepping - 1) / w.stepping
	return w.count - written
}

// ProcessFrame writes the frame if the writer is armed and the frame is due
// per the stepping.  Frames with a failure status never count.  The caller
// keeps ownership of the frame.
func (w *Writer) ProcessFrame(f recorder.Frame) (wrote bool, err error) {
	if f == nil || f.Status() != pv.ErrSuccess {
		return false, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.i >= w.count*w.stepping {
		return false, nil
	}
	due := w.i%w.stepping == 0
	w.i++
	if !due {
		return false, nil
	}
	if err := w.writeFrame(f); err != nil {
		return false, err
	}
	return true, nil
}

// writeFrame stores one frame.  Callers hold the writer lock.
func (w *Writer) writeFrame(f recorder.Frame) error {
	now := time.Now().UTC()
	stamp := now.Format("20060102-150405") + fmt.Sprintf("%03d", now.Nanosecond()/1e6)
	fileName := fmt.Sprintf("%s_%s.fits", w.prefix, stamp)
	tmpPath := filepath.Join(w.dir, fileName+".tmp")

	fid, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("cannot create file %q: %w", tmpPath, err)
	}
	err = w.writeFits(fid, f, fileName, now)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cannot write file %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(w.dir, fileName)); err != nil {
		return fmt.Errorf("cannot rename temporary file: %w", err)
	}
	return nil
}

func (w *Writer) writeFits(fid *os.File, f recorder.Frame, fileName string, now time.Time) error {
	fits, err := fitsio.Create(fid)
	if err != nil {
		return err
	}
	defer fits.Close()

	width, height := f.Width(), f.Height()
	bitpix := 16
	if f.BitDepth() == 8 {
		bitpix = 8
	}
	im := fitsio.NewImage(bitpix, []int{width, height})
	defer im.Close()

	if err := im.Header().Append(w.headerCards(f, fileName, now)...); err != nil {
		return err
	}

	buf := f.Bytes()
	n := width * height
	if bitpix == 8 {
		if len(buf) < n {
			return fmt.Errorf("frame holds %d pixel bytes, need %d", len(buf), n)
		}
		pix := make([]int8, n)
		for i := 0; i < n; i++ {
			pix[i] = int8(buf[i])
		}
		if err := im.Write(pix); err != nil {
			return err
		}
	} else {
		if len(buf) < 2*n {
			return fmt.Errorf("frame holds %d pixel bytes, need %d", len(buf), 2*n)
		}
		pix := make([]int16, n)
		for i := 0; i < n; i++ {
			v := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
			pix[i] = int16(int32(v) - 32768)
		}
		if err := im.Write(pix); err != nil {
			return err
		}
	}
	return fits.Write(im)
}

func (w *Writer) headerCards(f recorder.Frame, fileName string, now time.Time) []fitsio.Card {
	creator := w.creator
	if creator == "" {
		creator = "sjcam"
	}
	cards := []fitsio.Card{
		{Name: "CREATOR", Value: creator, Comment: "program that created this file"},
		{Name: "DATE", Value: now.Format("2006-01-02T15:04:05.000"), Comment: "[utc] file creation time"},
		{Name: "FILENAME", Value: fileName, Comment: "original file name"},
		{Name: "STATUS", Value: "raw", Comment: "file status"},
		{Name: "INSTRUME", Value: w.device, Comment: "instrument"},
	}
	if w.telescope != "" {
		cards = append(cards, fitsio.Card{Name: "TELESCOP", Value: w.telescope, Comment: "telescope name"})
	}
	cards = append(cards,
		fitsio.Card{Name: "CAMMODEL", Value: w.info.ModelName, Comment: "camera model name"},
		fitsio.Card{Name: "CAMSERNO", Value: w.info.SerialNumber, Comment: "camera serial number"},
		fitsio.Card{Name: "CAMHWADR", Value: strings.ReplaceAll(w.info.HwAddress, "-", ":"), Comment: "camera hardware address"},
		fitsio.Card{Name: "CAMFWVER", Value: w.info.FirmwareVersion, Comment: "camera firmware version"},
		fitsio.Card{Name: "FRAME-NO", Value: int(f.FrameCount()), Comment: "frame number (rolls at 65535)"},
	)
	hi, lo := f.Timestamp()
	cards = append(cards, fitsio.Card{
		Name:    "TIMESTAM",
		Value:   int(pv.Timestamp(hi, lo, w.info.TimestampFrequency, 1e6)),
		Comment: "[us] time stamp (time since camera power on)",
	})
	if expo := f.ExposureTicks(); expo > 0 {
		cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: int(expo), Comment: "[us] exposure time"})
	}
	cards = append(cards, fitsio.Card{Name: "BITDEPTH", Value: f.BitDepth(), Comment: "significant bits per pixel"})
	if bitpix := f.BitDepth(); bitpix != 8 {
		cards = append(cards,
			fitsio.Card{Name: "BZERO", Value: 32768, Comment: "offset for unsigned 16-bit data"},
			fitsio.Card{Name: "BSCALE", Value: 1.0},
		)
	}
	return cards
}
