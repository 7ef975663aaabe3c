package fitsrec

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/kbg/sjcam/pv"
)

type testFrame struct {
	buf    []byte
	w, h   int
	depth  int
	status pv.ErrCode
	count  uint32
}

func (f *testFrame) Bytes() []byte               { return f.buf }
func (f *testFrame) Capacity() int               { return len(f.buf) }
func (f *testFrame) Width() int                  { return f.w }
func (f *testFrame) Height() int                 { return f.h }
func (f *testFrame) BitDepth() int               { return f.depth }
func (f *testFrame) FrameCount() uint32          { return f.count }
func (f *testFrame) Status() pv.ErrCode          { return f.status }
func (f *testFrame) Timestamp() (uint32, uint32) { return 0, 5000 }
func (f *testFrame) ExposureTicks() uint32       { return 10000 }
func (f *testFrame) Free()                       {}

func frame16(count uint32) *testFrame {
	buf := make([]byte, 4*2*2)
	for i := range buf {
		buf[i] = byte(i)
	}
	return &testFrame{buf: buf, w: 4, h: 2, depth: 12, count: count}
}

func listFits(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriterDisarmedByDefault(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "test")
	wrote, err := w.ProcessFrame(frame16(1))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if wrote {
		t.Fatal("disarmed writer wrote a frame")
	}
	if names := listFits(t, dir); len(names) != 0 {
		t.Fatalf("unexpected files %v", names)
	}
}

func TestWriteNextCountAndStepping(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "test")
	w.SetCameraInfo(pv.CameraInfo{
		ModelName:          "GC1380M",
		SerialNumber:       "02-2110A-06001",
		HwAddress:          "00-0A-47-01-23-45",
		FirmwareVersion:    "1.36.0",
		TimestampFrequency: 1e6,
	})
	w.SetDeviceName("sjcam")

	w.WriteNext(2, 2)
	if p := w.Pending(); p != 2 {
		t.Fatalf("Pending after arming = %d, want 2", p)
	}

	var wrotes []bool
	for i := 0; i < 5; i++ {
		wrote, err := w.ProcessFrame(frame16(uint32(i + 1)))
		if err != nil {
			t.Fatalf("ProcessFrame %d: %v", i, err)
		}
		wrotes = append(wrotes, wrote)
	}
	want := []bool{true, false, true, false, false}
	for i := range want {
		if wrotes[i] != want[i] {
			t.Fatalf("write pattern = %v, want %v", wrotes, want)
		}
	}
	if p := w.Pending(); p != 0 {
		t.Fatalf("Pending after sequence = %d, want 0", p)
	}

	names := listFits(t, dir)
	if len(names) != 2 {
		t.Fatalf("wrote %d files, want 2: %v", len(names), names)
	}
	pattern := regexp.MustCompile(`^test_\d{8}-\d{9}\.fits$`)
	for _, name := range names {
		if !pattern.MatchString(name) {
			t.Fatalf("file name %q does not match the naming scheme", name)
		}
		if strings.HasSuffix(name, ".tmp") {
			t.Fatalf("temporary file %q left behind", name)
		}
	}
}

func TestFailedFramesDoNotCount(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "test")
	w.WriteNext(1, 1)

	bad := frame16(1)
	bad.status = pv.ErrDataMissing
	if wrote, _ := w.ProcessFrame(bad); wrote {
		t.Fatal("failed frame was written")
	}
	if p := w.Pending(); p != 1 {
		t.Fatalf("Pending after failed frame = %d, want 1", p)
	}

	wrote, err := w.ProcessFrame(frame16(2))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if !wrote {
		t.Fatal("successful frame after failure was not written")
	}
}

func TestWrittenFileIsFits(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "cam")
	w.SetCreator("SjcServer v1.0.0")
	w.WriteNext(1, 1)

	if _, err := w.ProcessFrame(frame16(1)); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	names := listFits(t, dir)
	if len(names) != 1 {
		t.Fatalf("wrote %d files, want 1", len(names))
	}
	data, err := os.ReadFile(filepath.Join(dir, names[0]))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(data), "SIMPLE  =") {
		t.Fatalf("file does not start with a FITS header: %q", data[:16])
	}
	header := string(data[:2880])
	for _, key := range []string{"CREATOR", "FRAME-NO", "TIMESTAM", "EXPTIME", "BITDEPTH"} {
		if !strings.Contains(header, key) {
			t.Fatalf("header is missing %s", key)
		}
	}
}

func TestEightBitFrames(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "cam")
	w.WriteNext(1, 1)

	buf := make([]byte, 4*2)
	for i := range buf {
		buf[i] = byte(i * 10)
	}
	f := &testFrame{buf: buf, w: 4, h: 2, depth: 8, count: 1}
	wrote, err := w.ProcessFrame(f)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if !wrote {
		t.Fatal("8-bit frame was not written")
	}
}
