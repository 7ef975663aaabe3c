package recorder

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbg/sjcam/pv"
)

type fakeFrame struct {
	buf    []byte
	freed  bool
	count  uint32
	status pv.ErrCode
	hi, lo uint32
	expo   uint32
}

func (f *fakeFrame) Bytes() []byte              { return f.buf }
func (f *fakeFrame) Capacity() int              { return len(f.buf) }
func (f *fakeFrame) Width() int                 { return 8 }
func (f *fakeFrame) Height() int                { return 4 }
func (f *fakeFrame) BitDepth() int              { return 12 }
func (f *fakeFrame) FrameCount() uint32         { return f.count }
func (f *fakeFrame) Status() pv.ErrCode         { return f.status }
func (f *fakeFrame) Timestamp() (uint32, uint32) { return f.hi, f.lo }
func (f *fakeFrame) ExposureTicks() uint32      { return f.expo }
func (f *fakeFrame) Free()                      { f.freed = true }

type fakeAllocator struct {
	mu     sync.Mutex
	frames []*fakeFrame
	failAt int // 1-based allocation index that fails, 0 for never
}

func (a *fakeAllocator) Alloc(pixelBytes int) (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAt > 0 && len(a.frames)+1 == a.failAt {
		return nil, errors.New("out of memory")
	}
	f := &fakeFrame{buf: make([]byte, pixelBytes)}
	a.frames = append(a.frames, f)
	return f, nil
}

func (a *fakeAllocator) allocated() []*fakeFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*fakeFrame(nil), a.frames...)
}

// fakeDevice completes the frame at the front of its capture queue on every
// wait, assigning ascending frame counters.  It checks the invariant that
// the engine only ever waits on the oldest registered frame.
type fakeDevice struct {
	mu         sync.Mutex
	open       bool
	capturing  bool
	acquiring  bool
	queue      []Frame
	frameCount uint32

	openErr        error
	enqueueErrAt   int // 1-based registration index that fails, 0 for never
	enqueues       int
	badStatusEvery uint32
}

func (d *fakeDevice) Open(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.open = true
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *fakeDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDevice) ResetConfig() error { return nil }

func (d *fakeDevice) Info() pv.CameraInfo {
	return pv.CameraInfo{
		UniqueID:     4660,
		CameraName:   "GC1380M",
		ModelName:    "GC1380M",
		SensorWidth:  8,
		SensorHeight: 4,
		SensorBits:   12,
	}
}

func (d *fakeDevice) TimestampFrequency() (uint32, error) { return 1e6, nil }

func (d *fakeDevice) StartCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.New("cannot start capturing: camera is not open")
	}
	d.capturing = true
	return nil
}

func (d *fakeDevice) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capturing = false
	return nil
}

func (d *fakeDevice) EnqueueFrame(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueues++
	if d.enqueueErrAt > 0 && d.enqueues == d.enqueueErrAt {
		return errors.New("cannot enqueue frame: resources")
	}
	d.queue = append(d.queue, f)
	return nil
}

func (d *fakeDevice) ClearFrameQueue() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = nil
	return nil
}

func (d *fakeDevice) StartAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquiring = true
	return nil
}

func (d *fakeDevice) StopAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquiring = false
	return nil
}

func (d *fakeDevice) WaitFrameDone(f Frame, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquiring || len(d.queue) == 0 {
		return true, pv.ErrTimeout
	}
	front := d.queue[0]
	if front != f {
		return false, errors.New("wait on a frame that is not at the queue front")
	}
	d.queue = d.queue[1:]
	d.frameCount++
	ff := front.(*fakeFrame)
	ff.count = d.frameCount
	ff.status = pv.ErrSuccess
	if d.badStatusEvery > 0 && d.frameCount%d.badStatusEvery == 0 {
		ff.status = pv.ErrDataMissing
	}
	ff.hi = 0
	ff.lo = d.frameCount * 1000
	ff.expo = 10000
	return false, nil
}

func (d *fakeDevice) Attribute(name string) (pv.Value, error) {
	if name == "ExposureValue" {
		return pv.Uint32Value(10000), nil
	}
	return pv.Value{}, errors.New("cannot get attribute " + name)
}

func (d *fakeDevice) SetAttribute(name, text string) error {
	if name == "ExposureValue" {
		return nil
	}
	return errors.New("cannot set attribute " + name)
}

func (d *fakeDevice) FrameStats() (pv.FrameStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return pv.FrameStats{FPS: 10, Completed: d.frameCount}, nil
}

func (d *fakeDevice) isCapturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

func newTestRecorder(nbuf int) (*Recorder, *fakeDevice, *fakeAllocator) {
	dev := &fakeDevice{}
	alloc := &fakeAllocator{}
	r := New(dev, alloc)
	r.SetNumBuffers(nbuf)
	return r, dev, alloc
}

func waitForStopped(t *testing.T, r *Recorder) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("recorder did not stop in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpenCameraAllocatesPool(t *testing.T) {
	r, dev, alloc := newTestRecorder(3)
	if err := r.OpenCamera(0); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	if !dev.IsOpen() {
		t.Fatal("device not open after OpenCamera")
	}
	in, fl, out, held := r.BufferCounts()
	if in != 3 || fl != 0 || out != 0 || held != 0 {
		t.Fatalf("queues after open = %d/%d/%d/%d, want 3/0/0/0", in, fl, out, held)
	}
	frames := alloc.allocated()
	if len(frames) != 3 {
		t.Fatalf("allocated %d buffers, want 3", len(frames))
	}
	// pool buffers are sized for the full sensor at 16 bits per pixel
	want := 8 * 4 * 2
	for _, f := range frames {
		if f.Capacity() != want {
			t.Fatalf("buffer capacity = %d, want %d", f.Capacity(), want)
		}
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera: %v", err)
	}
}

func TestOpenCameraTwiceFails(t *testing.T) {
	r, _, _ := newTestRecorder(1)
	if err := r.OpenCamera(0); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	if err := r.OpenCamera(0); err == nil {
		t.Fatal("second OpenCamera succeeded, want error")
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera: %v", err)
	}
}

func TestOpenCameraDeviceFailure(t *testing.T) {
	r, dev, alloc := newTestRecorder(2)
	dev.openErr = errors.New("no camera found")
	if err := r.OpenCamera(0); err == nil {
		t.Fatal("OpenCamera succeeded, want error")
	}
	if r.IsCameraOpen() {
		t.Fatal("camera reported open after failed OpenCamera")
	}
	if n := len(alloc.allocated()); n != 0 {
		t.Fatalf("%d buffers allocated despite open failure", n)
	}
}

func TestOpenCameraAllocFailureUnwinds(t *testing.T) {
	r, dev, alloc := newTestRecorder(3)
	alloc.failAt = 2
	if err := r.OpenCamera(0); err == nil {
		t.Fatal("OpenCamera succeeded, want allocation error")
	}
	if dev.IsOpen() {
		t.Fatal("device left open after allocation failure")
	}
	for i, f := range alloc.allocated() {
		if !f.freed {
			t.Fatalf("buffer %d not freed after allocation failure", i)
		}
	}
}

func TestCloseCameraIdempotent(t *testing.T) {
	r, _, alloc := newTestRecorder(2)
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera on closed session: %v", err)
	}
	if err := r.OpenCamera(0); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera: %v", err)
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("second CloseCamera: %v", err)
	}
	for i, f := range alloc.allocated() {
		if !f.freed {
			t.Fatalf("buffer %d not freed by CloseCamera", i)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	r, _, _ := newTestRecorder(1)
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop on idle recorder blocked")
	}
}

func TestCaptureCycle(t *testing.T) {
	r, dev, _ := newTestRecorder(3)
	dev.badStatusEvery = 4
	if err := r.OpenCamera(0); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	events := r.Subscribe(1024)

	r.Start()
	if !r.IsRunning() {
		t.Fatal("recorder not running after Start")
	}

	// cycle buffers like a consumer would: read, record, return
	const wantFrames = 10
	var counts []uint32
	var infos []FrameInfo
	deadline := time.Now().Add(5 * time.Second)
	for len(counts) < wantFrames {
		if time.Now().After(deadline) {
			t.Fatalf("got %d frames before deadline, want %d", len(counts), wantFrames)
		}
		f, ok := r.ReadFinishedFrame()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		counts = append(counts, f.FrameCount())
		r.EnqueueFrame(f)
	}
	r.Stop()
	waitForStopped(t, r)

	// output order matches completion order
	for i := 1; i < len(counts); i++ {
		if counts[i] != counts[i-1]+1 {
			t.Fatalf("frame counts out of order: %v", counts)
		}
	}

	// drain remaining finished frames, then every buffer must be back in
	// the pool
	for {
		f, ok := r.ReadFinishedFrame()
		if !ok {
			break
		}
		r.EnqueueFrame(f)
	}
	in, fl, out, held := r.BufferCounts()
	if in != 3 || fl != 0 || out != 0 || held != 0 {
		t.Fatalf("queues after stop = %d/%d/%d/%d, want 3/0/0/0", in, fl, out, held)
	}

	// engine IDs start at 1 and increment without gaps, bad-status
	// completions included
	var sawStarted, sawStopped, sawBadStatus bool
drain:
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventStarted:
				sawStarted = true
			case EventStopped:
				sawStopped = true
			case EventFrame:
				infos = append(infos, ev.Frame)
				if ev.Frame.Status == pv.ErrDataMissing {
					sawBadStatus = true
				}
			}
		default:
			break drain
		}
	}
	if !sawStarted || !sawStopped {
		t.Fatalf("missing lifecycle events: started=%v stopped=%v", sawStarted, sawStopped)
	}
	if !sawBadStatus {
		t.Fatal("no frame event with a failure status was published")
	}
	if len(infos) == 0 {
		t.Fatal("no frame events published")
	}
	for i, info := range infos {
		if info.ID != uint64(i+1) {
			t.Fatalf("frame event %d has ID %d, want %d", i, info.ID, i+1)
		}
		if info.Timestamp != int64(info.FrameCount)*1000 {
			t.Fatalf("frame %d timestamp = %d, want %d", info.FrameCount, info.Timestamp, int64(info.FrameCount)*1000)
		}
	}

	if dev.isCapturing() {
		t.Fatal("device still capturing after Stop")
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera: %v", err)
	}
}

func TestCloseCameraRefusedWhileBufferHeld(t *testing.T) {
	r, _, _ := newTestRecorder(2)
	if err := r.OpenCamera(0); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	r.Start()

	var held Frame
	deadline := time.Now().Add(5 * time.Second)
	for held == nil {
		if time.Now().After(deadline) {
			t.Fatal("no finished frame before deadline")
		}
		f, ok := r.ReadFinishedFrame()
		if ok {
			held = f
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	r.Stop()
	waitForStopped(t, r)

	err := r.CloseCamera()
	if err == nil {
		t.Fatal("CloseCamera succeeded while a buffer was held")
	}
	if !strings.Contains(err.Error(), "held") {
		t.Fatalf("unexpected close error: %v", err)
	}

	r.EnqueueFrame(held)
	for {
		f, ok := r.ReadFinishedFrame()
		if !ok {
			break
		}
		r.EnqueueFrame(f)
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera after returning buffers: %v", err)
	}
}

func TestStartUnwindsOnRegistrationFailure(t *testing.T) {
	// a registration failure anywhere in the batch must leave no buffer
	// outside a queue: already-registered buffers are reconciled from the
	// inflight queue, the unregistered remainder goes back to input
	for failAt := 1; failAt <= 3; failAt++ {
		r, dev, _ := newTestRecorder(3)
		if err := r.OpenCamera(0); err != nil {
			t.Fatalf("failAt=%d: OpenCamera: %v", failAt, err)
		}
		dev.enqueueErrAt = failAt
		events := r.Subscribe(16)

		r.Start()
		waitForStopped(t, r)

		var sawError bool
		for {
			select {
			case ev := <-events:
				if ev.Kind == EventError {
					sawError = true
				}
				continue
			default:
			}
			break
		}
		if !sawError {
			t.Fatalf("failAt=%d: no error event after registration failure", failAt)
		}

		in, fl, out, held := r.BufferCounts()
		if in != 3 || fl != 0 || out != 0 || held != 0 {
			t.Fatalf("failAt=%d: queues after failed start = %d/%d/%d/%d, want 3/0/0/0",
				failAt, in, fl, out, held)
		}
		if dev.isCapturing() {
			t.Fatalf("failAt=%d: device still capturing after failed start", failAt)
		}

		// the session survives a failed run
		dev.enqueueErrAt = 0
		if err := r.CloseCamera(); err != nil {
			t.Fatalf("failAt=%d: CloseCamera: %v", failAt, err)
		}
	}
}

func TestStartWithoutCameraStops(t *testing.T) {
	r, _, _ := newTestRecorder(1)
	events := r.Subscribe(16)
	r.Start()
	waitForStopped(t, r)

	var sawError bool
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventError {
				sawError = true
			}
			continue
		default:
		}
		break
	}
	if !sawError {
		t.Fatal("no error event when starting without an open camera")
	}
}

func TestAttributeErrorsAreReported(t *testing.T) {
	r, _, _ := newTestRecorder(1)
	if err := r.OpenCamera(0); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	events := r.Subscribe(4)

	if _, err := r.Attribute("ExposureValue"); err != nil {
		t.Fatalf("Attribute(ExposureValue): %v", err)
	}
	if _, err := r.Attribute("NoSuchAttr"); err == nil {
		t.Fatal("Attribute(NoSuchAttr) succeeded, want error")
	}
	select {
	case ev := <-events:
		if ev.Kind != EventError {
			t.Fatalf("event kind = %v, want error event", ev.Kind)
		}
	default:
		t.Fatal("no error event for failed attribute read")
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera: %v", err)
	}
}

func TestSetNumBuffersClamped(t *testing.T) {
	r, _, alloc := newTestRecorder(0)
	if err := r.OpenCamera(0); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	if n := len(alloc.allocated()); n != 1 {
		t.Fatalf("allocated %d buffers, want 1 (clamped)", n)
	}
	if err := r.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera: %v", err)
	}
}
