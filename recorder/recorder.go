package recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/kbg/sjcam/pv"
)

// Engine timing constants.  The wait timeout bounds how long Stop can take
// to join the worker; the yield keeps the worker from starving callers that
// contend for the session lock.
const (
	defaultNumBuffers = 10
	waitTimeout       = 150 * time.Millisecond
	yieldDelay        = time.Millisecond
	queueEmptyDelay   = 50 * time.Millisecond
)

// Recorder is the capture engine.  It owns a camera Device, a fixed pool of
// frame buffers and the three queues the buffers cycle through.
//
// Lock order: the session lock is always taken before the queue lock when
// both are needed; callers that only touch queues never take the session
// lock, so the pair cannot deadlock.
type Recorder struct {
	dev   Device
	alloc Allocator

	// session lock: serializes all Device access and the cached session
	// state below.
	cameraMu   sync.Mutex
	tsFreq     uint32
	numBuffers int

	// queue lock: serializes the three queues and the external-held count.
	queueMu     sync.Mutex
	input       frameQueue
	inflight    frameQueue
	output      frameQueue
	outstanding int

	stopMu        sync.RWMutex
	stopRequested bool

	runMu   sync.Mutex
	running bool
	wg      sync.WaitGroup

	events publisher
}

// New returns an engine over the given device binding and frame allocator
// with the default pool size of 10 buffers.
func New(dev Device, alloc Allocator) *Recorder {
	return &Recorder{dev: dev, alloc: alloc, numBuffers: defaultNumBuffers}
}

// SetNumBuffers configures the buffer pool size for the next OpenCamera.
// Values below 1 are clamped to 1.
func (r *Recorder) SetNumBuffers(n int) {
	if n < 1 {
		n = 1
	}
	r.cameraMu.Lock()
	r.numBuffers = n
	r.cameraMu.Unlock()
}

// Subscribe registers an event channel with the given buffer depth.  A
// subscriber that falls behind misses events rather than stalling capture.
func (r *Recorder) Subscribe(depth int) <-chan Event {
	return r.events.subscribe(depth)
}

// DroppedEvents reports how many events were lost to slow subscribers.
func (r *Recorder) DroppedEvents() uint64 {
	return r.events.droppedCount()
}

// IsRunning reports whether the capture worker is active.
func (r *Recorder) IsRunning() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.running
}

// IsCameraOpen reports whether a camera session is open.
func (r *Recorder) IsCameraOpen() bool {
	r.cameraMu.Lock()
	defer r.cameraMu.Unlock()
	return r.dev.IsOpen()
}

// CameraInfo returns a snapshot of the open session's description.
func (r *Recorder) CameraInfo() pv.CameraInfo {
	r.cameraMu.Lock()
	defer r.cameraMu.Unlock()
	return r.dev.Info()
}

// CameraInfoString renders the session description for diagnostics.
func (r *Recorder) CameraInfoString() string {
	return r.CameraInfo().InfoString()
}

// OpenCamera opens the device, restores its factory configuration, reads the
// timestamp frequency and allocates the buffer pool into the input queue.
// Any step failing closes the session again and leaves the engine idle.
func (r *Recorder) OpenCamera(id uint32) error {
	if r.IsRunning() {
		err := fmt.Errorf("cannot open camera while recorder is running")
		r.publishError(err.Error())
		return err
	}

	r.publishInfo("Opening camera...")

	r.cameraMu.Lock()
	defer r.cameraMu.Unlock()

	if r.dev.IsOpen() {
		err := fmt.Errorf("camera is already open")
		r.publishError(err.Error())
		return err
	}
	if err := r.dev.Open(id); err != nil {
		r.publishError(err.Error())
		return err
	}
	if err := r.dev.ResetConfig(); err != nil {
		r.dev.Close()
		r.publishError(err.Error())
		return err
	}
	freq, err := r.dev.TimestampFrequency()
	if err != nil {
		r.dev.Close()
		r.publishError(err.Error())
		return err
	}
	r.tsFreq = freq

	info := r.dev.Info()
	bufferBytes := int(info.SensorWidth) * int(info.SensorHeight) * 2
	frames := make([]Frame, 0, r.numBuffers)
	for i := 0; i < r.numBuffers; i++ {
		f, err := r.alloc.Alloc(bufferBytes)
		if err != nil {
			for _, g := range frames {
				g.Free()
			}
			r.dev.Close()
			err = fmt.Errorf("cannot allocate frame buffer %d of %d: %w", i+1, r.numBuffers, err)
			r.publishError(err.Error())
			return err
		}
		frames = append(frames, f)
	}

	r.queueMu.Lock()
	for _, f := range frames {
		r.input.enqueue(f)
	}
	r.outstanding = 0
	r.queueMu.Unlock()

	r.publishInfo("\n" + info.InfoString() + "\n")
	return nil
}

// CloseCamera closes the session and frees every buffer in the three queues.
// It fails while the worker is running or while any buffer is still held by
// an external consumer.  Closing an already-closed session is a no-op.
func (r *Recorder) CloseCamera() error {
	if r.IsRunning() {
		err := fmt.Errorf("cannot close camera while recorder is running")
		r.publishError(err.Error())
		return err
	}

	r.cameraMu.Lock()
	defer r.cameraMu.Unlock()

	if !r.dev.IsOpen() {
		return nil
	}

	r.queueMu.Lock()
	if r.outstanding > 0 {
		held := r.outstanding
		r.queueMu.Unlock()
		err := fmt.Errorf("cannot close camera: %d buffer(s) still held by consumers", held)
		r.publishError(err.Error())
		return err
	}
	var frames []Frame
	frames = append(frames, r.input.drain()...)
	frames = append(frames, r.inflight.drain()...)
	frames = append(frames, r.output.drain()...)
	r.queueMu.Unlock()

	for _, f := range frames {
		f.Free()
	}

	r.publishInfo("Closing camera.")
	return r.dev.Close()
}

// Attribute reads a camera attribute under the session lock.  A device
// failure is surfaced as an error event, not a fatal engine condition.
func (r *Recorder) Attribute(name string) (pv.Value, error) {
	r.cameraMu.Lock()
	v, err := r.dev.Attribute(name)
	r.cameraMu.Unlock()
	if err != nil {
		r.publishError(err.Error())
	}
	return v, err
}

// SetAttribute writes a camera attribute under the session lock.
func (r *Recorder) SetAttribute(name, value string) error {
	r.cameraMu.Lock()
	err := r.dev.SetAttribute(name, value)
	r.cameraMu.Unlock()
	if err != nil {
		r.publishError(err.Error())
	}
	return err
}

// FrameStats queries the driver's statistics counters.
func (r *Recorder) FrameStats() (pv.FrameStats, error) {
	r.cameraMu.Lock()
	st, err := r.dev.FrameStats()
	r.cameraMu.Unlock()
	if err != nil {
		r.publishError(err.Error())
	}
	return st, err
}

// EnqueueFrame returns a previously consumed buffer to the input queue.  It
// is the sole re-entry point to the pool and may be called from any
// goroutine at any time, including while capture is running.
func (r *Recorder) EnqueueFrame(f Frame) {
	if f == nil {
		return
	}
	r.queueMu.Lock()
	r.input.enqueue(f)
	if r.outstanding > 0 {
		r.outstanding--
	}
	r.queueMu.Unlock()
}

// ReadFinishedFrame pops the oldest finished buffer from the output queue,
// or returns false when none is ready.  It never blocks.  The caller owns
// the buffer until it returns it via EnqueueFrame.
func (r *Recorder) ReadFinishedFrame() (Frame, bool) {
	r.queueMu.Lock()
	f, ok := r.output.dequeue()
	if ok {
		r.outstanding++
	}
	r.queueMu.Unlock()
	return f, ok
}

// BufferCounts reports how many buffers sit in each queue and how many are
// held externally.  The four always sum to the pool size while a session is
// open.
func (r *Recorder) BufferCounts() (input, inflight, output, held int) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	return r.input.len(), r.inflight.len(), r.output.len(), r.outstanding
}

// Start launches the capture worker.  It is a no-op when already running.
func (r *Recorder) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	r.stopMu.Lock()
	r.stopRequested = false
	r.stopMu.Unlock()
	r.running = true
	r.wg.Add(1)
	go r.run()
}

// Stop requests the worker to exit and blocks until it has.  The worker
// observes the request between iterations, so the latency is bounded by one
// wait timeout.  Stopping a stopped engine is a no-op.
func (r *Recorder) Stop() {
	r.stopMu.Lock()
	r.stopRequested = true
	r.stopMu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) isStopRequested() bool {
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()
	return r.stopRequested
}

func (r *Recorder) publishInfo(msg string) {
	r.events.publish(Event{Kind: EventInfo, Message: msg})
}

func (r *Recorder) publishError(msg string) {
	r.events.publish(Event{Kind: EventError, Message: msg})
}

// drainInput empties the input queue into a private list, minimizing the
// time the queue lock is held.
func (r *Recorder) drainInput() []Frame {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	return r.input.drain()
}

// registerFrames moves buffers into the inflight queue and registers each
// with the device.  A registration failure is unrecoverable for the run; the
// failed buffer is already in the inflight queue so the unwind path can
// reconcile it, and the unregistered remainder of the batch goes straight
// back to the input queue so no buffer is left outside a queue.  Callers
// hold the session lock.
func (r *Recorder) registerFrames(frames []Frame) error {
	for i, f := range frames {
		r.queueMu.Lock()
		r.inflight.enqueue(f)
		r.queueMu.Unlock()
		if err := r.dev.EnqueueFrame(f); err != nil {
			r.queueMu.Lock()
			for _, rest := range frames[i+1:] {
				r.input.enqueue(rest)
			}
			r.queueMu.Unlock()
			return err
		}
	}
	return nil
}

// reconcileInflight pushes everything left in the inflight queue back to
// input after a device-side queue clear, restoring buffer conservation
// before the next run.
func (r *Recorder) reconcileInflight() {
	r.queueMu.Lock()
	for _, f := range r.inflight.drain() {
		r.input.enqueue(f)
	}
	r.queueMu.Unlock()
}

// unwindStartup reverses a partial startup: the frame queue is cleared and
// capturing stopped.  Device failures during unwind are reported but do not
// change the unwind order.  Callers hold the session lock.
func (r *Recorder) unwindStartup() {
	if err := r.dev.ClearFrameQueue(); err != nil {
		r.publishError(err.Error())
	}
	r.reconcileInflight()
	if err := r.dev.StopCapture(); err != nil {
		r.publishError(err.Error())
	}
}

// unwindRun reverses a full running state in the fixed order stop
// acquisition, clear frame queue, stop capturing.  Callers hold the session
// lock.
func (r *Recorder) unwindRun() {
	if err := r.dev.StopAcquisition(); err != nil {
		r.publishError(err.Error())
	}
	r.unwindStartup()
}

// run is the capture worker.  It is the only goroutine that drives the
// device's capture and acquisition lifecycle and the only one that moves
// buffers between the inflight and output queues.
func (r *Recorder) run() {
	defer r.wg.Done()
	defer func() {
		r.runMu.Lock()
		r.running = false
		r.runMu.Unlock()
		r.events.publish(Event{Kind: EventStopped})
	}()
	r.events.publish(Event{Kind: EventStarted})

	runStart := time.Now()

	transfer := r.drainInput()

	r.cameraMu.Lock()
	if err := r.dev.StartCapture(); err != nil {
		r.queueMu.Lock()
		for _, f := range transfer {
			r.input.enqueue(f)
		}
		r.queueMu.Unlock()
		r.cameraMu.Unlock()
		r.publishError(err.Error())
		return
	}
	if err := r.registerFrames(transfer); err != nil {
		r.unwindStartup()
		r.cameraMu.Unlock()
		r.publishError(err.Error())
		return
	}
	if err := r.dev.StartAcquisition(); err != nil {
		r.unwindStartup()
		r.cameraMu.Unlock()
		r.publishError(err.Error())
		return
	}
	r.cameraMu.Unlock()

	var seq uint64 = 1
	for !r.isStopRequested() {
		// yield so control and consumer goroutines contending for the
		// session lock get a chance between iterations
		time.Sleep(yieldDelay)

		transfer := r.drainInput()

		r.cameraMu.Lock()
		if len(transfer) > 0 {
			if err := r.registerFrames(transfer); err != nil {
				r.unwindRun()
				r.cameraMu.Unlock()
				r.publishError(err.Error())
				return
			}
		}

		r.queueMu.Lock()
		front, ok := r.inflight.peek()
		r.queueMu.Unlock()
		if !ok {
			r.cameraMu.Unlock()
			r.publishError("Capture queue is empty.")
			time.Sleep(queueEmptyDelay)
			continue
		}

		timedOut, err := r.dev.WaitFrameDone(front, waitTimeout)
		if err != nil {
			if timedOut {
				// still in flight, try again next iteration
				r.cameraMu.Unlock()
				continue
			}
			r.unwindRun()
			r.cameraMu.Unlock()
			r.publishError(err.Error())
			return
		}

		hi, lo := front.Timestamp()
		info := FrameInfo{
			ID:          seq,
			FrameCount:  front.FrameCount(),
			Status:      front.Status(),
			Timestamp:   pv.Timestamp(hi, lo, r.tsFreq, 1e6),
			HostElapsed: time.Since(runStart).Milliseconds(),
			HostUTC:     time.Now().UTC().UnixMilli(),
		}
		seq++

		r.queueMu.Lock()
		f, _ := r.inflight.dequeue()
		r.output.enqueue(f)
		r.queueMu.Unlock()
		r.cameraMu.Unlock()

		r.events.publish(Event{Kind: EventFrame, Frame: info})
	}

	r.cameraMu.Lock()
	r.unwindRun()
	r.cameraMu.Unlock()
}
