package sjcserver

import (
	"sync"
	"time"

	"github.com/brandondube/ringo"
)

// Telemetry keeps a ring of recent frame completion times and the intervals
// between them, giving a host-side frame rate independent of the driver's
// statistics counters.
type Telemetry struct {
	mu        sync.Mutex
	times     ringo.CircleTime
	intervals ringo.CircleF64
	last      time.Time
	total     uint64
}

// TelemetrySnapshot is the JSON view served by the diagnostics surface.
// Window is the time span covered by the buffered completions.
type TelemetrySnapshot struct {
	Total       uint64    `json:"total"`
	MeasuredFPS float64   `json:"measuredFps"`
	Window      float64   `json:"window"`
	LastFrame   time.Time `json:"lastFrame"`
}

// NewTelemetry returns telemetry averaging over the last depth frames.
func NewTelemetry(depth int) *Telemetry {
	if depth < 2 {
		depth = 2
	}
	t := &Telemetry{}
	t.times.Init(depth)
	t.intervals.Init(depth)
	return t
}

// Record notes one frame completion.
func (t *Telemetry) Record(now time.Time) {
	t.mu.Lock()
	t.times.Append(now)
	if t.total > 0 {
		t.intervals.Append(now.Sub(t.last).Seconds())
	}
	t.last = now
	t.total++
	t.mu.Unlock()
}

// MeasuredFPS returns the frame rate over the buffered intervals, or 0
// before two frames have completed.
func (t *Telemetry) MeasuredFPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fpsLocked()
}

func (t *Telemetry) fpsLocked() float64 {
	if t.total < 2 {
		return 0
	}
	var sum float64
	iv := t.intervals.Contiguous()
	for _, v := range iv {
		sum += v
	}
	if sum <= 0 {
		return 0
	}
	return float64(len(iv)) / sum
}

// Snapshot returns the current telemetry view.
func (t *Telemetry) Snapshot() TelemetrySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TelemetrySnapshot{
		Total:       t.total,
		MeasuredFPS: t.fpsLocked(),
		Window:      t.windowLocked(),
		LastFrame:   t.last,
	}
}

func (t *Telemetry) windowLocked() float64 {
	ts := t.times.Contiguous()
	if len(ts) < 2 {
		return 0
	}
	return ts[len(ts)-1].Sub(ts[0]).Seconds()
}
