package recorder

import (
	"sync"

	"github.com/kbg/sjcam/pv"
)

// FrameInfo is the per-completion record published to subscribers.  The
// frame buffer itself crosses to consumers separately via ReadFinishedFrame.
type FrameInfo struct {
	// ID is assigned by the engine, starts at 1 for each capture run and
	// increments without gaps for every completion regardless of status.
	ID uint64 `json:"id"`

	// FrameCount is the camera's own counter; it wraps at 65535.
	FrameCount uint32 `json:"frameCount"`

	// Status is the driver completion code; non-success frames still get
	// an ID and still reach the output queue.
	Status pv.ErrCode `json:"status"`

	// Timestamp is the camera timestamp converted to microseconds since
	// camera power-on.
	Timestamp int64 `json:"timestamp"`

	// HostElapsed is the host monotonic time since the capture run
	// started; HostUTC is the host wall clock in UTC milliseconds.  Both
	// are diagnostics only.
	HostElapsed int64 `json:"hostElapsed"`
	HostUTC     int64 `json:"hostUtc"`
}

// EventKind discriminates engine events.
type EventKind int

// The engine event kinds.
const (
	EventInfo EventKind = iota
	EventError
	EventFrame
	EventStarted
	EventStopped
)

// Event is one engine notification.  Message is set for info and error
// events, Frame for frame events.
type Event struct {
	Kind    EventKind
	Message string
	Frame   FrameInfo
}

// publisher fans events out to subscriber channels.  Delivery never blocks
// the worker: a subscriber whose channel is full misses the event and has
// its drop counter incremented.
type publisher struct {
	mu      sync.Mutex
	subs    []chan Event
	dropped uint64
}

// subscribe registers a new subscriber with the given buffer depth.
func (p *publisher) subscribe(depth int) <-chan Event {
	if depth < 1 {
		depth = 1
	}
	ch := make(chan Event, depth)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// publish delivers ev to every subscriber that has room.
func (p *publisher) publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.dropped++
		}
	}
}

// droppedCount returns how many events were lost to slow subscribers.
func (p *publisher) droppedCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
