package recorder

// frameQueue is a FIFO of frame ownership handles.  It is not synchronized;
// the engine guards all three queues with one queue lock.
type frameQueue struct {
	frames []Frame
}

func (q *frameQueue) enqueue(f Frame) {
	q.frames = append(q.frames, f)
}

func (q *frameQueue) dequeue() (Frame, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) peek() (Frame, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	return q.frames[0], true
}

func (q *frameQueue) len() int {
	return len(q.frames)
}

// drain empties the queue and returns its contents in order.
func (q *frameQueue) drain() []Frame {
	out := q.frames
	q.frames = nil
	return out
}
