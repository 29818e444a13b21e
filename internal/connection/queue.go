package connection

import (
	"time"

	"github.com/google/uuid"
)

// queuedFrame is one pending outbound message.
type queuedFrame struct {
	ID         uuid.UUID
	Data       []byte
	EnqueuedAt time.Time
}

// outboundQueue buffers client→server frames while no live connection exists.
// FIFO: first queued is first sent. Bounded: beyond limit the oldest frame is
// dropped so an indefinitely disconnected client cannot grow without bound.
//
// Only the Manager's event loop touches it, so no locking is needed.
type outboundQueue struct {
	frames  []queuedFrame
	limit   int
	dropped int64
}

func newOutboundQueue(limit int) *outboundQueue {
	if limit < 1 {
		limit = 1
	}
	return &outboundQueue{limit: limit}
}

// push appends a frame, evicting the oldest if the queue is full.
// Returns the evicted frame ID and true if a drop occurred.
func (q *outboundQueue) push(data []byte) (evicted uuid.UUID, droppedOne bool) {
	if len(q.frames) >= q.limit {
		evicted = q.frames[0].ID
		q.frames = q.frames[1:]
		q.dropped++
		droppedOne = true
	}

	q.frames = append(q.frames, queuedFrame{
		ID:         uuid.New(),
		Data:       data,
		EnqueuedAt: time.Now(),
	})
	return evicted, droppedOne
}

// requeue puts drained frames back at the head of the queue, preserving their
// original order and IDs. Used when a flush is interrupted by a send error so
// the unflushed tail survives to the next open. Drop-oldest still applies.
func (q *outboundQueue) requeue(frames []queuedFrame) {
	if len(frames) == 0 {
		return
	}
	merged := make([]queuedFrame, 0, len(frames)+len(q.frames))
	merged = append(merged, frames...)
	merged = append(merged, q.frames...)
	for len(merged) > q.limit {
		merged = merged[1:]
		q.dropped++
	}
	q.frames = merged
}

// drain removes and returns all pending frames in insertion order.
func (q *outboundQueue) drain() []queuedFrame {
	if len(q.frames) == 0 {
		return nil
	}
	out := q.frames
	q.frames = nil
	return out
}

func (q *outboundQueue) len() int {
	return len(q.frames)
}

func (q *outboundQueue) droppedTotal() int64 {
	return q.dropped
}
