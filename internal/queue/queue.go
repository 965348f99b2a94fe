package queue

import (
	"sync"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
)

// Outbound is one queued event with its delivery attempt counter.
type Outbound struct {
	// Event is the sequenced event awaiting acknowledgment.
	Event alarm.Event
	// Attempts counts how many times the event has been transmitted.
	Attempts int
}

// Queue is one client's FIFO of unacknowledged outbound events.
//
// Sequence assignment, append and purge are serialized under a single
// mutex; delivery itself happens outside the lock. Delivery is
// at-least-once: an entry stays queued until the server's cumulative
// acknowledgment covers its sequence number.
type Queue struct {
	// mu guards sequence assignment and the entries slice.
	mu sync.Mutex
	// nextSequence is the next sequence number to assign, starting at 1.
	nextSequence uint64
	// entries holds unacknowledged events in ascending sequence order.
	entries []*Outbound
	// wake signals the sender loop that there is work to do.
	wake chan struct{}
}

// New creates an empty queue with sequence numbering starting at 1.
func New() *Queue {
	return &Queue{
		nextSequence: 1,
		wake:         make(chan struct{}, 1),
	}
}

// Resume restores the sequence counter from a persisted snapshot. It is
// only valid on an empty queue, before the first Enqueue.
func (q *Queue) Resume(nextSequence uint64) {
	if nextSequence == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		q.nextSequence = nextSequence
	}
}

// Wake returns the channel the sender loop multiplexes on.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Signal wakes the sender loop without enqueueing anything.
func (q *Queue) Signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue assigns the next sequence number, appends the event at the tail
// and wakes the sender. Events whose type is never sequenced (pings and
// inferred events) are returned unchanged and not stored: pings bypass the
// queue entirely and inferred events never leave the host.
func (q *Queue) Enqueue(event alarm.Event) alarm.Event {
	if !event.Type.Sequenced() {
		return event
	}

	q.mu.Lock()
	event.Sequence = q.nextSequence
	q.nextSequence++
	q.entries = append(q.entries, &Outbound{Event: event})
	q.mu.Unlock()

	q.Signal()

	return event
}

// Purge removes every entry whose sequence number is strictly below
// ackSeq and reports how many were removed. Entries are tail-inserted in
// ascending order, so the scan stops at the first sequence >= ackSeq.
func (q *Queue) Purge(ackSeq uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := 0
	for kept < len(q.entries) && q.entries[kept].Event.Sequence < ackSeq {
		kept++
	}

	if kept == 0 {
		return 0
	}

	q.entries = append(q.entries[:0:0], q.entries[kept:]...)

	return kept
}

// Pending snapshots the queued events in ascending sequence order for a
// retransmission pass. The pass never reorders or skips entries. Attempt
// counters are bumped by MarkAttempted at the send site, not here: a
// snapshot that never reaches the wire is not an attempt.
func (q *Queue) Pending() []Outbound {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make([]Outbound, 0, len(q.entries))
	for _, entry := range q.entries {
		snapshot = append(snapshot, *entry)
	}

	return snapshot
}

// MarkAttempted increments the attempt counter of the entry with the given
// sequence number. Callers invoke it after the event actually leaves the
// host. An already-purged sequence is a no-op.
func (q *Queue) MarkAttempted(sequence uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range q.entries {
		if entry.Event.Sequence == sequence {
			entry.Attempts++
			return
		}
	}
}

// Len reports how many events await acknowledgment.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// NextSequence reports the sequence number the next event will receive.
func (q *Queue) NextSequence() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.nextSequence
}
