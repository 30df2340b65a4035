// Package eventbus delivers per-task progress events to live subscribers
// (the Boundary's WebSocket handler, primarily) without ever blocking the
// executor goroutine that publishes them. Each subscriber gets a bounded
// ring buffer; a slow reader loses its oldest unread events rather than
// stalling the publisher, and the dropped envelope it eventually reads
// carries a marker saying so.
//
// The locking and background-dispatch shape is the same one the teacher
// uses in pkg/audio/mixer.PriorityMixer: a mutex-guarded registry, a
// per-subscriber channel, and non-blocking sends from the producer side —
// generalized here from "one mixer, one output callback" to "one bus, many
// per-task subscriber channels."
package eventbus

import (
	"sync"
	"time"
)

// EventType identifies the kind of progress event carried by an Envelope.
type EventType string

const (
	EventStageStarted         EventType = "stage_started"
	EventStageProgress        EventType = "stage_progress"
	EventStageSucceeded       EventType = "stage_succeeded"
	EventStageFailed          EventType = "stage_failed"
	EventTaskStatus           EventType = "task_status"
	EventResynthesizeComplete EventType = "resynthesize_complete"
	EventRegenerateComplete   EventType = "regenerate_complete"
)

// Envelope is one published event. Fields not relevant to a given Type are
// left zero.
type Envelope struct {
	TaskID    string    `json:"task_id"`
	Type      EventType `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	// Status carries the task's coarse status string for EventTaskStatus
	// envelopes; zero value for every other event type.
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Progress  float64   `json:"progress,omitempty"`   // 0.0-1.0 within the current stage
	Current   int       `json:"current,omitempty"`    // current_segment
	Total     int       `json:"total,omitempty"`      // total_segments
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`

	// Dropped is set on the first envelope a subscriber receives after its
	// ring buffer overflowed, so a client can detect it missed events
	// instead of silently believing it saw every one.
	Dropped bool `json:"dropped,omitempty"`
}

// DefaultQueueCapacity is the default number of buffered envelopes per
// subscriber before the ring buffer starts dropping the oldest unread
// event (event_queue_capacity in configuration).
const DefaultQueueCapacity = 64

// Bus is a per-task publish/subscribe event bus. The zero value is not
// usable; construct with [New].
type Bus struct {
	capacity int

	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}
	lastSeq     map[string]uint64
	snapshot    map[string]Envelope // most recent envelope per task, for late subscribers
}

type subscriber struct {
	ch      chan Envelope
	dropped bool
}

// New creates a Bus whose subscriber channels buffer up to capacity
// envelopes. A non-positive capacity falls back to DefaultQueueCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Bus{
		capacity:    capacity,
		subscribers: make(map[string]map[*subscriber]struct{}),
		lastSeq:     make(map[string]uint64),
		snapshot:    make(map[string]Envelope),
	}
}

// Subscribe registers a new listener for taskID's events. The returned
// channel immediately receives a snapshot of the most recent envelope
// published for this task (if any), so a subscriber that connects mid-task
// isn't blind to everything that already happened. Call the returned
// unsubscribe function exactly once when done listening; it closes the
// channel.
func (b *Bus) Subscribe(taskID string) (<-chan Envelope, func()) {
	sub := &subscriber{ch: make(chan Envelope, b.capacity)}

	b.mu.Lock()
	if b.subscribers[taskID] == nil {
		b.subscribers[taskID] = make(map[*subscriber]struct{})
	}
	b.subscribers[taskID][sub] = struct{}{}
	snap, ok := b.snapshot[taskID]
	b.mu.Unlock()

	if ok {
		sub.ch <- snap
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[taskID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.subscribers, taskID)
			}
		}
		close(sub.ch)
	}
	return sub.ch, unsubscribe
}

// Publish delivers env to every current subscriber of env.TaskID. Publish
// never blocks: a subscriber whose buffer is full has its oldest
// unread envelope dropped to make room. Sequence and Timestamp are
// stamped here, overwriting any caller-supplied values, so ordering is
// always bus-assigned.
func (b *Bus) Publish(env Envelope) {
	b.mu.Lock()
	b.lastSeq[env.TaskID]++
	env.Sequence = b.lastSeq[env.TaskID]
	env.Timestamp = now()
	b.snapshot[env.TaskID] = env

	subs := make([]*subscriber, 0, len(b.subscribers[env.TaskID]))
	for s := range b.subscribers[env.TaskID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(env)
	}
}

// deliver performs the non-blocking ring-buffer send: try to enqueue; if
// full, drop the oldest queued envelope and retry once, marking the next
// successfully delivered envelope as Dropped.
func (s *subscriber) deliver(env Envelope) {
	if s.dropped {
		env.Dropped = true
		s.dropped = false
	}
	select {
	case s.ch <- env:
		return
	default:
	}
	select {
	case <-s.ch:
		env.Dropped = true
	default:
	}
	select {
	case s.ch <- env:
	default:
		// Buffer refilled concurrently by a reader faster than we could
		// retry; mark the next envelope dropped and move on rather than
		// spin.
		s.dropped = true
	}
}

// now is a var so tests could swap it if ever needed; Envelope.Timestamp is
// otherwise just wall-clock time.
var now = time.Now
