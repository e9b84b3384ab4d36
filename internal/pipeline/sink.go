package pipeline

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/queue"
)

// Sink receives finalized records for display. Publish must not block.
type Sink interface {
	Publish(fusion.TagObjectLocation)
	// RunOver is called once after end-of-run finalization.
	RunOver()
}

// QueueSink buffers published records in an unbounded queue. The queue is
// closed by RunOver, so readers see Done once the run is over and every
// record has been drained.
type QueueSink struct {
	q *queue.Queue[fusion.TagObjectLocation]
}

// NewQueueSink returns an empty QueueSink.
func NewQueueSink() *QueueSink {
	return &QueueSink{q: queue.New[fusion.TagObjectLocation]()}
}

// Publish implements Sink.
func (s *QueueSink) Publish(r fusion.TagObjectLocation) {
	_ = s.q.Push(r) // records after RunOver are dropped
}

// RunOver implements Sink.
func (s *QueueSink) RunOver() {
	s.q.Close()
}

// Events returns the consumer side of the sink.
func (s *QueueSink) Events() queue.Reader[fusion.TagObjectLocation] {
	return s.q
}

// Broadcaster fans records out to any number of live subscribers, such as
// the /debug/ tail page. Slow subscribers miss records rather than block
// the pipeline.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan fusion.TagObjectLocation
	closed      bool
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]chan fusion.TagObjectLocation)}
}

// Subscribe creates a new channel for receiving records. The ID is used to
// unsubscribe. The channel is closed on Unsubscribe or Close.
func (b *Broadcaster) Subscribe() (string, <-chan fusion.TagObjectLocation) {
	id := uuid.NewString()
	ch := make(chan fusion.TagObjectLocation, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish implements Sink.
func (b *Broadcaster) Publish(r fusion.TagObjectLocation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- r:
		default:
			// subscriber is behind; skip rather than stall stage B
		}
	}
}

// RunOver implements Sink. Subscribers stay attached for the next run.
func (b *Broadcaster) RunOver() {}

// Close unsubscribes everyone.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// MultiSink forwards to every non-nil sink in order.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(r fusion.TagObjectLocation) {
	for _, s := range m {
		if s != nil {
			s.Publish(r)
		}
	}
}

// RunOver implements Sink.
func (m MultiSink) RunOver() {
	for _, s := range m {
		if s != nil {
			s.RunOver()
		}
	}
}
