package pipeline

import (
	"context"
	"slices"
	"sync"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/output"
	"github.com/banshee-data/alphascan/internal/queue"
)

// Saver persists a batch of records to a named dataset of the current run.
// *output.Manager implements it.
type Saver interface {
	TrySave(name string, records []output.Writable) error
}

// Context holds everything the two stages of one pipeline share: the
// upstream queues, the intermediate and output queues, the tagged
// accumulator and the downstream collaborators. A Context is used by a
// single Pipeline.
type Context struct {
	Radar queue.Reader[fusion.RadarCluster]
	Gps   queue.Reader[fusion.GpsFix]
	Tags  queue.Reader[fusion.TagPeak]

	// Saver is optional; nil discards records.
	Saver Saver
	// Sink is optional; nil drops UI notifications.
	Sink Sink

	mu      sync.Mutex
	objects *queue.Queue[fusion.ObjectLocation]
	ready   chan struct{} // closed when stage A publishes a queue stage B has not taken yet
	results *queue.Queue[fusion.TagObjectLocation]
	tagged  []fusion.TagObjectLocation
}

// NewContext returns a Context reading from the given producers.
func NewContext(radar queue.Reader[fusion.RadarCluster], gps queue.Reader[fusion.GpsFix], tags queue.Reader[fusion.TagPeak]) *Context {
	return &Context{Radar: radar, Gps: gps, Tags: tags}
}

func (c *Context) readyCh() chan struct{} {
	if c.ready == nil {
		c.ready = make(chan struct{})
	}
	return c.ready
}

// publishObjects creates a fresh intermediate queue for a stage A run and
// signals stage B that it can start consuming.
func (c *Context) publishObjects() *queue.Queue[fusion.ObjectLocation] {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := queue.New[fusion.ObjectLocation]()
	c.objects = q
	ready := c.readyCh()
	select {
	case <-ready:
	default:
		close(ready)
	}
	return q
}

// awaitObjects blocks until stage A has published an intermediate queue
// and takes it. The ready signal is re-armed, so the next stage B run waits
// for the next stage A run instead of reusing this queue.
func (c *Context) awaitObjects(ctx context.Context) (*queue.Queue[fusion.ObjectLocation], error) {
	c.mu.Lock()
	ready := c.readyCh()
	c.mu.Unlock()
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = make(chan struct{})
	return c.objects, nil
}

// Objects returns the current intermediate queue, or nil before stage A has
// started.
func (c *Context) Objects() queue.Reader[fusion.ObjectLocation] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.objects == nil {
		return nil
	}
	return c.objects
}

// resetResults starts a new output queue and tagged accumulator for a
// stage B run.
func (c *Context) resetResults() *queue.Queue[fusion.TagObjectLocation] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = queue.New[fusion.TagObjectLocation]()
	c.tagged = nil
	return c.results
}

// Results returns the output queue of the current or last stage B run, or
// nil before stage B has started. It is closed when stage B exits.
func (c *Context) Results() queue.Reader[fusion.TagObjectLocation] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		return nil
	}
	return c.results
}

func (c *Context) addTagged(recs []fusion.TagObjectLocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tagged = append(c.tagged, recs...)
}

// Tagged returns a copy of the records stage B has matched to a tag so far.
func (c *Context) Tagged() []fusion.TagObjectLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tagged)
}
