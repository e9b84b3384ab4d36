package replay

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/monitoring"
	"github.com/banshee-data/alphascan/internal/queue"
	"github.com/banshee-data/alphascan/internal/timeutil"
)

// maxSleepStep bounds each paced sleep so cancellation is noticed promptly.
const maxSleepStep = 100 * time.Millisecond

// Paths names the three log files of a recording. Empty paths are allowed
// and replay as empty streams.
type Paths struct {
	Radar string
	Gps   string
	Tags  string
}

// Recording is a loaded set of logs.
type Recording struct {
	Radar []fusion.RadarCluster
	Gps   []fusion.GpsFix
	Tags  []fusion.TagPeak
}

// Load reads the logs named by p.
func Load(p Paths) (*Recording, error) {
	rec := &Recording{}
	var err error
	if p.Radar != "" {
		if rec.Radar, err = readFile(p.Radar, ReadRadar); err != nil {
			return nil, err
		}
	}
	if p.Gps != "" {
		if rec.Gps, err = readFile(p.Gps, ReadGps); err != nil {
			return nil, err
		}
	}
	if p.Tags != "" {
		if rec.Tags, err = readFile(p.Tags, ReadTags); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Origin returns the earliest timestamp across all streams, or the zero
// time for an empty recording.
func (r *Recording) Origin() time.Time {
	var origin time.Time
	consider := func(t time.Time) {
		if origin.IsZero() || t.Before(origin) {
			origin = t
		}
	}
	if len(r.Radar) > 0 {
		consider(r.Radar[0].Time)
	}
	if len(r.Gps) > 0 {
		consider(r.Gps[0].Time)
	}
	if len(r.Tags) > 0 {
		consider(peakTime(r.Tags[0]))
	}
	return origin
}

// peakTime is when a tag peak becomes known: the end of its window.
func peakTime(p fusion.TagPeak) time.Time {
	_, end := p.Window()
	return end.Time()
}

// Config contains configuration for a replay.
type Config struct {
	// SpeedMultiplier paces the replay: 1.0 is real time, 2.0 twice as fast.
	// Zero or less pushes everything without waiting.
	SpeedMultiplier float64
	// BatchSize is the number of records pushed per queue write when not
	// pacing. Defaults to 64.
	BatchSize int
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Logf is optional; defaults to monitoring.Logf.
	Logf func(format string, v ...interface{})
}

// Producers are the queues a replay writes to. Each queue is closed when its
// stream ends, including on cancellation.
type Producers struct {
	Radar *queue.Queue[fusion.RadarCluster]
	Gps   *queue.Queue[fusion.GpsFix]
	Tags  *queue.Queue[fusion.TagPeak]
}

// NewProducers returns three open queues.
func NewProducers() Producers {
	return Producers{
		Radar: queue.New[fusion.RadarCluster](),
		Gps:   queue.New[fusion.GpsFix](),
		Tags:  queue.New[fusion.TagPeak](),
	}
}

// Run replays every stream of rec into p concurrently, all paced against
// the same origin. It returns when every stream has been pushed or ctx is
// done.
func Run(ctx context.Context, rec *Recording, p Producers, cfg Config) error {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Logf == nil {
		cfg.Logf = monitoring.Logf
	}

	r := &replayer{cfg: cfg, origin: rec.Origin(), start: cfg.Clock.Now()}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream(ctx, r, "radar", rec.Radar, p.Radar, func(c fusion.RadarCluster) time.Time { return c.Time })
	})
	g.Go(func() error {
		return stream(ctx, r, "gps", rec.Gps, p.Gps, func(f fusion.GpsFix) time.Time { return f.Time })
	})
	g.Go(func() error {
		return stream(ctx, r, "tags", rec.Tags, p.Tags, peakTime)
	})
	return g.Wait()
}

type replayer struct {
	cfg    Config
	origin time.Time
	start  time.Time
}

// stream pushes records to q, waiting until each is due when pacing. q is
// closed on return.
func stream[T any](ctx context.Context, r *replayer, name string, records []T, q *queue.Queue[T], timeOf func(T) time.Time) error {
	if q == nil {
		return nil
	}
	defer q.Close()

	if r.cfg.SpeedMultiplier <= 0 {
		for i := 0; i < len(records); i += r.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(i+r.cfg.BatchSize, len(records))
			if err := q.Push(records[i:end]...); err != nil {
				return fmt.Errorf("%s replay: %w", name, err)
			}
		}
		r.cfg.Logf("[replay] %s: pushed %d records", name, len(records))
		return nil
	}

	for _, rec := range records {
		if err := r.waitUntil(ctx, timeOf(rec)); err != nil {
			r.cfg.Logf("[replay] %s: stopped: %v", name, err)
			return err
		}
		if err := q.Push(rec); err != nil {
			return fmt.Errorf("%s replay: %w", name, err)
		}
	}
	r.cfg.Logf("[replay] %s: replayed %d records at %.1fx", name, len(records), r.cfg.SpeedMultiplier)
	return nil
}

// waitUntil sleeps until the record captured at t is due.
func (r *replayer) waitUntil(ctx context.Context, t time.Time) error {
	due := time.Duration(float64(t.Sub(r.origin)) / r.cfg.SpeedMultiplier)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := due - r.cfg.Clock.Since(r.start)
		if remaining <= 0 {
			return nil
		}
		r.cfg.Clock.Sleep(min(remaining, maxSleepStep))
	}
}
