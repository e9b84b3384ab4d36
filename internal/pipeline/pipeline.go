// Package pipeline runs the two correlation stages of a run. Stage A fuses
// radar clusters with GPS fixes into object locations and feeds them to
// stage B through an intermediate queue; stage B matches those locations to
// RFID tag peaks, persists the results and notifies the UI sink.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/monitoring"
)

// TagLocationDataset is the dataset stage B persists its records to.
const TagLocationDataset = "TagLocationObj"

// Stage names used in logs, metrics and status.
const (
	StageA = "radar-gps"
	StageB = "location-tags"
)

// Config contains configuration for a Pipeline.
type Config struct {
	Params fusion.Params
	// PollInterval bounds each stage B wait for new data.
	PollInterval time.Duration
	// StageWaitTimeout bounds how long Stop waits for each stage to exit.
	StageWaitTimeout time.Duration
	// TagDrainTimeout bounds how long stage B waits at end of run for the
	// tag queue to close.
	TagDrainTimeout time.Duration
	// Metrics is optional.
	Metrics *Metrics
	// Logf is optional; defaults to monitoring.Logf.
	Logf func(format string, v ...interface{})
}

// DefaultConfig returns the field defaults.
func DefaultConfig() Config {
	return Config{
		Params:           fusion.DefaultParams(),
		PollInterval:     250 * time.Millisecond,
		StageWaitTimeout: 5 * time.Second,
		TagDrainTimeout:  2 * time.Second,
	}
}

// Pipeline owns the two stages of one Context. It is safe for concurrent
// use.
type Pipeline struct {
	cfg     Config
	c       *Context
	a, b    *stage
	metrics *Metrics
}

// New returns an idle Pipeline. Zero durations in cfg take their defaults.
func New(c *Context, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StageWaitTimeout <= 0 {
		cfg.StageWaitTimeout = def.StageWaitTimeout
	}
	if cfg.TagDrainTimeout < 0 {
		cfg.TagDrainTimeout = 0
	}
	return &Pipeline{
		cfg:     cfg,
		c:       c,
		a:       newStage(StageA),
		b:       newStage(StageB),
		metrics: cfg.Metrics,
	}
}

// Context returns the shared pipeline state.
func (p *Pipeline) Context() *Context { return p.c }

func (p *Pipeline) logf(format string, v ...interface{}) {
	if p.cfg.Logf != nil {
		p.cfg.Logf(format, v...)
		return
	}
	monitoring.Logf(format, v...)
}

// StartStageA starts radar/GPS correlation on its own goroutine.
func (p *Pipeline) StartStageA(ctx context.Context) error {
	if p.c.Radar == nil || p.c.Gps == nil {
		return ErrMissingUpstream
	}
	runCtx, err := p.a.begin(ctx)
	if err != nil {
		return err
	}
	objects := p.c.publishObjects()
	p.metrics.stageStarted(StageA)
	p.logf("[pipeline] %s stage started", StageA)
	go func() {
		var err error
		defer func() { p.finish(runCtx, p.a, err, recover()) }()
		err = p.runStageA(runCtx, objects)
	}()
	return nil
}

// StartStageB starts location/tag correlation on its own goroutine. It
// consumes the intermediate queue once stage A has started.
func (p *Pipeline) StartStageB(ctx context.Context) error {
	if p.c.Tags == nil {
		return ErrMissingUpstream
	}
	runCtx, err := p.b.begin(ctx)
	if err != nil {
		return err
	}
	results := p.c.resetResults()
	p.metrics.stageStarted(StageB)
	p.logf("[pipeline] %s stage started", StageB)
	go func() {
		var err error
		defer func() { p.finish(runCtx, p.b, err, recover()) }()
		err = p.runStageB(runCtx, results)
	}()
	return nil
}

// Start starts stage A then stage B. If stage B cannot start, stage A is
// stopped again.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.c.Radar == nil || p.c.Gps == nil || p.c.Tags == nil {
		return ErrMissingUpstream
	}
	if err := p.StartStageA(ctx); err != nil {
		return err
	}
	if err := p.StartStageB(ctx); err != nil {
		p.a.stop()
		p.a.wait(p.cfg.StageWaitTimeout)
		return err
	}
	return nil
}

// finish records a stage's outcome. Stages are not restarted after a
// failure or panic.
func (p *Pipeline) finish(ctx context.Context, s *stage, err error, panicked any) {
	if panicked != nil {
		err = fmt.Errorf("panic: %v", panicked)
	}
	state := s.end(ctx, err, func(st State) { p.metrics.stageFinished(s.name, st) })
	if state == Failed {
		p.logf("[pipeline] %s stage failed: %v", s.name, err)
		return
	}
	p.logf("[pipeline] %s stage %s", s.name, state)
}

// Stop cancels stage A, waits for it, then cancels and waits for stage B.
// Data already drained by a stage is still flushed through its end-of-run
// path. It reports whether both stages exited within the wait timeout.
func (p *Pipeline) Stop() bool {
	p.a.stop()
	okA := p.a.wait(p.cfg.StageWaitTimeout)
	p.b.stop()
	okB := p.b.wait(p.cfg.StageWaitTimeout)
	return okA && okB
}

// StopAndProcess is Stop, except that stage B is given the chance to consume
// everything stage A produced before it is cancelled.
func (p *Pipeline) StopAndProcess() bool {
	p.a.stop()
	okA := p.a.wait(p.cfg.StageWaitTimeout)

	if objects := p.c.Objects(); objects != nil && p.b.running() {
		timer := time.NewTimer(p.cfg.StageWaitTimeout)
		select {
		case <-objects.Done():
		case <-p.b.doneCh():
		case <-timer.C:
			p.logf("[pipeline] %s stage did not drain object locations within %v", StageB, p.cfg.StageWaitTimeout)
		}
		timer.Stop()
	}

	p.b.stop()
	okB := p.b.wait(p.cfg.StageWaitTimeout)
	return okA && okB
}

// IsStageARunning reports whether stage A is running.
func (p *Pipeline) IsStageARunning() bool { return p.a.running() }

// IsStageBRunning reports whether stage B is running.
func (p *Pipeline) IsStageBRunning() bool { return p.b.running() }

// WaitStageA waits for stage A to exit. A negative timeout waits forever.
// It reports false on timeout.
func (p *Pipeline) WaitStageA(timeout time.Duration) bool { return p.a.wait(timeout) }

// WaitStageB waits for stage B to exit. A negative timeout waits forever.
// It reports false on timeout.
func (p *Pipeline) WaitStageB(timeout time.Duration) bool { return p.b.wait(timeout) }

// Status returns the state of both stages.
func (p *Pipeline) Status() []StageStatus {
	return []StageStatus{p.a.status(), p.b.status()}
}
