package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/output"
	"github.com/banshee-data/alphascan/internal/timeutil"
)

// InfoKeyRunID is the Info.txt key holding the catalog ID of a run.
const InfoKeyRunID = "Run ID"

var (
	// ErrSessionActive is returned by Session.Start while a run is active.
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession is returned by Session.Finish when no run is active.
	ErrNoSession = errors.New("no active session")
	// ErrInfoNotSaved is returned when the run info file could not be written.
	ErrInfoNotSaved = errors.New("failed to save run info file")
	// ErrStopTimeout is returned when a stage did not exit in time.
	ErrStopTimeout = errors.New("stages did not stop in time")
)

// RunOutput is the run directory side of a session. *output.Manager
// implements it.
type RunOutput interface {
	Saver
	NextRun() (int, error)
	RunDir() string
	SaveInfoFile(entries []output.InfoEntry, runningSensors []string) bool
	ErrorRun() bool
}

// Catalog records runs and their outcome. *db.DB implements it.
type Catalog interface {
	StartRun(ctx context.Context, id string, number int, dir string, started time.Time) error
	CompleteRun(ctx context.Context, id string, s fusion.RunSummary) error
	FailRun(ctx context.Context, id, reason string) error
}

// SessionConfig contains configuration for a Session.
type SessionConfig struct {
	// Info entries are written to Info.txt at the start of every run.
	Info []output.InfoEntry
	// Sensors lists the producers feeding the run.
	Sensors []string
	// Catalog is optional.
	Catalog Catalog
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// RunInfo identifies the run a session started.
type RunInfo struct {
	ID      string    `json:"id"`
	Number  int       `json:"number"`
	Dir     string    `json:"dir"`
	Started time.Time `json:"started"`
}

// Session ties a Pipeline to the output manager and run catalog for one
// acquisition at a time: Start opens a run directory and starts both stages,
// Finish stops them and records the outcome.
type Session struct {
	p   *Pipeline
	out RunOutput
	cfg SessionConfig

	mu     sync.Mutex
	run    RunInfo
	active bool
}

// NewSession returns an idle Session. The pipeline's Saver is set to out.
func NewSession(p *Pipeline, out RunOutput, cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	p.c.Saver = out
	return &Session{p: p, out: out, cfg: cfg}
}

// Pipeline returns the pipeline driven by the session.
func (s *Session) Pipeline() *Pipeline { return s.p }

// Run returns the active run and whether there is one.
func (s *Session) Run() (RunInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run, s.active
}

// Start creates the next run directory, writes its info file, records it in
// the catalog and starts both stages. On failure the new run directory is
// removed and the catalog entry, if any, is marked failed.
func (s *Session) Start(ctx context.Context) (RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return RunInfo{}, ErrSessionActive
	}

	n, err := s.out.NextRun()
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to create run: %w", err)
	}
	run := RunInfo{
		ID:      uuid.NewString(),
		Number:  n,
		Dir:     s.out.RunDir(),
		Started: s.cfg.Clock.Now().UTC(),
	}

	info := append([]output.InfoEntry{{Key: InfoKeyRunID, Value: run.ID}}, s.cfg.Info...)
	if !s.out.SaveInfoFile(info, s.cfg.Sensors) {
		s.out.ErrorRun()
		return RunInfo{}, ErrInfoNotSaved
	}

	catalogued := false
	if s.cfg.Catalog != nil {
		if err := s.cfg.Catalog.StartRun(ctx, run.ID, run.Number, run.Dir, run.Started); err != nil {
			s.p.logf("[pipeline] failed to catalog run %d: %v", run.Number, err)
		} else {
			catalogued = true
		}
	}

	if err := s.p.Start(ctx); err != nil {
		s.out.ErrorRun()
		if catalogued {
			if ferr := s.cfg.Catalog.FailRun(ctx, run.ID, err.Error()); ferr != nil {
				s.p.logf("[pipeline] failed to mark run %d failed: %v", run.Number, ferr)
			}
		}
		s.p.logf("[pipeline] run %d failed to start, removed run directory: %v", run.Number, err)
		return RunInfo{}, err
	}

	s.run = run
	s.active = true
	s.p.logf("[pipeline] run %d started in %s", run.Number, run.Dir)
	return run, nil
}

// Finish ends the active run. With process set, stage B is allowed to
// consume everything stage A produced before it is stopped; otherwise both
// stages are cancelled straight away. It returns the summary of every record
// emitted during the run.
func (s *Session) Finish(ctx context.Context, process bool) (fusion.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return fusion.RunSummary{}, ErrNoSession
	}
	s.active = false
	run := s.run

	var stopped bool
	if process {
		stopped = s.p.StopAndProcess()
	} else {
		stopped = s.p.Stop()
	}

	var recs []fusion.TagObjectLocation
	if results := s.p.c.Results(); results != nil {
		recs = results.Drain()
	}
	summary := fusion.Summarize(recs)

	var failure error
	if !stopped {
		failure = ErrStopTimeout
	}
	for _, st := range s.p.Status() {
		if st.State == Failed.String() && failure == nil {
			failure = fmt.Errorf("%s stage failed: %s", st.Name, st.Error)
		}
	}

	if s.cfg.Catalog != nil {
		var err error
		if failure != nil {
			err = s.cfg.Catalog.FailRun(ctx, run.ID, failure.Error())
		} else {
			err = s.cfg.Catalog.CompleteRun(ctx, run.ID, summary)
		}
		if err != nil {
			s.p.logf("[pipeline] failed to record outcome of run %d: %v", run.Number, err)
		}
	}

	s.p.logf("[pipeline] run %d finished: %d records, %d tagged", run.Number, summary.Records, summary.Tagged)
	return summary, failure
}
