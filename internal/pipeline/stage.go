package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyRunning is returned when starting a stage that is running.
	ErrAlreadyRunning = errors.New("stage already running")
	// ErrMissingUpstream is returned when a stage's input queue is absent.
	ErrMissingUpstream = errors.New("upstream queue missing")
)

// State is the lifecycle state of a stage. Cancelled, Completed and Failed
// are idle states recording how the last run ended.
type State int

const (
	Idle State = iota
	Running
	Cancelled
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageStatus describes one stage for status pages.
type StageStatus struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
}

// stage is the exclusion flag and cancellation handle of one correlation
// loop.
type stage struct {
	name string

	mu       sync.Mutex
	state    State
	err      error
	cancel   context.CancelFunc
	done     chan struct{} // closed when the current run exits
	started  time.Time
	finished time.Time
}

func newStage(name string) *stage {
	done := make(chan struct{})
	close(done)
	return &stage{name: name, done: done}
}

// begin claims the stage. It fails immediately if the stage is running.
func (s *stage) begin(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	s.state = Running
	s.err = nil
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = time.Now()
	s.finished = time.Time{}
	return ctx, nil
}

// end releases the stage and records the outcome. onEnd, if non-nil, sees
// the final state before waiters are released.
func (s *stage) end(ctx context.Context, err error, onEnd func(State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		s.state = Failed
		s.err = err
	case ctx.Err() != nil:
		s.state = Cancelled
	default:
		s.state = Completed
	}
	s.cancel()
	s.finished = time.Now()
	if onEnd != nil {
		onEnd(s.state)
	}
	close(s.done)
	return s.state
}

func (s *stage) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running && s.cancel != nil {
		s.cancel()
	}
}

func (s *stage) doneCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// wait blocks until the stage is not running or timeout elapses. A
// negative timeout waits forever.
func (s *stage) wait(timeout time.Duration) bool {
	done := s.doneCh()
	if isDone(done) {
		return true
	}
	if timeout < 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *stage) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running
}

func (s *stage) status() StageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StageStatus{Name: s.name, State: s.state.String(), Started: s.started, Finished: s.finished}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
