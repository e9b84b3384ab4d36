package output

import (
	"sync"
	"time"
)

// writerCounter counts in-flight save operations so run rotation can wait
// for them to finish.
type writerCounter struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func newWriterCounter() *writerCounter {
	c := &writerCounter{zero: make(chan struct{})}
	close(c.zero)
	return c
}

func (c *writerCounter) add() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		c.zero = make(chan struct{})
	}
	c.n++
}

func (c *writerCounter) done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		panic("output: writer counter released more than acquired")
	}
	c.n--
	if c.n == 0 {
		close(c.zero)
	}
}

func (c *writerCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// waitForZero returns false if writers are still active after timeout.
func (c *writerCounter) waitForZero(timeout time.Duration) bool {
	c.mu.Lock()
	zero := c.zero
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-zero:
		return true
	case <-timer.C:
		return false
	}
}

// signal is a resettable broadcast flag.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
	default:
		close(s.ch)
	}
}

func (s *signal) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
		s.ch = make(chan struct{})
	default:
	}
}

// current returns the channel for the present generation of the flag.
func (s *signal) current() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *signal) isSet() bool {
	return isClosed(s.current())
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
