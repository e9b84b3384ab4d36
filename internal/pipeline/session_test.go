package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/output"
	"github.com/banshee-data/alphascan/internal/timeutil"
)

type catalogRun struct {
	number  int
	dir     string
	started time.Time
	status  string
	reason  string
	summary fusion.RunSummary
}

type fakeCatalog struct {
	mu       sync.Mutex
	runs     map[string]*catalogRun
	startErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{runs: make(map[string]*catalogRun)}
}

func (c *fakeCatalog) StartRun(_ context.Context, id string, number int, dir string, started time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.runs[id] = &catalogRun{number: number, dir: dir, started: started, status: "running"}
	return nil
}

func (c *fakeCatalog) CompleteRun(_ context.Context, id string, s fusion.RunSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[id]
	if !ok {
		return errors.New("unknown run")
	}
	r.status, r.summary = "completed", s
	return nil
}

func (c *fakeCatalog) FailRun(_ context.Context, id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[id]
	if !ok {
		return errors.New("unknown run")
	}
	r.status, r.reason = "failed", reason
	return nil
}

func (c *fakeCatalog) get(id string) catalogRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.runs[id]; ok {
		return *r
	}
	return catalogRun{}
}

func newTestSession(t *testing.T, u upstreams, cat Catalog) (*Session, *output.Manager) {
	t.Helper()
	m, err := output.NewManager(output.Config{Root: t.TempDir()})
	require.NoError(t, err)
	p := newTestPipeline(u, testConfig())
	s := NewSession(p, m, SessionConfig{
		Info:    []output.InfoEntry{{Key: "Operator", Value: "field crew"}},
		Sensors: []string{"mmWave", "GPS", "RFID"},
		Catalog: cat,
		Clock:   timeutil.NewMockClock(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)),
	})
	return s, m
}

func TestSession_RunLifecycle(t *testing.T) {
	u := newUpstreams()
	u.feedScenario(t)
	require.NoError(t, u.tags.Push(fusion.TagPeak{TagID: "A", FirstPeak: fusion.TicksOf(at(950)), LastPeak: fusion.TicksOf(at(1050))}))
	u.closeAll()

	cat := newFakeCatalog()
	s, m := newTestSession(t, u, cat)

	run, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Number)
	assert.Equal(t, filepath.Join(m.Root(), "Run0"), run.Dir)
	assert.NotEmpty(t, run.ID)

	active, ok := s.Run()
	assert.True(t, ok)
	assert.Equal(t, run, active)

	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionActive)

	data, err := os.ReadFile(filepath.Join(run.Dir, output.InfoFileName))
	require.NoError(t, err)
	info := output.ParseInfo(data)
	require.GreaterOrEqual(t, len(info), 5)
	assert.Equal(t, output.InfoEntry{Key: InfoKeyRunID, Value: run.ID}, info[0])
	assert.Equal(t, output.InfoEntry{Key: "Operator", Value: "field crew"}, info[1])
	assert.Equal(t, output.InfoEntry{Key: output.InfoKeyRunningSensors, Value: "mmWave, GPS, RFID"}, info[2])

	require.True(t, s.Pipeline().WaitStageB(2*time.Second))
	summary, err := s.Finish(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, 1, summary.Tagged)

	rec := cat.get(run.ID)
	assert.Equal(t, "completed", rec.status)
	assert.Equal(t, 0, rec.number)
	assert.Equal(t, run.Started, rec.started)
	assert.Equal(t, summary, rec.summary)

	_, ok = s.Run()
	assert.False(t, ok)
	_, err = s.Finish(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = os.Stat(filepath.Join(run.Dir, TagLocationDataset+".csv"))
	assert.NoError(t, err)
}

func TestSession_StartFailureRemovesRun(t *testing.T) {
	u := newUpstreams()
	cat := newFakeCatalog()
	s, m := newTestSession(t, u, cat)

	// Occupy stage A so the session cannot start it.
	require.NoError(t, s.Pipeline().StartStageA(context.Background()))
	t.Cleanup(func() { s.Pipeline().Stop() })

	_, err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	_, statErr := os.Stat(filepath.Join(m.Root(), "Run0"))
	assert.True(t, os.IsNotExist(statErr), "failed run directory should be removed")
	_, ok := s.Run()
	assert.False(t, ok)

	require.Len(t, cat.runs, 1)
	for _, r := range cat.runs {
		assert.Equal(t, "failed", r.status)
		assert.Contains(t, r.reason, ErrAlreadyRunning.Error())
	}
}

func TestSession_CatalogErrorDoesNotBlockRun(t *testing.T) {
	u := newUpstreams()
	u.feedScenario(t)
	u.closeAll()

	cat := newFakeCatalog()
	cat.startErr = errors.New("database is locked")
	s, _ := newTestSession(t, u, cat)

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	require.True(t, s.Pipeline().WaitStageB(2*time.Second))

	summary, err := s.Finish(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Untagged)
}

func TestSession_AbortRecordsCancelledRun(t *testing.T) {
	u := newUpstreams()
	cat := newFakeCatalog()
	s, _ := newTestSession(t, u, cat)

	run, err := s.Start(context.Background())
	require.NoError(t, err)

	summary, err := s.Finish(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, summary.Records)
	assert.Equal(t, "completed", cat.get(run.ID).status)
	assert.False(t, s.Pipeline().IsStageARunning())
	assert.False(t, s.Pipeline().IsStageBRunning())
}

func TestSession_FailedStageFailsRun(t *testing.T) {
	u := newUpstreams()
	u.feedScenario(t)
	u.closeAll()

	cat := newFakeCatalog()
	s, _ := newTestSession(t, u, cat)
	s.Pipeline().Context().Sink = panicSink{}

	run, err := s.Start(context.Background())
	require.NoError(t, err)
	require.True(t, s.Pipeline().WaitStageB(2*time.Second))

	_, err = s.Finish(context.Background(), true)
	require.Error(t, err)
	rec := cat.get(run.ID)
	assert.Equal(t, "failed", rec.status)
	assert.Contains(t, rec.reason, StageB)
}

func TestSession_SecondRunGetsNextNumber(t *testing.T) {
	u := newUpstreams()
	s, m := newTestSession(t, u, nil)

	first, err := s.Start(context.Background())
	require.NoError(t, err)
	_, err = s.Finish(context.Background(), false)
	require.NoError(t, err)

	second, err := s.Start(context.Background())
	require.NoError(t, err)
	_, err = s.Finish(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, first.Number+1, second.Number)
	assert.NotEqual(t, first.ID, second.ID)
	n, ok := m.CurrentRun()
	assert.True(t, ok)
	assert.Equal(t, second.Number, n)
}
