// Package output owns the on-disk layout of acquisition runs. Each run is a
// numbered directory under the output root holding one CSV file per dataset
// and a single Info.txt. Writers to different datasets proceed in parallel;
// writers to the same dataset are serialized. Run rotation waits for every
// in-flight writer before switching directories.
package output

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/alphascan/internal/fsutil"
	"github.com/banshee-data/alphascan/internal/monitoring"
	"github.com/banshee-data/alphascan/internal/security"
	"github.com/banshee-data/alphascan/internal/timeutil"
)

const (
	// RunPrefix is the directory name prefix of every run.
	RunPrefix = "Run"
	// InfoFileName is the per-run info file written by SaveInfoFile.
	InfoFileName = "Info.txt"
)

// Default timeouts.
const (
	DefaultDrainTimeout  = 5 * time.Second
	DefaultWriteTimeout  = 1 * time.Second
	DefaultRetryInterval = 10 * time.Millisecond
)

// Config contains configuration for Manager.
type Config struct {
	// Root is the output directory holding the run directories.
	Root string
	// FS is optional; if nil, uses fsutil.OSFileSystem.
	FS fsutil.FileSystem
	// Clock is optional; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// DrainTimeout bounds the wait for in-flight writers during rotation.
	DrainTimeout time.Duration
	// WriteTimeout bounds how long a failing append keeps being retried.
	WriteTimeout time.Duration
	// RetryInterval is the pause between append attempts.
	RetryInterval time.Duration
	// Metrics is optional.
	Metrics *Metrics
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg     Config
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	metrics *Metrics

	// runMu serializes run creation, deletion and root changes.
	runMu sync.Mutex

	capMu sync.Mutex
	runs  *signal // set when the output directory changes under pending run operations

	// metaMu guards root, runDir and the per-file maps. Held only briefly.
	metaMu sync.Mutex
	root   string
	runDir string
	files  map[string]string
	locks  map[string]*sync.Mutex

	infoMu    sync.Mutex
	infoSaved bool

	stop    *signal // tells writers to stop; reset once a new run is ready
	writers *writerCounter
}

// NewManager creates the output root if needed and returns a Manager with
// no current run. Call NextRun before saving.
func NewManager(cfg Config) (*Manager, error) {
	if err := security.ValidateDirectoryPath(cfg.Root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if err := cfg.FS.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{
		cfg:     cfg,
		fs:      cfg.FS,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		runs:    newSignal(),
		root:    filepath.Clean(cfg.Root),
		files:   make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
		stop:    newSignal(),
		writers: newWriterCounter(),
	}, nil
}

// Root returns the current output directory.
func (m *Manager) Root() string {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	return m.root
}

// RunDir returns the current run directory, or "" before the first run.
func (m *Manager) RunDir() string {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	return m.runDir
}

// CurrentRun returns the current run number.
func (m *Manager) CurrentRun() (int, bool) {
	dir := m.RunDir()
	if dir == "" {
		return 0, false
	}
	return RunNumber(filepath.Base(dir)), true
}

// ActiveWriters returns the number of in-flight save operations.
func (m *Manager) ActiveWriters() int {
	return m.writers.count()
}

// RunNumber parses the trailing decimal digits of a directory name.
// Names without trailing digits yield 0.
func RunNumber(name string) int {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return 0
	}
	return n
}

// RunDirName returns the directory name of run n.
func RunDirName(n int) string {
	return RunPrefix + strconv.Itoa(n)
}

func (m *Manager) runCapability() <-chan struct{} {
	m.capMu.Lock()
	defer m.capMu.Unlock()
	return m.runs.current()
}

// NextRun starts the run after the current one, skipping numbers whose
// directory already exists. The first run is numbered from 0.
func (m *Manager) NextRun() (int, error) {
	disabled := m.runCapability()
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if isClosed(disabled) {
		return -1, ErrRunsDisabled
	}
	n := 0
	if cur, ok := m.CurrentRun(); ok {
		n = cur + 1
	}
	return m.nextRunLocked(n)
}

// NextRunFrom starts the lowest-numbered free run at or above min.
func (m *Manager) NextRunFrom(min int) (int, error) {
	if min < 0 {
		min = 0
	}
	disabled := m.runCapability()
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if isClosed(disabled) {
		return -1, ErrRunsDisabled
	}
	return m.nextRunLocked(min)
}

func (m *Manager) nextRunLocked(n int) (int, error) {
	root := m.Root()
	used, err := m.existingRuns(root)
	if err != nil {
		return -1, err
	}
	for used[n] {
		n++
	}

	m.stop.set()

	m.infoMu.Lock()
	defer m.infoMu.Unlock()

	if !m.writers.waitForZero(m.cfg.DrainTimeout) {
		monitoring.Logf("[output] %d writers still active after %v, refusing to rotate run", m.writers.count(), m.cfg.DrainTimeout)
		return -1, fmt.Errorf("next run: %w", ErrWriterDrainTimeout)
	}

	dir := filepath.Join(root, RunDirName(n))
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		m.stop.reset()
		return -1, fmt.Errorf("failed to create run directory: %w", err)
	}

	m.metaMu.Lock()
	m.runDir = dir
	clear(m.files)
	clear(m.locks)
	m.metaMu.Unlock()

	m.infoSaved = false
	m.stop.reset()
	m.metrics.runStarted(n)
	monitoring.Logf("[output] started run %d in %s", n, dir)
	return n, nil
}

func (m *Manager) existingRuns(root string) (map[int]bool, error) {
	entries, err := m.fs.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list output directory: %w", err)
	}
	used := make(map[int]bool, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || len(name) <= len(RunPrefix) || name[:len(RunPrefix)] != RunPrefix {
			continue
		}
		suffix := name[len(RunPrefix):]
		if n, err := strconv.Atoi(suffix); err == nil && n >= 0 {
			used[n] = true
		}
	}
	return used, nil
}

// ErrorRun discards the current run's directory and everything in it. Saving
// stays stopped until the next NextRun. It reports whether the run was
// removed and never panics.
func (m *Manager) ErrorRun() bool {
	disabled := m.runCapability()
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if isClosed(disabled) {
		return false
	}

	dir, root := m.RunDir(), m.Root()
	if dir == "" || !security.IsWithinDirectory(dir, root) {
		return false
	}

	m.stop.set()
	if !m.writers.waitForZero(m.cfg.DrainTimeout) {
		monitoring.Logf("[output] cannot discard %s: writers still active", dir)
		return false
	}
	if err := m.fs.RemoveAll(dir); err != nil {
		monitoring.Logf("[output] failed to discard %s: %v", dir, err)
		return false
	}

	m.metaMu.Lock()
	clear(m.files)
	clear(m.locks)
	m.metaMu.Unlock()

	monitoring.Logf("[output] discarded run directory %s", dir)
	return true
}

// ChangeOutputDirectory moves future runs to path. Pending run operations on
// the old directory fail with ErrRunsDisabled, in-flight writers are stopped
// and drained, and there is no current run until NextRun is called again.
func (m *Manager) ChangeOutputDirectory(path string) error {
	if err := security.ValidateDirectoryPath(path); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	path = filepath.Clean(path)
	if samePath(path, m.Root()) {
		return nil
	}

	m.capMu.Lock()
	old := m.runs
	m.capMu.Unlock()
	old.set()

	// A run operation already past its capability check may reset the stop
	// signal on its way out, so writers are drained under runMu.
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.stop.set()
	if !m.writers.waitForZero(m.cfg.DrainTimeout) {
		monitoring.Logf("[output] %d writers still active after %v, refusing to change output directory", m.writers.count(), m.cfg.DrainTimeout)
		return fmt.Errorf("change output directory: %w", ErrWriterDrainTimeout)
	}

	if err := m.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	m.metaMu.Lock()
	m.root = path
	m.runDir = ""
	clear(m.files)
	clear(m.locks)
	m.metaMu.Unlock()

	m.infoMu.Lock()
	m.infoSaved = false
	m.infoMu.Unlock()

	m.capMu.Lock()
	m.runs = newSignal()
	m.capMu.Unlock()

	monitoring.Logf("[output] output directory changed to %s", path)
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
