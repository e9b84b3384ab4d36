package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/banshee-data/alphascan/internal/monitoring"
	"github.com/banshee-data/alphascan/internal/security"
)

// Writable is a record that can be appended to a run dataset.
type Writable interface {
	CSVHeader() string
	CSVRecord() []string
}

// SaveRecords appends records to dataset name in the current run. See
// Manager.TrySave.
func SaveRecords[T Writable](m *Manager, name string, records []T) error {
	rows := make([]Writable, len(records))
	for i, r := range records {
		rows[i] = r
	}
	return m.TrySave(name, rows)
}

// TrySave appends records to <run>/<name>.csv, creating the file with the
// records' header line first if needed. Saves to the same dataset are
// serialized; saves to different datasets run in parallel. Transient write
// failures are retried until the write timeout. Saving an empty slice only
// validates the name.
func (m *Manager) TrySave(name string, records []Writable) error {
	if err := security.ValidateFileName(name); err != nil {
		return err
	}
	file := csvFileName(name)
	if len(records) == 0 {
		return nil
	}

	header := records[0].CSVHeader()
	body, err := encodeRows(records)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", file, err)
	}

	err = m.withFile(file, func(path string, isNew bool) error {
		if isNew {
			if err := m.retryWrite(path, func() error {
				return m.fs.WriteFile(path, []byte(header+"\n"), 0o644)
			}); err != nil {
				return err
			}
		}
		return m.retryWrite(path, func() error {
			return m.fs.AppendFile(path, body)
		})
	})
	m.metrics.saved(datasetName(file), len(records), err)
	return err
}

// TrySaveWith runs write with the path of <run>/<name> while holding that
// file's lock. isNew reports whether the file did not exist yet; write is
// responsible for creating it. The info file cannot be written this way.
func (m *Manager) TrySaveWith(name string, write func(path string, isNew bool) error) error {
	if err := security.ValidateFileName(name); err != nil {
		return err
	}
	if strings.EqualFold(name, InfoFileName) {
		return fmt.Errorf("%w: %s is reserved", ErrInvalidFileName, name)
	}
	if write == nil {
		return fmt.Errorf("%w: nil write function", ErrInvalidFileName)
	}
	err := m.withFile(name, write)
	m.metrics.saved(datasetName(name), 0, err)
	return err
}

func (m *Manager) beginWrite() error {
	if m.stop.isSet() {
		return ErrSavingStopped
	}
	m.writers.add()
	m.metrics.writerStarted()
	// A rotation may have started between the check and the increment.
	if m.stop.isSet() {
		m.endWrite()
		return ErrSavingStopped
	}
	return nil
}

func (m *Manager) endWrite() {
	m.metrics.writerFinished()
	m.writers.done()
}

// withFile resolves the run path of name and its lock, then calls fn with
// the lock held.
func (m *Manager) withFile(name string, fn func(path string, isNew bool) error) error {
	if err := m.beginWrite(); err != nil {
		return err
	}
	defer m.endWrite()

	m.metaMu.Lock()
	if m.runDir == "" {
		m.metaMu.Unlock()
		return ErrNoRun
	}
	path, ok := m.files[name]
	if !ok {
		path = filepath.Join(m.runDir, name)
		m.files[name] = path
	}
	lock, ok := m.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}
	m.metaMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	if m.stop.isSet() {
		return ErrSavingStopped
	}
	return fn(path, !m.fs.Exists(path))
}

// retryWrite calls op until it succeeds, saving is stopped, or the write
// timeout elapses.
func (m *Manager) retryWrite(path string, op func() error) error {
	start := m.clock.Now()
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if m.clock.Since(start) >= m.cfg.WriteTimeout {
			monitoring.Logf("[output] giving up on %s after %d attempts: %v", path, attempt, err)
			return fmt.Errorf("%w: %s: %v", ErrWriteTimeout, filepath.Base(path), err)
		}
		if m.stop.isSet() {
			return ErrSavingStopped
		}
		m.metrics.retried()
		m.clock.Sleep(m.cfg.RetryInterval)
	}
}

// csvFileName appends .csv unless name already ends with it. A .CSV suffix
// in any case is normalized.
func csvFileName(name string) string {
	ext := filepath.Ext(name)
	switch {
	case ext == ".csv":
		return name
	case strings.EqualFold(ext, ".csv"):
		return name[:len(name)-len(ext)] + ".csv"
	default:
		return name + ".csv"
	}
}

func datasetName(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}

func encodeRows(records []Writable) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range records {
		if err := w.Write(r.CSVRecord()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
