package output

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/alphascan/internal/monitoring"
)

// Info file keys added by SaveInfoFile.
const (
	InfoKeyRunningSensors = "Running Sensors"
	InfoKeyDate           = "Date"
	InfoKeyTime           = "Time (UTC)"
	InfoKeyError          = "Error"

	infoDateLayout = "Monday, January 2, 2006"
	infoTimeLayout = "15:04:05.0000000"
)

// InfoEntry is one key=value line of the run info file.
type InfoEntry struct {
	Key   string
	Value any
}

// SaveInfoFile writes Info.txt for the current run. It succeeds at most once
// per run and reports false if the info file was already saved, saving is
// stopped, there is no run directory, or another caller is writing it.
// Entries keep their order; Running Sensors, Date and Time (UTC) are appended
// unless already present.
func (m *Manager) SaveInfoFile(entries []InfoEntry, runningSensors []string) bool {
	if !m.infoMu.TryLock() {
		return false
	}
	defer m.infoMu.Unlock()

	if m.infoSaved || m.stop.isSet() {
		return false
	}
	dir := m.RunDir()
	if dir == "" || !m.fs.Exists(dir) {
		return false
	}

	if len(entries) == 0 {
		entries = []InfoEntry{{Key: InfoKeyError, Value: "No info data given."}}
	}
	entries = append([]InfoEntry(nil), entries...)
	has := make(map[string]bool, len(entries))
	for _, e := range entries {
		has[e.Key] = true
	}
	if !has[InfoKeyRunningSensors] && len(runningSensors) > 0 {
		entries = append(entries, InfoEntry{Key: InfoKeyRunningSensors, Value: strings.Join(runningSensors, ", ")})
	}
	now := m.clock.Now().UTC()
	if !has[InfoKeyDate] {
		entries = append(entries, InfoEntry{Key: InfoKeyDate, Value: now.Format(infoDateLayout)})
	}
	if !has[InfoKeyTime] {
		entries = append(entries, InfoEntry{Key: InfoKeyTime, Value: now.Format(infoTimeLayout)})
	}

	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s=%v\n", e.Key, e.Value)
	}
	path := filepath.Join(dir, InfoFileName)
	if err := m.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		monitoring.Logf("[output] failed to write %s: %v", path, err)
		return false
	}
	m.infoSaved = true
	return true
}

// ParseInfo reads key=value lines as written by SaveInfoFile. Lines without
// '=' are skipped.
func ParseInfo(data []byte) []InfoEntry {
	var out []InfoEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		out = append(out, InfoEntry{Key: key, Value: value})
	}
	return out
}
