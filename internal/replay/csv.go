// Package replay feeds recorded radar, GPS and RFID logs into pipeline
// queues, either as fast as possible or paced like the original capture.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/alphascan/internal/fusion"
)

// Log headers written by WriteRadar, WriteGps and WriteTags. Readers match
// columns by name, case-insensitively, and ignore unknown columns.
const (
	RadarHeader = "Time,X,Y,Side,Strength,Size"
	GpsHeader   = "Time,Lat,Long"
	TagHeader   = "TagId,FirstPeak,LastPeak"
)

// ErrMissingColumn is returned when a log lacks a required column.
var ErrMissingColumn = errors.New("missing column")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
}

// parseTime accepts RFC 3339 timestamps and "YYYY-MM-DD hh:mm:ss[.frac]"
// in UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// parseTicks accepts a tick count or any time parseTime accepts.
func parseTicks(s string) (fusion.Ticks, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fusion.Ticks(n), nil
	}
	t, err := parseTime(s)
	if err != nil {
		return 0, err
	}
	return fusion.TicksOf(t), nil
}

// table is a CSV log with its header mapped to column indexes.
type table struct {
	cols    map[string]int
	records [][]string
}

func readTable(r io.Reader, required ...string) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty log, expected a header row")
	}

	t := &table{cols: make(map[string]int), records: records[1:]}
	for i, name := range records[0] {
		t.cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := t.cols[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}
	return t, nil
}

// field returns the named column of record, or "" if the record is short
// or the column is absent.
func (t *table) field(record []string, name string) string {
	i, ok := t.cols[strings.ToLower(name)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (t *table) float(record []string, name string, line int) (float64, error) {
	v, err := strconv.ParseFloat(t.field(record, name), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s at line %d: %v", name, line, err)
	}
	return v, nil
}

func (t *table) timestamp(record []string, name string, line int) (time.Time, error) {
	v, err := parseTime(t.field(record, name))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s at line %d: %v", name, line, err)
	}
	return v, nil
}

// ReadRadar parses a radar cluster log. Clusters are returned in time order.
func ReadRadar(r io.Reader) ([]fusion.RadarCluster, error) {
	t, err := readTable(r, "Time", "X", "Y", "Side")
	if err != nil {
		return nil, err
	}
	out := make([]fusion.RadarCluster, 0, len(t.records))
	for i, rec := range t.records {
		line := i + 2
		var c fusion.RadarCluster
		if c.Time, err = t.timestamp(rec, "Time", line); err != nil {
			return nil, err
		}
		if c.X, err = t.float(rec, "X", line); err != nil {
			return nil, err
		}
		if c.Y, err = t.float(rec, "Y", line); err != nil {
			return nil, err
		}
		if c.Side, err = fusion.ParseSide(t.field(rec, "Side")); err != nil {
			return nil, fmt.Errorf("invalid Side at line %d: %v", line, err)
		}
		if s := t.field(rec, "Strength"); s != "" {
			if c.Strength, err = t.float(rec, "Strength", line); err != nil {
				return nil, err
			}
		}
		if s := t.field(rec, "Size"); s != "" {
			if c.Size, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("invalid Size at line %d: %v", line, err)
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// ReadGps parses a GPS fix log. Fixes are returned in time order, which the
// bearing derivation depends on.
func ReadGps(r io.Reader) ([]fusion.GpsFix, error) {
	t, err := readTable(r, "Time", "Lat", "Long")
	if err != nil {
		return nil, err
	}
	out := make([]fusion.GpsFix, 0, len(t.records))
	for i, rec := range t.records {
		line := i + 2
		var f fusion.GpsFix
		if f.Time, err = t.timestamp(rec, "Time", line); err != nil {
			return nil, err
		}
		if f.Lat, err = t.float(rec, "Lat", line); err != nil {
			return nil, err
		}
		if f.Lon, err = t.float(rec, "Long", line); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// ReadTags parses a tag peak log. Peaks are returned in the order their
// windows close.
func ReadTags(r io.Reader) ([]fusion.TagPeak, error) {
	t, err := readTable(r, "TagId", "FirstPeak", "LastPeak")
	if err != nil {
		return nil, err
	}
	out := make([]fusion.TagPeak, 0, len(t.records))
	for i, rec := range t.records {
		line := i + 2
		p := fusion.TagPeak{TagID: t.field(rec, "TagId")}
		if p.TagID == "" {
			return nil, fmt.Errorf("empty TagId at line %d", line)
		}
		if p.FirstPeak, err = parseTicks(t.field(rec, "FirstPeak")); err != nil {
			return nil, fmt.Errorf("invalid FirstPeak at line %d: %v", line, err)
		}
		if p.LastPeak, err = parseTicks(t.field(rec, "LastPeak")); err != nil {
			return nil, fmt.Errorf("invalid LastPeak at line %d: %v", line, err)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return peakTime(out[i]).Before(peakTime(out[j])) })
	return out, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// WriteRadar writes clusters in the format ReadRadar accepts.
func WriteRadar(w io.Writer, clusters []fusion.RadarCluster) error {
	return writeCSV(w, RadarHeader, len(clusters), func(i int) []string {
		c := clusters[i]
		return []string{
			c.Time.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(c.X, 'f', -1, 64),
			strconv.FormatFloat(c.Y, 'f', -1, 64),
			c.Side.String(),
			strconv.FormatFloat(c.Strength, 'f', -1, 64),
			strconv.Itoa(c.Size),
		}
	})
}

// WriteGps writes fixes in the format ReadGps accepts.
func WriteGps(w io.Writer, fixes []fusion.GpsFix) error {
	return writeCSV(w, GpsHeader, len(fixes), func(i int) []string {
		f := fixes[i]
		return []string{
			f.Time.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(f.Lat, 'f', -1, 64),
			strconv.FormatFloat(f.Lon, 'f', -1, 64),
		}
	})
}

// WriteTags writes peaks in the format ReadTags accepts, with tick counts.
func WriteTags(w io.Writer, peaks []fusion.TagPeak) error {
	return writeCSV(w, TagHeader, len(peaks), func(i int) []string {
		p := peaks[i]
		return []string{
			p.TagID,
			strconv.FormatInt(int64(p.FirstPeak), 10),
			strconv.FormatInt(int64(p.LastPeak), 10),
		}
	})
}

func writeCSV(w io.Writer, header string, n int, record func(int) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(header, ",")); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(record(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
