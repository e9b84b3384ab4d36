// Package fusion converts and matches radar clusters, GPS fixes and RFID tag
// peaks into geolocated object records. Everything here is pure: functions
// operate on caller-owned working lists and never perform I/O.
package fusion

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Ticks is a timestamp in 100ns units since the Unix epoch. Tag peaks are
// reported in ticks and object times are converted to ticks for matching.
type Ticks int64

const (
	TicksPerMillisecond Ticks = 10_000
	TicksPerSecond      Ticks = 1000 * TicksPerMillisecond
)

// TicksOf converts a wall-clock time to ticks.
func TicksOf(t time.Time) Ticks {
	return Ticks(t.UnixNano() / 100)
}

// DurationTicks converts a duration to ticks.
func DurationTicks(d time.Duration) Ticks {
	return Ticks(d / 100)
}

// Time converts ticks back to a UTC time.
func (t Ticks) Time() time.Time {
	return time.Unix(0, int64(t)*100).UTC()
}

// Side identifies which side of the vehicle a radar cluster was seen on.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "Left"
	case SideRight:
		return "Right"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide accepts "left"/"right" in any case, or the numeric form "0"/"1".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l", "0":
		return SideLeft, nil
	case "right", "r", "1":
		return SideRight, nil
	}
	return 0, fmt.Errorf("invalid side %q", s)
}

// RadarCluster is a clustered radar return in sensor-relative meters.
type RadarCluster struct {
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Time     time.Time `json:"time"`
	Side     Side      `json:"side"`
	Strength float64   `json:"strength"`
	Size     int       `json:"size"`
}

// GpsFix is a single GPS position report.
type GpsFix struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"time"`
}

// GpsBearingFix is a GPS fix annotated with the direction of travel.
type GpsBearingFix struct {
	GpsFix
	Bearing float64 `json:"bearing"`
}

// TagPeak is the interval during which an RFID tag was read. FirstPeak and
// LastPeak are not guaranteed to be ordered.
type TagPeak struct {
	TagID     string `json:"tag_id"`
	FirstPeak Ticks  `json:"first_peak"`
	LastPeak  Ticks  `json:"last_peak"`
}

// Window returns the peak interval with start <= end.
func (p TagPeak) Window() (start, end Ticks) {
	if p.FirstPeak > p.LastPeak {
		return p.LastPeak, p.FirstPeak
	}
	return p.FirstPeak, p.LastPeak
}

// ObjectLocation is a radar cluster placed in absolute coordinates.
type ObjectLocation struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Time     time.Time `json:"time"`
	Side     Side      `json:"side"`
	Strength float64   `json:"strength"`
	Size     int       `json:"size"`
}

// NoTag is the tag ID given to objects no tag peak could be matched to.
const NoTag = "None"

// TagObjectLocation is the terminal record of the pipeline.
type TagObjectLocation struct {
	ObjectLocation
	TagID string `json:"tag_id"`
}

// Tagged reports whether a tag peak was matched to the object.
func (t TagObjectLocation) Tagged() bool {
	return t.TagID != NoTag
}

// TagObjectLocationHeader is the CSV header of the TagLocationObj dataset.
const TagObjectLocationHeader = "Lat,Lng,Time,Side,Strength,Size,TagId"

// CSVHeader implements output.Writable.
func (t TagObjectLocation) CSVHeader() string {
	return TagObjectLocationHeader
}

// CSVRecord implements output.Writable.
func (t TagObjectLocation) CSVRecord() []string {
	return []string{
		strconv.FormatFloat(t.Lat, 'f', -1, 64),
		strconv.FormatFloat(t.Lon, 'f', -1, 64),
		t.Time.UTC().Format(time.RFC3339Nano),
		t.Side.String(),
		strconv.FormatFloat(t.Strength, 'f', -1, 64),
		strconv.Itoa(t.Size),
		t.TagID,
	}
}

// ParseTagObjectLocation is the inverse of CSVRecord.
func ParseTagObjectLocation(rec []string) (TagObjectLocation, error) {
	var out TagObjectLocation
	if len(rec) != 7 {
		return out, fmt.Errorf("expected 7 fields, got %d", len(rec))
	}
	var err error
	if out.Lat, err = strconv.ParseFloat(rec[0], 64); err != nil {
		return out, fmt.Errorf("failed to parse lat: %w", err)
	}
	if out.Lon, err = strconv.ParseFloat(rec[1], 64); err != nil {
		return out, fmt.Errorf("failed to parse lng: %w", err)
	}
	if out.Time, err = time.Parse(time.RFC3339Nano, rec[2]); err != nil {
		return out, fmt.Errorf("failed to parse time: %w", err)
	}
	if out.Side, err = ParseSide(rec[3]); err != nil {
		return out, err
	}
	if out.Strength, err = strconv.ParseFloat(rec[4], 64); err != nil {
		return out, fmt.Errorf("failed to parse strength: %w", err)
	}
	if out.Size, err = strconv.Atoi(rec[5]); err != nil {
		return out, fmt.Errorf("failed to parse size: %w", err)
	}
	out.TagID = rec[6]
	return out, nil
}
