package fusion

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// RunSummary describes the tag object locations of one run.
type RunSummary struct {
	Records      int       `json:"records"`
	Tagged       int       `json:"tagged"`
	Untagged     int       `json:"untagged"`
	UniqueTags   int       `json:"unique_tags"`
	MeanStrength float64   `json:"mean_strength"`
	StdStrength  float64   `json:"std_strength"`
	MeanSize     float64   `json:"mean_size"`
	First        time.Time `json:"first,omitempty"`
	Last         time.Time `json:"last,omitempty"`
}

// Summarize computes a RunSummary. The standard deviation is zero for fewer
// than two records.
func Summarize(recs []TagObjectLocation) RunSummary {
	s := RunSummary{Records: len(recs)}
	if len(recs) == 0 {
		return s
	}

	strength := make([]float64, len(recs))
	size := make([]float64, len(recs))
	tags := make(map[string]struct{})
	s.First, s.Last = recs[0].Time, recs[0].Time
	for i, r := range recs {
		strength[i] = r.Strength
		size[i] = float64(r.Size)
		if r.Tagged() {
			s.Tagged++
			tags[r.TagID] = struct{}{}
		} else {
			s.Untagged++
		}
		if r.Time.Before(s.First) {
			s.First = r.Time
		}
		if r.Time.After(s.Last) {
			s.Last = r.Time
		}
	}
	s.UniqueTags = len(tags)
	if len(recs) > 1 {
		s.MeanStrength, s.StdStrength = stat.MeanStdDev(strength, nil)
	} else {
		s.MeanStrength = strength[0]
	}
	s.MeanSize = stat.Mean(size, nil)
	return s
}

// Duration is the time spanned by the summarized records.
func (s RunSummary) Duration() time.Duration {
	return s.Last.Sub(s.First)
}
