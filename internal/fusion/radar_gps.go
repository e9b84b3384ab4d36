package fusion

import "slices"

// DeriveBearingFixes turns every fix that has a fix lag positions ahead of it
// into a bearing fix pointing at that later fix. Converted fixes are removed
// from *fixes; the trailing lag fixes are kept as targets for the next call.
func DeriveBearingFixes(fixes *[]GpsFix, lag int) []GpsBearingFix {
	if lag < 1 {
		lag = 1
	}
	list := *fixes
	n := len(list) - lag
	if n <= 0 {
		return nil
	}
	out := make([]GpsBearingFix, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, bearingFix(list[i], list[i+lag]))
	}
	*fixes = slices.Clone(list[n:])
	return out
}

// FlushBearingFixes converts the fixes left over at end of stream. Each fix
// points at the fix lag positions ahead, or the last fix when fewer remain.
// The final fix has nothing ahead of it and is dropped. *fixes is emptied.
func FlushBearingFixes(fixes *[]GpsFix, lag int) []GpsBearingFix {
	if lag < 1 {
		lag = 1
	}
	list := *fixes
	*fixes = nil
	if len(list) < 2 {
		return nil
	}
	out := make([]GpsBearingFix, 0, len(list)-1)
	for i := 0; i < len(list)-1; i++ {
		target := min(i+lag, len(list)-1)
		out = append(out, bearingFix(list[i], list[target]))
	}
	return out
}

func bearingFix(from, to GpsFix) GpsBearingFix {
	return GpsBearingFix{
		GpsFix:  from,
		Bearing: InitialBearing(from.Lat, from.Lon, to.Lat, to.Lon),
	}
}

// CorrelateRadarGps fuses each cluster with the first bearing fix within
// p.MatchWindow of it. Matched clusters are removed from *clusters. Fixes
// that a newer cluster has moved p.StaleAfter past are removed from *fixes.
// Nothing happens until both lists hold at least p.MinBatch entries.
func CorrelateRadarGps(clusters *[]RadarCluster, fixes *[]GpsBearingFix, p Params) []ObjectLocation {
	if len(*clusters) < p.MinBatch || len(*fixes) < p.MinBatch {
		return nil
	}
	return correlateRadarGps(clusters, fixes, p)
}

// CorrelateRemaining is CorrelateRadarGps without the batch minimum. It is
// used once the upstream streams have ended.
func CorrelateRemaining(clusters *[]RadarCluster, fixes *[]GpsBearingFix, p Params) []ObjectLocation {
	if len(*clusters) == 0 || len(*fixes) == 0 {
		return nil
	}
	return correlateRadarGps(clusters, fixes, p)
}

func correlateRadarGps(clusters *[]RadarCluster, fixes *[]GpsBearingFix, p Params) []ObjectLocation {
	cs, fs := *clusters, *fixes
	usedCluster := make([]bool, len(cs))
	staleFix := make([]bool, len(fs))
	var out []ObjectLocation

	for i, c := range cs {
		for j, f := range fs {
			dt := c.Time.Sub(f.Time)
			if dt < 0 {
				dt = -dt
			}
			if dt <= p.MatchWindow {
				out = append(out, Fuse(c, f))
				usedCluster[i] = true
				break
			}
			if dt >= p.StaleAfter && !staleFix[j] && c.Time.After(f.Time) {
				staleFix[j] = true
			}
		}
	}

	*clusters = removeMarked(cs, usedCluster)
	*fixes = removeMarked(fs, staleFix)
	return out
}

// removeMarked filters list in place, dropping entries whose mark is set.
func removeMarked[T any](list []T, marked []bool) []T {
	kept := list[:0]
	for i, v := range list {
		if !marked[i] {
			kept = append(kept, v)
		}
	}
	clear(list[len(kept):])
	return kept
}
