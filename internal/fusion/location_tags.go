package fusion

import "slices"

// CorrelateLocationTags pairs tag peaks with objects seen during the peak.
// Each peak is tried once per call and matches at most one object; matched
// peaks and objects are removed from the working lists.
//
// In live mode a peak is only considered once the newest object is at least
// p.SettleTicks past the peak, so late objects still have a chance to arrive.
// The window is widened by p.LiveWiden and the object closest to its midpoint
// wins. In finalize mode the window is widened by p.FinalWiden and the first
// object inside it wins.
func CorrelateLocationTags(objects *[]ObjectLocation, peaks *[]TagPeak, finalize bool, p Params) []TagObjectLocation {
	var out []TagObjectLocation
	objs, ps := *objects, *peaks

	for j := 0; j < len(ps); j++ {
		if len(objs) == 0 {
			break
		}
		start, end := ps[j].Window()

		match := -1
		if finalize {
			match = firstInWindow(objs, start-p.FinalWiden, end+p.FinalWiden)
		} else if TicksOf(objs[len(objs)-1].Time)-end >= p.SettleTicks {
			match = closestInWindow(objs, start-p.LiveWiden, end+p.LiveWiden)
		}
		if match < 0 {
			continue
		}

		out = append(out, TagObjectLocation{ObjectLocation: objs[match], TagID: ps[j].TagID})
		objs = slices.Delete(objs, match, match+1)
		ps = slices.Delete(ps, j, j+1)
		j--
	}

	*objects, *peaks = objs, ps
	return out
}

func firstInWindow(objs []ObjectLocation, start, end Ticks) int {
	for i, o := range objs {
		if t := TicksOf(o.Time); t >= start && t <= end {
			return i
		}
	}
	return -1
}

func closestInWindow(objs []ObjectLocation, start, end Ticks) int {
	mid := (start + end) / 2
	best := -1
	var bestDist Ticks
	for i, o := range objs {
		t := TicksOf(o.Time)
		if t < start || t > end {
			continue
		}
		d := t - mid
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// CleanupUntagged removes untagged objects that are most likely duplicates
// or ghosts of objects already accounted for. It must run after the last
// CorrelateLocationTags call and before FinalizeUntagged. tagged is expected
// in emission order.
func CleanupUntagged(tagged []TagObjectLocation, objects *[]ObjectLocation, p Params) {
	objs := *objects

	// Same physical object as something already tagged.
	objs = slices.DeleteFunc(objs, func(o ObjectLocation) bool {
		for _, t := range tagged {
			if PlanarDistance(t.ObjectLocation, o) < p.DuplicateRadius {
				return true
			}
		}
		return false
	})

	// Repeated detections of the same untagged object.
	for j := 0; j < len(objs); j++ {
		for i := j + 1; i < len(objs); i++ {
			if PlanarDistance(objs[j], objs[i]) < p.DuplicateRadius {
				objs = slices.Delete(objs, i, i+1)
				i--
			}
		}
	}

	// Two tagged vehicles this close together means a peak was mistimed and
	// an untagged detection near the second one is the real vehicle's ghost.
	for i := 1; i < len(tagged)-1; i++ {
		prev, cur, next := tagged[i-1].ObjectLocation, tagged[i].ObjectLocation, tagged[i+1].ObjectLocation
		if PlanarDistance(prev, cur) >= p.GhostPairRadius {
			continue
		}
		limit := PlanarDistance(cur, next)
		for k, o := range objs {
			d := PlanarDistance(cur, o)
			if d < limit && d < p.GhostSearchRadius {
				objs = slices.Delete(objs, k, k+1)
				break
			}
		}
	}

	*objects = objs
}

// FinalizeUntagged wraps every remaining object as an untagged record and
// empties *objects.
func FinalizeUntagged(objects *[]ObjectLocation) []TagObjectLocation {
	objs := *objects
	*objects = nil
	if len(objs) == 0 {
		return nil
	}
	out := make([]TagObjectLocation, len(objs))
	for i, o := range objs {
		out[i] = TagObjectLocation{ObjectLocation: o, TagID: NoTag}
	}
	return out
}
