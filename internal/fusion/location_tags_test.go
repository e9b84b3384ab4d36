package fusion

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func objAt(ms int, lat, lon float64) ObjectLocation {
	return ObjectLocation{Lat: lat, Lon: lon, Time: at(ms), Side: SideRight}
}

func peak(id string, firstMs, lastMs int) TagPeak {
	return TagPeak{TagID: id, FirstPeak: TicksOf(at(firstMs)), LastPeak: TicksOf(at(lastMs))}
}

func TestTicksRoundTrip(t *testing.T) {
	ts := at(1234)
	assert.Equal(t, ts, TicksOf(ts).Time())
	assert.Equal(t, 10*TicksPerMillisecond, TicksOf(at(10))-TicksOf(at(0)))
}

func TestCorrelateLocationTags_LiveWaitsForSettle(t *testing.T) {
	p := DefaultParams()
	objects := []ObjectLocation{objAt(1000, 1, 1), objAt(5049, 2, 2)}
	peaks := []TagPeak{peak("A", 950, 1050)}

	got := CorrelateLocationTags(&objects, &peaks, false, p)
	assert.Empty(t, got, "newest object is only 3.999s past the window")
	assert.Len(t, peaks, 1)
	assert.Len(t, objects, 2)

	objects = append(objects, objAt(5050, 3, 3))
	got = CorrelateLocationTags(&objects, &peaks, false, p)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].TagID)
	assert.Equal(t, at(1000), got[0].Time)
	assert.Empty(t, peaks)
	assert.Len(t, objects, 2)
}

func TestCorrelateLocationTags_LiveBestFit(t *testing.T) {
	p := DefaultParams()
	objects := []ObjectLocation{
		objAt(800, 1, 1),   // inside widened window, far from midpoint
		objAt(1010, 2, 2),  // closest to midpoint 1000
		objAt(1200, 3, 3),  // inside widened window
		objAt(1400, 4, 4),  // outside widened window
		objAt(10000, 5, 5), // settles the peak
	}
	peaks := []TagPeak{peak("A", 1050, 950)} // reversed window

	got := CorrelateLocationTags(&objects, &peaks, false, p)

	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Lat)
	assert.Len(t, objects, 4)
}

func TestCorrelateLocationTags_LiveNoObjectInWindow(t *testing.T) {
	p := DefaultParams()
	objects := []ObjectLocation{objAt(5000, 1, 1), objAt(20000, 2, 2)}
	peaks := []TagPeak{peak("A", 1000, 1100)}

	assert.Empty(t, CorrelateLocationTags(&objects, &peaks, false, p))
	assert.Len(t, peaks, 1, "unmatched peaks stay for a later call")
}

func TestCorrelateLocationTags_FinalizeFirstFit(t *testing.T) {
	p := DefaultParams()
	objects := []ObjectLocation{
		objAt(-1400, 1, 1), // inside ±2.5s, first in scan order
		objAt(1000, 2, 2),  // closest to midpoint but not first
	}
	peaks := []TagPeak{peak("A", 950, 1050), peak("B", 60000, 61000)}

	got := CorrelateLocationTags(&objects, &peaks, true, p)

	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].TagID)
	assert.Equal(t, 1.0, got[0].Lat)
	require.Len(t, peaks, 1)
	assert.Equal(t, "B", peaks[0].TagID, "peak without objects is left to the caller")
	assert.Len(t, objects, 1)
}

func TestCorrelateLocationTags_FinalizeEveryCoveredPeakMatches(t *testing.T) {
	p := DefaultParams()
	objects := []ObjectLocation{objAt(1000, 1, 1), objAt(1100, 2, 2), objAt(30000, 3, 3)}
	peaks := []TagPeak{peak("A", 1000, 1000), peak("B", 1000, 1000), peak("C", 30500, 30600)}

	got := CorrelateLocationTags(&objects, &peaks, true, p)

	require.Len(t, got, 3)
	ids := []string{got[0].TagID, got[1].TagID, got[2].TagID}
	assert.ElementsMatch(t, []string{"A", "B", "C"}, ids)
	assert.Empty(t, peaks)
	assert.Empty(t, objects)
}

func TestCorrelateLocationTags_NoObjects(t *testing.T) {
	var objects []ObjectLocation
	peaks := []TagPeak{peak("A", 0, 10)}
	assert.Empty(t, CorrelateLocationTags(&objects, &peaks, true, DefaultParams()))
	assert.Len(t, peaks, 1)
}

func tagged(id string, lat, lon float64) TagObjectLocation {
	return TagObjectLocation{ObjectLocation: ObjectLocation{Lat: lat, Lon: lon}, TagID: id}
}

func TestCleanupUntagged_NearTagged(t *testing.T) {
	p := DefaultParams()
	tags := []TagObjectLocation{tagged("A", 40, -80)}
	objects := []ObjectLocation{
		{Lat: 40.00001, Lon: -80},  // 1e-5 away: duplicate
		{Lat: 40.0001, Lon: -80.0}, // 1e-4 away: kept
	}

	CleanupUntagged(tags, &objects, p)

	require.Len(t, objects, 1)
	assert.Equal(t, 40.0001, objects[0].Lat)
}

func TestCleanupUntagged_DuplicateUntagged(t *testing.T) {
	p := DefaultParams()
	objects := []ObjectLocation{
		{Lat: 40, Lon: -80},
		{Lat: 40.000015, Lon: -80},
		{Lat: 40.00003, Lon: -80}, // 1.5e-5 from the second, 3e-5 from the first
		{Lat: 41, Lon: -80},
	}

	CleanupUntagged(nil, &objects, p)

	require.Len(t, objects, 3)
	assert.Equal(t, 40.0, objects[0].Lat)
	assert.Equal(t, 40.00003, objects[1].Lat)
	assert.Equal(t, 41.0, objects[2].Lat)
}

func TestCleanupUntagged_GhostBetweenCloseTags(t *testing.T) {
	p := DefaultParams()
	tags := []TagObjectLocation{
		tagged("A", 40, -80),
		tagged("B", 40.00002, -80), // 2e-5 from A: implausibly close
		tagged("C", 40.0001, -80),
	}
	objects := []ObjectLocation{
		{Lat: 40.00005, Lon: -80},       // 3e-5 from B, closer than C: ghost
		{Lat: 40.00002, Lon: -80.00004}, // also eligible, but only the first ghost is dropped
		{Lat: 39, Lon: -80},
	}

	CleanupUntagged(tags, &objects, p)

	require.Len(t, objects, 2)
	assert.Equal(t, -80.00004, objects[0].Lon)
	assert.Equal(t, 39.0, objects[1].Lat)
}

func TestCleanupUntagged_Properties(t *testing.T) {
	p := DefaultParams()
	rng := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 50; round++ {
		var tags []TagObjectLocation
		for i := 0; i < 10; i++ {
			tags = append(tags, tagged("T", 40+rng.Float64()*0.0002, -80+rng.Float64()*0.0002))
		}
		var objects []ObjectLocation
		for i := 0; i < 40; i++ {
			objects = append(objects, ObjectLocation{Lat: 40 + rng.Float64()*0.0002, Lon: -80 + rng.Float64()*0.0002})
		}

		CleanupUntagged(tags, &objects, p)

		for i, a := range objects {
			for _, tg := range tags {
				if d := PlanarDistance(a, tg.ObjectLocation); d < p.DuplicateRadius {
					t.Fatalf("round %d: untagged %d within %g of a tagged record", round, i, d)
				}
			}
			for j := i + 1; j < len(objects); j++ {
				if d := PlanarDistance(a, objects[j]); d < p.DuplicateRadius {
					t.Fatalf("round %d: untagged %d and %d within %g", round, i, j, d)
				}
			}
		}
	}
}

func TestFinalizeUntagged(t *testing.T) {
	objects := []ObjectLocation{objAt(0, 1, 1), objAt(10, 2, 2)}

	got := FinalizeUntagged(&objects)

	require.Len(t, got, 2)
	for _, g := range got {
		assert.Equal(t, NoTag, g.TagID)
		assert.False(t, g.Tagged())
	}
	assert.Empty(t, objects)
	assert.Empty(t, FinalizeUntagged(&objects))
}

func TestTagObjectLocationCSV(t *testing.T) {
	in := TagObjectLocation{ObjectLocation: objAt(1500, 40.123456789, -80.5), TagID: "E200-1"}
	in.Strength = 17.25
	in.Size = 9

	rec := in.CSVRecord()
	assert.Len(t, rec, 7)
	assert.Equal(t, "Right", rec[3])

	out, err := ParseTagObjectLocation(rec)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = ParseTagObjectLocation(rec[:3])
	assert.Error(t, err)
}
