package report

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(tag string, lat, lon float64, ms int) fusion.TagObjectLocation {
	return fusion.TagObjectLocation{
		ObjectLocation: fusion.ObjectLocation{
			Lat: lat, Lon: lon,
			Time:     base.Add(time.Duration(ms) * time.Millisecond),
			Side:     fusion.SideRight,
			Strength: 5,
			Size:     2,
		},
		TagID: tag,
	}
}

func sampleRecords() []fusion.TagObjectLocation {
	return []fusion.TagObjectLocation{
		record(fusion.NoTag, 40.0001, -105.0001, 0),
		record("E200-B", 40.0002, -105.0002, 100),
		record("E200-A", 40.0003, -105.0003, 200),
		record("E200-B", 40.0004, -105.0004, 300),
	}
}

func writeCSV(t *testing.T, dir string, recs []fusion.TagObjectLocation) {
	t.Helper()
	var b strings.Builder
	b.WriteString(fusion.TagObjectLocationHeader + "\n")
	for _, r := range recs {
		b.WriteString(strings.Join(r.CSVRecord(), ",") + "\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TagLocationObj.csv"), []byte(b.String()), 0o644))
}

func TestGroupByTag(t *testing.T) {
	groups := groupByTag(sampleRecords())
	require.Len(t, groups, 3)
	assert.Equal(t, "E200-A", groups[0].tag)
	assert.Equal(t, "E200-B", groups[1].tag)
	assert.Len(t, groups[1].records, 2)
	assert.Equal(t, fusion.NoTag, groups[2].tag, "untagged series sorts last")

	colors := palette(groups)
	assert.Equal(t, color.Color(untaggedColor), colors[2])
	assert.NotEqual(t, colors[0], colors[1])
}

func TestHexColor(t *testing.T) {
	assert.Equal(t, "#969696", hexColor(untaggedColor))
	assert.Equal(t, "#ff0000", hexColor(color.RGBA{R: 255, A: 255}))
}

func TestBounds_SinglePoint(t *testing.T) {
	minLon, maxLon, minLat, maxLat := bounds([]fusion.TagObjectLocation{record("A", 1, 2, 0)})
	assert.Less(t, minLon, 2.0)
	assert.Greater(t, maxLon, 2.0)
	assert.Less(t, minLat, 1.0)
	assert.Greater(t, maxLat, 1.0)
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, sampleRecords())

	f, err := os.Open(filepath.Join(dir, "TagLocationObj.csv"))
	require.NoError(t, err)
	defer f.Close()

	recs, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "E200-B", recs[1].TagID)
	assert.True(t, recs[0].Time.Equal(base))

	_, err = ReadRecords(strings.NewReader(fusion.TagObjectLocationHeader + "\n1,2,3,4,5,6,7\n"))
	assert.ErrorContains(t, err, "line 2")

	recs, err = ReadRecords(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRenderPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, "Run0", sampleRecords()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")))

	assert.ErrorIs(t, RenderPNG(&buf, "empty", nil), ErrNoRecords)
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, "Run0 TagLocationObj", sampleRecords()))
	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "Run0 TagLocationObj")
	assert.Contains(t, out, "E200-A")
	assert.Contains(t, out, "E200-B")
	assert.Contains(t, out, "records=4 tags=3")

	assert.ErrorIs(t, RenderHTML(&buf, "empty", nil), ErrNoRecords)
}

func TestRenderRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Run3")
	require.NoError(t, os.Mkdir(dir, 0o755))
	writeCSV(t, dir, sampleRecords())

	written, err := RenderRun(dir, "TagLocationObj")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "TagLocationObj.png"),
		filepath.Join(dir, "TagLocationObj.html"),
	}, written)
	for _, p := range written {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestRenderRun_EmptyRunLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, nil)

	_, err := RenderRun(dir, "TagLocationObj")
	assert.ErrorIs(t, err, ErrNoRecords)
	_, statErr := os.Stat(filepath.Join(dir, "TagLocationObj.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRenderRun_MissingDataset(t *testing.T) {
	_, err := RenderRun(t.TempDir(), "TagLocationObj")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
