package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alphascan/internal/db"
	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/monitoring"
	"github.com/banshee-data/alphascan/internal/output"
	"github.com/banshee-data/alphascan/internal/replay"
	"github.com/banshee-data/alphascan/internal/testutil"
	"github.com/banshee-data/alphascan/internal/version"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func quietLogger(t *testing.T) *logrus.Logger {
	t.Helper()
	logger, closer, err := monitoring.NewLogger(monitoring.LogConfig{Level: "debug", Console: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { closer.Close() })
	return logger
}

// writeLogs records the shared scenario, optionally with its tag peak.
func writeLogs(t *testing.T, dir string, withTag bool) replay.Paths {
	t.Helper()
	p := replay.Paths{
		Radar: filepath.Join(dir, "radar.csv"),
		Gps:   filepath.Join(dir, "gps.csv"),
	}

	var buf bytes.Buffer
	require.NoError(t, replay.WriteRadar(&buf, []fusion.RadarCluster{testutil.ScenarioCluster()}))
	require.NoError(t, os.WriteFile(p.Radar, buf.Bytes(), 0o644))

	buf.Reset()
	require.NoError(t, replay.WriteGps(&buf, testutil.ScenarioFixes()))
	require.NoError(t, os.WriteFile(p.Gps, buf.Bytes(), 0o644))

	if withTag {
		p.Tags = filepath.Join(dir, "tags.csv")
		buf.Reset()
		require.NoError(t, replay.WriteTags(&buf, []fusion.TagPeak{testutil.ScenarioPeak()}))
		require.NoError(t, os.WriteFile(p.Tags, buf.Bytes(), 0o644))
	}
	return p
}

func writeTuning(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"poll_interval: 10ms\nstage_wait_timeout: 2s\ntag_drain_timeout: 50ms\n"), 0o644))
	return path
}

func TestInfoList(t *testing.T) {
	var l infoList
	require.NoError(t, l.Set("Operator=field crew"))
	require.NoError(t, l.Set(" Site = North=East "))
	assert.Equal(t, infoList{
		{Key: "Operator", Value: "field crew"},
		{Key: "Site", Value: "North=East"},
	}, l)
	assert.Equal(t, "Operator=field crew,Site=North=East", l.String())

	assert.Error(t, l.Set("novalue"))
	assert.Error(t, l.Set("=x"))
	assert.Len(t, l, 2)
}

func TestSensors(t *testing.T) {
	assert.Equal(t, []string{"mmWave", "GPS", "RFID"}, sensors(replay.Paths{Radar: "r", Gps: "g", Tags: "t"}))
	assert.Equal(t, []string{"GPS"}, sensors(replay.Paths{Gps: "g"}))
	assert.Empty(t, sensors(replay.Paths{}))
}

func TestLoadTuning_DefaultsWhenUnset(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.GetStageWaitTimeout())

	_, err = loadTuning(filepath.Join(t.TempDir(), "tuning.toml"))
	assert.Error(t, err)
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	dbPath := filepath.Join(dir, "catalog.db")

	summary, err := run(context.Background(), options{
		OutDir:     out,
		ConfigPath: writeTuning(t, dir),
		Logs:       writeLogs(t, dir, true),
		DBPath:     dbPath,
		Info:       []output.InfoEntry{{Key: "Operator", Value: "field crew"}},
		Logger:     quietLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, 1, summary.Tagged)
	assert.Equal(t, 1, summary.UniqueTags)

	runDir := filepath.Join(out, "Run0")
	data, err := os.ReadFile(filepath.Join(runDir, "TagLocationObj.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), fusion.TagObjectLocationHeader)
	assert.Contains(t, string(data), testutil.ScenarioTag)

	data, err = os.ReadFile(filepath.Join(runDir, output.InfoFileName))
	require.NoError(t, err)
	info := output.ParseInfo(data)
	require.GreaterOrEqual(t, len(info), 4)
	assert.Equal(t, output.InfoEntry{Key: "Operator", Value: "field crew"}, info[1])
	assert.Equal(t, output.InfoEntry{Key: version.InfoKey, Value: version.Version}, info[2])
	assert.Equal(t, output.InfoEntry{Key: output.InfoKeyRunningSensors, Value: "mmWave, GPS, RFID"}, info[3])

	catalog, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer catalog.Close()
	runs, err := catalog.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.StatusCompleted, runs[0].Status)
	assert.Equal(t, runDir, runs[0].Dir)
	assert.Equal(t, 1, runs[0].Summary.Tagged)
}

func TestRun_SecondRunWithoutTags(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	opts := options{
		OutDir:     out,
		ConfigPath: writeTuning(t, dir),
		Logs:       writeLogs(t, dir, false),
		Logger:     quietLogger(t),
	}

	_, err := run(context.Background(), opts)
	require.NoError(t, err)
	summary, err := run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Untagged)

	_, err = os.Stat(filepath.Join(out, "Run1", "TagLocationObj.csv"))
	assert.NoError(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := run(ctx, options{
		OutDir:     filepath.Join(dir, "out"),
		ConfigPath: writeTuning(t, dir),
		Logs:       writeLogs(t, dir, true),
		Speed:      1,
		Logger:     quietLogger(t),
	})
	assert.NoError(t, err, "an interrupted replay still finishes its run")
}

func TestRun_BadInputs(t *testing.T) {
	dir := t.TempDir()

	_, err := run(context.Background(), options{
		OutDir:     filepath.Join(dir, "out"),
		ConfigPath: filepath.Join(dir, "missing.yaml"),
		Logger:     quietLogger(t),
	})
	assert.ErrorContains(t, err, "tuning config")

	_, err = run(context.Background(), options{
		OutDir: filepath.Join(dir, "out"),
		Logs:   replay.Paths{Radar: filepath.Join(dir, "missing.csv")},
		Logger: quietLogger(t),
	})
	assert.ErrorContains(t, err, "recording")
}
