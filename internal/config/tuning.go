package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/alphascan/internal/fusion"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// Its values must match DefaultTuningConfig.
const DefaultConfigPath = "config/tuning.defaults.json"

// maxFileSize caps tuning files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// TuningConfig represents the root configuration for fusion thresholds and
// pipeline/output timeouts. Fields are pointers so a partial file only
// overrides what it names; the Get* methods supply defaults for the rest.
// Durations are strings like "250ms".
type TuningConfig struct {
	// Radar/GPS correlation
	MatchWindow *string `json:"match_window,omitempty" yaml:"match_window,omitempty"`
	StaleAfter  *string `json:"stale_after,omitempty" yaml:"stale_after,omitempty"`
	MinBatch    *int    `json:"min_batch,omitempty" yaml:"min_batch,omitempty"`
	BearingLag  *int    `json:"bearing_lag,omitempty" yaml:"bearing_lag,omitempty"`

	// Location/tag correlation
	SettleTime *string `json:"settle_time,omitempty" yaml:"settle_time,omitempty"`
	LiveWiden  *string `json:"live_widen,omitempty" yaml:"live_widen,omitempty"`
	FinalWiden *string `json:"final_widen,omitempty" yaml:"final_widen,omitempty"`

	// Cleanup radii, in degrees
	DuplicateRadius   *float64 `json:"duplicate_radius,omitempty" yaml:"duplicate_radius,omitempty"`
	GhostPairRadius   *float64 `json:"ghost_pair_radius,omitempty" yaml:"ghost_pair_radius,omitempty"`
	GhostSearchRadius *float64 `json:"ghost_search_radius,omitempty" yaml:"ghost_search_radius,omitempty"`

	// Pipeline
	StageWaitTimeout *string `json:"stage_wait_timeout,omitempty" yaml:"stage_wait_timeout,omitempty"`
	PollInterval     *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	TagDrainTimeout  *string `json:"tag_drain_timeout,omitempty" yaml:"tag_drain_timeout,omitempty"`

	// Output
	WriterDrainTimeout *string `json:"writer_drain_timeout,omitempty" yaml:"writer_drain_timeout,omitempty"`
	WriteTimeout       *string `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	WriteRetryInterval *string `json:"write_retry_interval,omitempty" yaml:"write_retry_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MatchWindow:        ptrString("300ms"),
		StaleAfter:         ptrString("1s"),
		MinBatch:           ptrInt(5),
		BearingLag:         ptrInt(5),
		SettleTime:         ptrString("4s"),
		LiveWiden:          ptrString("250ms"),
		FinalWiden:         ptrString("2.5s"),
		DuplicateRadius:    ptrFloat64(0.00002),
		GhostPairRadius:    ptrFloat64(0.000023),
		GhostSearchRadius:  ptrFloat64(0.000045),
		StageWaitTimeout:   ptrString("5s"),
		PollInterval:       ptrString("250ms"),
		TagDrainTimeout:    ptrString("2s"),
		WriterDrainTimeout: ptrString("5s"),
		WriteTimeout:       ptrString("1s"),
		WriteRetryInterval: ptrString("10ms"),
	}
}

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file of
// at most 1MB. Fields omitted from the file keep their defaults, so partial
// configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
		zero bool // zero is allowed
	}{
		{"match_window", c.MatchWindow, false},
		{"stale_after", c.StaleAfter, false},
		{"settle_time", c.SettleTime, true},
		{"live_widen", c.LiveWiden, true},
		{"final_widen", c.FinalWiden, true},
		{"stage_wait_timeout", c.StageWaitTimeout, false},
		{"poll_interval", c.PollInterval, false},
		{"tag_drain_timeout", c.TagDrainTimeout, true},
		{"writer_drain_timeout", c.WriterDrainTimeout, false},
		{"write_timeout", c.WriteTimeout, true},
		{"write_retry_interval", c.WriteRetryInterval, false},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 || (parsed == 0 && !d.zero) {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.MinBatch != nil && *c.MinBatch < 0 {
		return fmt.Errorf("min_batch must be non-negative, got %d", *c.MinBatch)
	}
	if c.BearingLag != nil && *c.BearingLag < 1 {
		return fmt.Errorf("bearing_lag must be at least 1, got %d", *c.BearingLag)
	}

	radii := []struct {
		name string
		v    *float64
	}{
		{"duplicate_radius", c.DuplicateRadius},
		{"ghost_pair_radius", c.GhostPairRadius},
		{"ghost_search_radius", c.GhostSearchRadius},
	}
	for _, r := range radii {
		if r.v != nil && (*r.v < 0 || *r.v > 1) {
			return fmt.Errorf("%s must be between 0 and 1 degree, got %f", r.name, *r.v)
		}
	}
	return nil
}

// ToFusionParams maps the correlation settings onto fusion.Params.
func (c *TuningConfig) ToFusionParams() fusion.Params {
	return fusion.Params{
		MatchWindow:       c.GetMatchWindow(),
		StaleAfter:        c.GetStaleAfter(),
		MinBatch:          c.GetMinBatch(),
		BearingLag:        c.GetBearingLag(),
		SettleTicks:       fusion.DurationTicks(c.GetSettleTime()),
		LiveWiden:         fusion.DurationTicks(c.GetLiveWiden()),
		FinalWiden:        fusion.DurationTicks(c.GetFinalWiden()),
		DuplicateRadius:   c.GetDuplicateRadius(),
		GhostPairRadius:   c.GetGhostPairRadius(),
		GhostSearchRadius: c.GetGhostSearchRadius(),
	}
}

// duration parses v, falling back to def when unset or unparsable.
func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetMatchWindow returns the match_window value or the default.
func (c *TuningConfig) GetMatchWindow() time.Duration {
	return duration(c.MatchWindow, 300*time.Millisecond)
}

// GetStaleAfter returns the stale_after value or the default.
func (c *TuningConfig) GetStaleAfter() time.Duration {
	return duration(c.StaleAfter, time.Second)
}

// GetMinBatch returns the min_batch value or the default.
func (c *TuningConfig) GetMinBatch() int {
	if c.MinBatch == nil {
		return 5
	}
	return *c.MinBatch
}

// GetBearingLag returns the bearing_lag value or the default.
func (c *TuningConfig) GetBearingLag() int {
	if c.BearingLag == nil {
		return 5
	}
	return *c.BearingLag
}

// GetSettleTime returns the settle_time value or the default.
func (c *TuningConfig) GetSettleTime() time.Duration {
	return duration(c.SettleTime, 4*time.Second)
}

// GetLiveWiden returns the live_widen value or the default.
func (c *TuningConfig) GetLiveWiden() time.Duration {
	return duration(c.LiveWiden, 250*time.Millisecond)
}

// GetFinalWiden returns the final_widen value or the default.
func (c *TuningConfig) GetFinalWiden() time.Duration {
	return duration(c.FinalWiden, 2500*time.Millisecond)
}

// GetDuplicateRadius returns the duplicate_radius value or the default.
func (c *TuningConfig) GetDuplicateRadius() float64 {
	if c.DuplicateRadius == nil {
		return 0.00002
	}
	return *c.DuplicateRadius
}

// GetGhostPairRadius returns the ghost_pair_radius value or the default.
func (c *TuningConfig) GetGhostPairRadius() float64 {
	if c.GhostPairRadius == nil {
		return 0.000023
	}
	return *c.GhostPairRadius
}

// GetGhostSearchRadius returns the ghost_search_radius value or the default.
func (c *TuningConfig) GetGhostSearchRadius() float64 {
	if c.GhostSearchRadius == nil {
		return 0.000045
	}
	return *c.GhostSearchRadius
}

// GetStageWaitTimeout returns how long Stop waits for each stage to exit.
func (c *TuningConfig) GetStageWaitTimeout() time.Duration {
	return duration(c.StageWaitTimeout, 5*time.Second)
}

// GetPollInterval returns the bounded wait used by the tag stage.
func (c *TuningConfig) GetPollInterval() time.Duration {
	return duration(c.PollInterval, 250*time.Millisecond)
}

// GetTagDrainTimeout returns how long the tag stage waits for the tag
// queue to close at end of run.
func (c *TuningConfig) GetTagDrainTimeout() time.Duration {
	return duration(c.TagDrainTimeout, 2*time.Second)
}

// GetWriterDrainTimeout returns the writer_drain_timeout value or the default.
func (c *TuningConfig) GetWriterDrainTimeout() time.Duration {
	return duration(c.WriterDrainTimeout, 5*time.Second)
}

// GetWriteTimeout returns the write_timeout value or the default.
func (c *TuningConfig) GetWriteTimeout() time.Duration {
	return duration(c.WriteTimeout, time.Second)
}

// GetWriteRetryInterval returns the write_retry_interval value or the default.
func (c *TuningConfig) GetWriteRetryInterval() time.Duration {
	return duration(c.WriteRetryInterval, 10*time.Millisecond)
}
