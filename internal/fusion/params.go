package fusion

import "time"

// Params holds the matching windows and cleanup radii. The defaults were
// tuned empirically in the field; change them only with recorded data that
// shows an improvement.
type Params struct {
	// MatchWindow is the maximum |Δt| between a cluster and a bearing fix.
	MatchWindow time.Duration
	// StaleAfter marks a bearing fix unusable once a newer cluster is this far past it.
	StaleAfter time.Duration
	// MinBatch is the minimum number of clusters and fixes before live matching runs.
	MinBatch int
	// BearingLag is how many fixes ahead the bearing target is taken from.
	BearingLag int

	// SettleTicks is how far the newest object must be past a peak window
	// before live matching may use it.
	SettleTicks Ticks
	// LiveWiden widens each side of the peak window in live mode.
	LiveWiden Ticks
	// FinalWiden widens each side of the peak window when finalizing.
	FinalWiden Ticks

	// DuplicateRadius (degrees) below which untagged objects are duplicates.
	DuplicateRadius float64
	// GhostPairRadius (degrees) below which two tagged objects are implausibly close.
	GhostPairRadius float64
	// GhostSearchRadius (degrees) limits the search for a ghost untagged object.
	GhostSearchRadius float64
}

// DefaultParams returns the field-tuned defaults.
func DefaultParams() Params {
	return Params{
		MatchWindow:       300 * time.Millisecond,
		StaleAfter:        1000 * time.Millisecond,
		MinBatch:          5,
		BearingLag:        5,
		SettleTicks:       4 * TicksPerSecond,
		LiveWiden:         250 * TicksPerMillisecond,
		FinalWiden:        2500 * TicksPerMillisecond,
		DuplicateRadius:   0.00002,
		GhostPairRadius:   0.000023,
		GhostSearchRadius: 0.000045,
	}
}
