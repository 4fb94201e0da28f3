package reminder

import (
	"strings"
	"time"
)

// ComputeStages maps a target time and the configured offset ladder into
// the ordered stage list (largest offset first). It is pure: fire times
// already in the past are still included; firing those promptly is the
// sweep's job, not this function's.
//
// Offsets are validated once at startup (strictly decreasing, last entry
// zero), so there is no error path here.
func ComputeStages(target time.Time, offsets []time.Duration) []Stage {
	stages := make([]Stage, 0, len(offsets))
	for _, off := range offsets {
		stages = append(stages, Stage{
			Label:  StageLabel(off),
			Offset: off,
			FireAt: target.Add(-off).UTC(),
			State:  StagePending,
		})
	}
	return stages
}

// StageLabel is the canonical stage key for an offset: "24h", "1h30m", and
// "due" for the zero (at-target) stage. Labels are stable across restarts
// because they key the persisted per-stage sent flags.
func StageLabel(off time.Duration) string {
	if off == 0 {
		return "due"
	}
	s := off.String()
	// time.Duration.String() writes "24h0m0s"; drop the zero tail units.
	s = strings.TrimSuffix(s, "0s")
	s = strings.TrimSuffix(s, "0m")
	return s
}
