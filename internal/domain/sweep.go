package domain

import "time"

// SweepReport summarizes one complete re-verification pass.
type SweepReport struct {
	SweepID   string        `json:"sweep_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Groups    int           `json:"groups"`
	Checked   int           `json:"checked"`
	Evicted   int           `json:"evicted"`
	Skipped   int           `json:"skipped"` // owner exemptions and conditional-write losers
	Failures  int           `json:"failures"`
}

// Eventful reports whether the sweep did anything worth alerting on.
func (r *SweepReport) Eventful() bool {
	return r.Evicted > 0 || r.Failures > 0
}
