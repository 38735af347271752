package security

import (
	"time"

	goAbuse "github.com/MrEthical07/goAbuse"
)

const day = 24 * time.Hour

// TierReport describes one tier as an attacker sees it.
type TierReport struct {
	Window    time.Duration
	Threshold int
	Block     time.Duration
	// CrossAt is the attempt count that starts a block.
	CrossAt int
	// AllowedPerWindow is the most attempts that pass inside one window.
	AllowedPerWindow int
}

// PolicyReport summarizes what a policy permits.
type PolicyReport struct {
	Name      string
	Crossing  string
	LedgerTTL time.Duration
	Short     TierReport
	Long      TierReport
	// MaxAllowedPerDay is the sustained ceiling for a caller pacing just
	// under both tiers.
	MaxAllowedPerDay int
	Warnings         []string
}

// BuildPolicyReport describes p. It does not validate p; invalid policies
// produce warnings where they can be detected.
func BuildPolicyReport(name string, p goAbuse.Policy) PolicyReport {
	r := PolicyReport{
		Name:      name,
		Crossing:  p.Crossing.String(),
		LedgerTTL: p.LedgerTTL,
		Short:     tierReport(p.Short, p.Crossing),
		Long:      tierReport(p.Long, p.Crossing),
	}

	r.MaxAllowedPerDay = perDay(r.Short)
	if long := perDay(r.Long); long < r.MaxAllowedPerDay {
		r.MaxAllowedPerDay = long
	}

	if p.Long.Window <= p.Short.Window {
		r.Warnings = append(r.Warnings, "long window does not exceed short window")
	}
	if r.Long.CrossAt < r.Short.CrossAt {
		r.Warnings = append(r.Warnings, "long threshold is below short threshold")
	}
	if p.Long.Block < p.Short.Block {
		r.Warnings = append(r.Warnings, "long block is shorter than short block")
	}
	if err := p.Validate(); err != nil {
		r.Warnings = append(r.Warnings, err.Error())
	}
	return r
}

func tierReport(t goAbuse.TierPolicy, mode goAbuse.CrossingMode) TierReport {
	crossAt := t.Threshold
	if mode == goAbuse.CrossAboveThreshold {
		crossAt++
	}
	allowed := crossAt - 1
	if allowed < 0 {
		allowed = 0
	}
	return TierReport{
		Window:           t.Window,
		Threshold:        t.Threshold,
		Block:            t.Block,
		CrossAt:          crossAt,
		AllowedPerWindow: allowed,
	}
}

func perDay(t TierReport) int {
	if t.Window <= 0 {
		return 0
	}
	windows := int(day / t.Window)
	if day%t.Window != 0 {
		windows++
	}
	return windows * t.AllowedPerWindow
}
