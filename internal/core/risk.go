package core

import (
	"math"

	"intake-triage/pkg"
)

const (
	highRiskThreshold     = 70
	moderateRiskThreshold = 40
)

// RiskBand buckets a risk score for the clinician queue.  A nil score means
// the session has not been assessed.
func RiskBand(score *int) pkg.RiskBand {
	switch {
	case score == nil:
		return pkg.BandUnassessed
	case *score >= highRiskThreshold:
		return pkg.BandHigh
	case *score >= moderateRiskThreshold:
		return pkg.BandModerate
	default:
		return pkg.BandLow
	}
}

// ClampRisk limits a model-supplied score to 0..100 and rounds it.  The
// float is clamped before conversion so huge values cannot overflow.
func ClampRisk(score float64) int {
	return int(math.Round(math.Max(0, math.Min(100, score))))
}
