// Package confidence implements the compositional, time-decaying scoring
// formula of spec.md §4.2. It is kept free of I/O and clocks — callers
// pass age_days and days_since_retrieval as plain floats — so the formula
// itself is trivially unit-testable (spec.md §9 design note).
package confidence

import (
	"math"

	"github.com/harshitk-cp/mnemex/internal/domain"
)

// Weights are the w_s/w_e/w_r/w_t terms of the compositional formula.
const (
	WeightSource    = 0.30
	WeightEvidence  = 0.35
	WeightRecency   = 0.20
	WeightRetrieval = 0.15
)

// Half-lives in days, by memory kind.
const (
	HalfLifeEpisodic   = 7.0
	HalfLifeSemantic   = 30.0
	HalfLifeProcedural = 90.0

	// ModelGeneratedCeiling caps C when the nominal source is
	// model-generated, applied after weighting.
	ModelGeneratedCeiling = 0.60

	// retrievalHalfLifeDays is the 14-day constant in the T term.
	retrievalHalfLifeDays = 14.0
)

// Input is the set of observed facts the formula needs. It carries no
// clock: age_days and days_since_retrieval are supplied by the caller.
type Input struct {
	Source             domain.Source
	Support            int
	Contradict         int
	AgeDays            float64
	RetrievalCount     int
	DaysSinceRetrieval float64
	HalfLifeDays       float64
}

// clamp01 bounds a value to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EvidenceAgreement is the E term: support / (support + contradict), 1.0
// if both are zero (spec.md §8 boundary case: evidenceAgreement(0,0) =
// 1.0).
func EvidenceAgreement(support, contradict int) float64 {
	total := support + contradict
	if total == 0 {
		return 1.0
	}
	return float64(support) / float64(total)
}

// RecencyDecay is the R term: exp(-ln2 * age_days / half_life_days).
// recencyDecay(h, h) ~= 0.5; recencyDecay(0, h) = 1.0 for any h > 0.
func RecencyDecay(ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 0
	}
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / halfLifeDays)
}

// RetrievalReinforcement is the T term: min(1, 0.3*ln(1+retrievalCount) *
// exp(-ln2 * daysSinceRetrieval / 14)); 0 if retrievalCount = 0.
func RetrievalReinforcement(retrievalCount int, daysSinceRetrieval float64) float64 {
	if retrievalCount <= 0 {
		return 0
	}
	if daysSinceRetrieval < 0 {
		daysSinceRetrieval = 0
	}
	v := 0.3 * math.Log(1+float64(retrievalCount)) * math.Exp(-math.Ln2*daysSinceRetrieval/retrievalHalfLifeDays)
	if v > 1 {
		v = 1
	}
	return v
}

// Score computes C = clamp01(w_s*S + w_e*E + w_r*R + w_t*T), applying the
// model-generated ceiling after weighting. Returns an error if the source
// name is unrecognized (spec.md §4.2: "Unknown source name is an error").
func Score(in Input) (float64, error) {
	s, ok := in.Source.Reliability()
	if !ok {
		return 0, domain.NewError(domain.KindInvalidInput, "confidence.score", domain.ErrUnknownSourceName)
	}

	e := EvidenceAgreement(in.Support, in.Contradict)
	r := RecencyDecay(in.AgeDays, in.HalfLifeDays)
	t := RetrievalReinforcement(in.RetrievalCount, in.DaysSinceRetrieval)

	c := clamp01(WeightSource*s + WeightEvidence*e + WeightRecency*r + WeightRetrieval*t)

	if in.Source == domain.SourceModelGenerated && c > ModelGeneratedCeiling {
		c = ModelGeneratedCeiling
	}
	return c, nil
}

// HalfLifeFor returns the half-life in days for a memory kind.
func HalfLifeFor(kind domain.MemoryKind) float64 {
	switch kind {
	case domain.MemoryKindSemantic:
		return HalfLifeSemantic
	case domain.MemoryKindProcedural:
		return HalfLifeProcedural
	default:
		return HalfLifeEpisodic
	}
}
