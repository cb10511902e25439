package confidence

import (
	"testing"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidenceAgreementBoundary(t *testing.T) {
	assert.Equal(t, 1.0, EvidenceAgreement(0, 0))
	assert.Equal(t, 0.5, EvidenceAgreement(1, 1))
	assert.Equal(t, 1.0, EvidenceAgreement(3, 0))
}

func TestRecencyDecayBoundary(t *testing.T) {
	assert.InDelta(t, 1.0, RecencyDecay(0, 30), 0.0001)
	assert.InDelta(t, 0.5, RecencyDecay(30, 30), 0.01)
	assert.InDelta(t, 0.25, RecencyDecay(60, 30), 0.01)
}

func TestRetrievalReinforcementZeroCount(t *testing.T) {
	assert.Equal(t, 0.0, RetrievalReinforcement(0, 0))
}

func TestRetrievalReinforcementCapsAtOne(t *testing.T) {
	v := RetrievalReinforcement(1_000_000, 0)
	assert.LessOrEqual(t, v, 1.0)
}

func TestScoreAlwaysInUnitRange(t *testing.T) {
	cases := []Input{
		{Source: domain.SourceDirectObservation, Support: 10, Contradict: 0, AgeDays: 0, RetrievalCount: 50, DaysSinceRetrieval: 0, HalfLifeDays: HalfLifeSemantic},
		{Source: domain.SourceModelGenerated, Support: 10, Contradict: 0, AgeDays: 0, RetrievalCount: 50, DaysSinceRetrieval: 0, HalfLifeDays: HalfLifeSemantic},
		{Source: domain.SourceInference, Support: 0, Contradict: 5, AgeDays: 400, RetrievalCount: 0, DaysSinceRetrieval: 0, HalfLifeDays: HalfLifeEpisodic},
	}
	for _, c := range cases {
		got, err := Score(c)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestScoreModelGeneratedCeiling(t *testing.T) {
	got, err := Score(Input{
		Source: domain.SourceModelGenerated, Support: 100, Contradict: 0,
		AgeDays: 0, RetrievalCount: 100, DaysSinceRetrieval: 0, HalfLifeDays: HalfLifeSemantic,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, got, ModelGeneratedCeiling)
}

func TestScoreUnknownSourceIsError(t *testing.T) {
	_, err := Score(Input{Source: domain.Source("unknown"), HalfLifeDays: HalfLifeEpisodic})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.ErrorKind(err))
}

func TestHalfLifeFor(t *testing.T) {
	assert.Equal(t, HalfLifeEpisodic, HalfLifeFor(domain.MemoryKind("episodic")))
	assert.Equal(t, HalfLifeSemantic, HalfLifeFor(domain.MemoryKindSemantic))
	assert.Equal(t, HalfLifeProcedural, HalfLifeFor(domain.MemoryKindProcedural))
}
