package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Tier
	}{
		{10.0, TierTrustedPlus},
		{9.0, TierTrustedPlus},
		{8.99, TierVerified},
		{7.5, TierVerified},
		{7.499999, TierTrusted},
		{6.0, TierTrusted},
		{5.9, TierLimited},
		{4.0, TierLimited},
		{3.99, TierUntrusted},
		{0.0, TierUntrusted},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, TierForScore(tc.score), "score %v", tc.score)
	}
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "trusted-plus", TierTrustedPlus.String())
	assert.Equal(t, "verified", TierVerified.String())
	assert.Equal(t, "trusted", TierTrusted.String())
	assert.Equal(t, "limited", TierLimited.String())
	assert.Equal(t, "untrusted", TierUntrusted.String())
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	bad := Weights{Technical: 0.4, Alignment: 0.3, Behavior: 0.2, Contribution: 0.2}
	err := bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidWeightConfiguration)

	negative := Weights{Technical: 1.2, Alignment: -0.2, Behavior: 0, Contribution: 0}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidWeightConfiguration)
}

func TestCompositeWorkedExample(t *testing.T) {
	b := MetricBreakdown{Technical: 8, Alignment: 7, Behavior: 9, Contribution: 5}
	got := Composite(b, DefaultWeights())
	assert.InDelta(t, 7.5, got, 1e-9)
	assert.Equal(t, TierVerified, TierForScore(got))
}

func TestCompositeClamped(t *testing.T) {
	perfect := MetricBreakdown{Technical: 10, Alignment: 10, Behavior: 10, Contribution: 10}
	assert.Equal(t, 10.0, Composite(perfect, DefaultWeights()))

	zero := MetricBreakdown{}
	assert.Equal(t, 0.0, Composite(zero, DefaultWeights()))
}

func TestDecayValue(t *testing.T) {
	assert.InDelta(t, 7.92, DecayValue(8.0, 0.01, 1), 1e-9)
	assert.InDelta(t, 8.0*0.99*0.99, DecayValue(8.0, 0.01, 2), 1e-9)
	assert.Equal(t, 8.0, DecayValue(8.0, 0.01, 0))
	assert.Equal(t, 0.0, DecayValue(0.0, 0.01, 10))
}

func TestComputeBreakdownDeterministic(t *testing.T) {
	a := &ActivityData{
		TasksCompleted:       9,
		TasksFailed:          1,
		LatencyDeviation:     0.2,
		TaskComplexity:       0.5,
		UserVerificationRate: 0.8,
		AccuracyScore:        0.9,
		SelfCorrections:      2,
		InstructionAdherence: 0.9,
		PeerFeedback:         0.7,
		CreativeOutputs:      20,
		ToolRegistrations:    5,
		MentorshipHours:      40,
	}

	first := ComputeBreakdown(a)
	second := ComputeBreakdown(a)
	assert.Equal(t, first, second)

	assert.InDelta(t, 7.5, first.Technical, 1e-9)
	assert.InDelta(t, 6.2, first.Alignment, 1e-9)
	assert.InDelta(t, 9.0, first.Behavior, 1e-9)
	assert.InDelta(t, 5.0, first.Contribution, 1e-9)
}

func TestSuccessRateNoTasks(t *testing.T) {
	a := &ActivityData{LatencyDeviation: 0, TaskComplexity: 1}
	b := ComputeBreakdown(a)
	// Success term contributes nothing without recorded tasks.
	assert.InDelta(t, 10*(technicalLatencyWeight+technicalComplexityWeight), b.Technical, 1e-9)
}

func TestEthicsViolationsReduceBehavior(t *testing.T) {
	clean := ComputeBreakdown(&ActivityData{InstructionAdherence: 1, PeerFeedback: 1})
	dirty := ComputeBreakdown(&ActivityData{InstructionAdherence: 1, PeerFeedback: 1, EthicsViolations: 2})
	assert.Greater(t, clean.Behavior, dirty.Behavior)

	// Four or more violations zero out the ethics term entirely.
	floor := ComputeBreakdown(&ActivityData{InstructionAdherence: 1, PeerFeedback: 1, EthicsViolations: 4})
	worse := ComputeBreakdown(&ActivityData{InstructionAdherence: 1, PeerFeedback: 1, EthicsViolations: 9})
	assert.Equal(t, floor.Behavior, worse.Behavior)
}

func TestContributionSaturates(t *testing.T) {
	some := ComputeBreakdown(&ActivityData{CreativeOutputs: 20})
	more := ComputeBreakdown(&ActivityData{CreativeOutputs: 200})
	assert.Greater(t, more.Contribution, some.Contribution)
	assert.Less(t, more.Contribution, 10*contributionCreativeWeight)
}
