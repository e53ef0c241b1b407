package governance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustmesh/trustd/internal/crypto"
	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/trust"
)

func newTestGovernance(t *testing.T) (*Governance, *registry.Registry, *profile.MemoryStore) {
	t.Helper()
	store := profile.NewMemoryStore(crypto.Ed25519Verifier{}, crypto.SHA256Hasher{}, 100)
	reg, err := registry.New(store, 16, time.Hour)
	require.NoError(t, err)
	return New(reg), reg, store
}

func commit(reg *registry.Registry, agentID string, value float64) {
	reg.CommitScore(&trust.Score{
		AgentID:    agentID,
		Value:      value,
		Tier:       trust.TierForScore(value),
		ComputedAt: time.Now(),
	})
}

func TestVoteWeight(t *testing.T) {
	gov, reg, _ := newTestGovernance(t)
	ctx := context.Background()

	cases := []struct {
		score float64
		want  float64
	}{
		{10.0, 1.0},
		{6.4, 0.8},
		{2.5, 0.5},
		{0.0, 0.0},
	}

	for _, tc := range cases {
		commit(reg, "a", tc.score)
		weight, err := gov.VoteWeight(ctx, "a")
		require.NoError(t, err)
		assert.InDelta(t, tc.want, weight, 1e-9, "score %v", tc.score)
	}
}

func TestVoteWeightMonotonic(t *testing.T) {
	gov, reg, _ := newTestGovernance(t)
	ctx := context.Background()

	prev := -1.0
	for score := 0.0; score <= 10.0; score += 0.5 {
		commit(reg, "a", score)
		weight, err := gov.VoteWeight(ctx, "a")
		require.NoError(t, err)
		assert.Greater(t, weight, prev)
		prev = weight
	}
}

func TestVoteWeightSubLinear(t *testing.T) {
	gov, reg, _ := newTestGovernance(t)
	ctx := context.Background()

	commit(reg, "low", 2.5)
	commit(reg, "high", 10.0)

	low, err := gov.VoteWeight(ctx, "low")
	require.NoError(t, err)
	high, err := gov.VoteWeight(ctx, "high")
	require.NoError(t, err)

	// 4x the trust buys only 2x the voting power.
	assert.InDelta(t, 2.0, high/low, 1e-9)
}

func TestVoteWeightUnknownAgent(t *testing.T) {
	gov, _, _ := newTestGovernance(t)
	_, err := gov.VoteWeight(context.Background(), "nobody")
	assert.ErrorIs(t, err, trust.ErrUnknownAgent)
}

func TestCanSubmitProposal(t *testing.T) {
	gov, reg, _ := newTestGovernance(t)
	ctx := context.Background()

	commit(reg, "a", 5.5)
	err := gov.CanSubmitProposal(ctx, "a")
	assert.ErrorIs(t, err, ErrInsufficientTrust)

	commit(reg, "a", 6.0)
	assert.NoError(t, gov.CanSubmitProposal(ctx, "a"))

	commit(reg, "a", 9.5)
	assert.NoError(t, gov.CanSubmitProposal(ctx, "a"))
}

func TestCanSubmitProposalUnknownAgent(t *testing.T) {
	gov, _, _ := newTestGovernance(t)
	err := gov.CanSubmitProposal(context.Background(), "nobody")
	assert.ErrorIs(t, err, trust.ErrUnknownAgent)
}

func TestBannedAgentHasNoGovernanceRights(t *testing.T) {
	gov, reg, store := newTestGovernance(t)
	ctx := context.Background()

	_, err := store.ApplyPenalty(ctx, "a", profile.PenaltyEffect{
		PenaltyID: uuid.New(),
		Ban:       true,
	})
	require.NoError(t, err)

	// A high committed score does not restore governance rights while the
	// ban mark is set.
	commit(reg, "a", 8.5)

	weight, err := gov.VoteWeight(ctx, "a")
	assert.ErrorIs(t, err, ErrBanned)
	assert.Zero(t, weight)

	assert.ErrorIs(t, gov.CanSubmitProposal(ctx, "a"), ErrBanned)
}

func TestReversedBanRestoresGovernanceRights(t *testing.T) {
	gov, reg, store := newTestGovernance(t)
	ctx := context.Background()

	penaltyID := uuid.New()
	_, err := store.ApplyPenalty(ctx, "a", profile.PenaltyEffect{
		PenaltyID: penaltyID,
		Ban:       true,
	})
	require.NoError(t, err)

	_, err = store.ReversePenalty(ctx, penaltyID)
	require.NoError(t, err)

	commit(reg, "a", 8.5)

	weight, err := gov.VoteWeight(ctx, "a")
	require.NoError(t, err)
	assert.Greater(t, weight, 0.0)
	assert.NoError(t, gov.CanSubmitProposal(ctx, "a"))
}
