package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustmesh/trustd/internal/crypto"
	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/trust"
)

func newTestRegistry(t *testing.T) (*Registry, *profile.MemoryStore) {
	t.Helper()
	store := profile.NewMemoryStore(crypto.Ed25519Verifier{}, crypto.SHA256Hasher{}, 100)
	reg, err := New(store, 16, time.Hour)
	require.NoError(t, err)
	return reg, store
}

func committed(agentID string, value float64, at time.Time) *trust.Score {
	return &trust.Score{
		AgentID:    agentID,
		Value:      value,
		Tier:       trust.TierForScore(value),
		ComputedAt: at,
	}
}

func TestLatestScoreUnknownAgent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.LatestScore(context.Background(), "nobody")
	assert.ErrorIs(t, err, trust.ErrUnknownAgent)
}

func TestCommitAndReadScore(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.CommitScore(committed("a", 7.2, time.Now()))

	score, err := reg.LatestScore(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 7.2, score.Value)
}

func TestStaleCacheRefreshesFromStore(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	base := time.Now()
	reg.CommitScore(committed("a", 5.0, base.Add(-3*time.Hour)))

	// A fresher score landed in the store after the cached snapshot aged
	// past the staleness window.
	_, err := store.AppendHistory(ctx, committed("a", 6.5, base), "recompute")
	require.NoError(t, err)

	reg.SetClock(func() time.Time { return base })
	score, err := reg.LatestScore(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 6.5, score.Value)
}

func TestBoundedStaleReadServedFromCache(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	base := time.Now()
	reg.CommitScore(committed("a", 5.0, base.Add(-10*time.Minute)))

	// Newer store state within the staleness window is not consulted.
	_, err := store.AppendHistory(ctx, committed("a", 9.0, base), "recompute")
	require.NoError(t, err)

	reg.SetClock(func() time.Time { return base })
	score, err := reg.LatestScore(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 5.0, score.Value)
}

func TestRosterOperations(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.Register(AgentInfo{AgentID: "b", Availability: 0.5})
	reg.Register(AgentInfo{AgentID: "a", Availability: 0.9})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].AgentID)
	assert.Equal(t, "b", list[1].AgentID)

	info, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, 0.9, info.Availability)
	assert.False(t, info.RegisteredAt.IsZero())

	require.NoError(t, reg.UpdateAvailability("a", 0.4))
	info, _ = reg.Get("a")
	assert.Equal(t, 0.4, info.Availability)

	assert.ErrorIs(t, reg.UpdateAvailability("nobody", 1.0), trust.ErrUnknownAgent)

	reg.Deregister("a")
	_, ok = reg.Get("a")
	assert.False(t, ok)
}

func TestAdjustLoadFloorsAtZero(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register(AgentInfo{AgentID: "a"})

	require.NoError(t, reg.AdjustLoad("a", 2))
	require.NoError(t, reg.AdjustLoad("a", -5))

	info, _ := reg.Get("a")
	assert.Equal(t, 0, info.Load)

	assert.ErrorIs(t, reg.AdjustLoad("nobody", 1), trust.ErrUnknownAgent)
}

func TestCandidatesFiltering(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now()

	reg.Register(AgentInfo{AgentID: "scored"})
	reg.Register(AgentInfo{AgentID: "unscored"})
	reg.Register(AgentInfo{AgentID: "banned"})
	reg.Register(AgentInfo{AgentID: "suspended"})

	reg.CommitScore(committed("scored", 7.0, now))
	reg.CommitScore(committed("banned", 8.0, now))
	reg.CommitScore(committed("suspended", 8.0, now))

	_, err := store.ApplyPenalty(ctx, "banned", profile.PenaltyEffect{
		PenaltyID: uuid.New(),
		Ban:       true,
	})
	require.NoError(t, err)

	until := now.Add(24 * time.Hour)
	_, err = store.ApplyPenalty(ctx, "suspended", profile.PenaltyEffect{
		PenaltyID:    uuid.New(),
		SuspendUntil: &until,
	})
	require.NoError(t, err)

	candidates, err := reg.Candidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "scored", candidates[0].Info.AgentID)
}

// failingStore simulates a store backend outage on score reads.
type failingStore struct {
	profile.Store
	err error
}

func (f *failingStore) LatestScore(ctx context.Context, agentID string) (*trust.Score, error) {
	return nil, f.err
}

func TestCandidatesPropagatesStoreFailure(t *testing.T) {
	inner := profile.NewMemoryStore(crypto.Ed25519Verifier{}, crypto.SHA256Hasher{}, 100)
	storeErr := errors.New("store unavailable")
	reg, err := New(&failingStore{Store: inner, err: storeErr}, 16, time.Hour)
	require.NoError(t, err)

	reg.Register(AgentInfo{AgentID: "a"})

	// A backend failure is not the same as an unscored agent; it must
	// surface instead of silently shrinking the candidate set.
	_, err = reg.Candidates(context.Background())
	assert.ErrorIs(t, err, storeErr)
}
