package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustmesh/trustd/internal/crypto"
	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/trust"
)

type staticProvider struct {
	activity trust.ActivityData
}

func (p *staticProvider) GetActivityData(ctx context.Context, agentID string, period trust.Period) (*trust.ActivityData, error) {
	a := p.activity
	return &a, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *profile.MemoryStore, *registry.Registry) {
	t.Helper()

	store := profile.NewMemoryStore(crypto.Ed25519Verifier{}, crypto.SHA256Hasher{}, 100)
	provider := &staticProvider{activity: trust.ActivityData{
		TasksCompleted:       8,
		TasksFailed:          2,
		UserVerificationRate: 0.7,
		AccuracyScore:        0.8,
		InstructionAdherence: 0.9,
		PeerFeedback:         0.6,
	}}

	engine, err := trust.NewEngine(provider, store, crypto.SHA256Hasher{}, trust.EngineConfig{
		Weights:               trust.DefaultWeights(),
		SignificanceThreshold: 100,
		DecayRate:             0.01,
	})
	require.NoError(t, err)

	reg, err := registry.New(store, 16, time.Hour)
	require.NoError(t, err)

	sched := New(engine, reg, store, 2, time.Minute, 24*time.Hour, time.Hour, 7*24*time.Hour)
	return sched, store, reg
}

func TestRecomputeBatchScoresRoster(t *testing.T) {
	sched, store, reg := newTestScheduler(t)
	ctx := context.Background()

	reg.Register(registry.AgentInfo{AgentID: "a"})
	reg.Register(registry.AgentInfo{AgentID: "b"})

	sched.runRecomputeBatch(ctx)

	for _, id := range []string{"a", "b"} {
		p, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.Len(t, p.History, 1)
		assert.Equal(t, "recompute", p.History[0].Trigger)

		score, err := reg.LatestScore(ctx, id)
		require.NoError(t, err)
		assert.Greater(t, score.Value, 0.0)
	}
}

func TestDecayBatchSkipsActiveAgents(t *testing.T) {
	sched, store, reg := newTestScheduler(t)
	ctx := context.Background()

	reg.Register(registry.AgentInfo{AgentID: "a"})
	sched.runRecomputeBatch(ctx)

	// Fresh score, nothing to decay.
	sched.runDecayBatch(ctx)

	p, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, p.History, 1)
}

func TestDecayBatchDecaysIdleAgents(t *testing.T) {
	sched, store, reg := newTestScheduler(t)
	ctx := context.Background()

	reg.Register(registry.AgentInfo{AgentID: "a"})
	sched.runRecomputeBatch(ctx)

	before, err := store.LatestScore(ctx, "a")
	require.NoError(t, err)

	// Ten idle days, past the seven-day threshold.
	sched.SetClock(func() time.Time { return before.ComputedAt.Add(10 * 24 * time.Hour) })
	sched.runDecayBatch(ctx)

	p, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Len(t, p.History, 2)
	assert.Equal(t, "decay", p.History[1].Trigger)
	assert.InDelta(t, before.Value*0.99*0.99*0.99*0.99*0.99*0.99*0.99*0.99*0.99*0.99,
		p.History[1].Score, 1e-9)
}
