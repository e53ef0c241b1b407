package trust

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trustmesh/trustd/internal/crypto"
)

// ProfileSink is the slice of the reputation profile store the engine
// needs for its side effects. The store package satisfies it.
type ProfileSink interface {
	// AppendHistory records a committed score and returns the delta from
	// the previous entry (the score itself for a first entry).
	AppendHistory(ctx context.Context, score *Score, trigger string) (float64, error)

	// RegenerateSignature rebuilds the agent's behavioral signature from
	// accumulated activity summaries. Idempotent.
	RegenerateSignature(ctx context.Context, agentID string) error

	// LatestScore returns the most recently committed score for the agent.
	LatestScore(ctx context.Context, agentID string) (*Score, error)

	// RecordActivity folds a period's tool/task usage into the summaries
	// the behavioral signature is built from.
	RecordActivity(ctx context.Context, agentID string, tools, categories map[string]int) error
}

// EngineConfig tunes the scoring engine.
type EngineConfig struct {
	Weights               Weights
	MetricsTimeout        time.Duration
	MetricsRetries        int
	AllowStaleFallback    bool
	SignificanceThreshold float64
	DecayRate             float64 // per-day multiplicative decay for idle agents
}

// Engine computes composite trust scores from raw activity data.
type Engine struct {
	metrics MetricsProvider
	sink    ProfileSink
	hasher  crypto.Hasher
	cfg     EngineConfig

	// group collapses concurrent recomputations of the same agent+period.
	group singleflight.Group

	now func() time.Time
}

// NewEngine validates the weight configuration and builds an engine.
func NewEngine(metrics MetricsProvider, sink ProfileSink, hasher crypto.Hasher, cfg EngineConfig) (*Engine, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.MetricsTimeout <= 0 {
		cfg.MetricsTimeout = 5 * time.Second
	}
	if cfg.MetricsRetries < 1 {
		cfg.MetricsRetries = 1
	}
	return &Engine{
		metrics: metrics,
		sink:    sink,
		hasher:  hasher,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// ComputeScore retrieves activity data for the agent over the period,
// derives the composite score and tier, and commits a history entry with
// the supplied trigger ("recompute" when empty). Pure given identical
// activity data and weights: score, tier, and breakdown are identical
// across calls; only ComputedAt and the derived AuditHash differ.
func (e *Engine) ComputeScore(ctx context.Context, agentID string, period Period, trigger string) (*Score, error) {
	if trigger == "" {
		trigger = "recompute"
	}

	key := agentID + "|" + strconv.FormatInt(period.Start.UnixNano(), 10) +
		"|" + strconv.FormatInt(period.End.UnixNano(), 10)

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.compute(ctx, agentID, period, trigger)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Score), nil
}

func (e *Engine) compute(ctx context.Context, agentID string, period Period, trigger string) (*Score, error) {
	activity, err := e.fetchActivity(ctx, agentID, period)
	if err != nil {
		if e.cfg.AllowStaleFallback && errors.Is(err, ErrMetricsUnavailable) {
			return e.staleFallback(ctx, agentID, err)
		}
		return nil, err
	}

	breakdown := ComputeBreakdown(activity)
	score := &Score{
		AgentID:    agentID,
		Value:      Composite(breakdown, e.cfg.Weights),
		Breakdown:  breakdown,
		ComputedAt: e.now(),
	}
	score.Tier = TierForScore(score.Value)
	score.AuditHash = e.hasher.Hash(auditPayload(score))

	if len(activity.ToolUsage) > 0 || len(activity.TaskCategories) > 0 {
		if err := e.sink.RecordActivity(ctx, agentID, activity.ToolUsage, activity.TaskCategories); err != nil {
			return nil, fmt.Errorf("record activity: %w", err)
		}
	}

	delta, err := e.sink.AppendHistory(ctx, score, trigger)
	if err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	if abs(delta) >= e.cfg.SignificanceThreshold {
		if err := e.sink.RegenerateSignature(ctx, agentID); err != nil {
			return nil, fmt.Errorf("regenerate signature: %w", err)
		}
	}

	log.Printf("scored %s: %.2f (%s), delta %+.2f, trigger %s",
		agentID, score.Value, score.Tier, delta, trigger)

	return score, nil
}

// fetchActivity calls the metrics provider under the configured timeout,
// retrying with doubling backoff on transient failure.
func (e *Engine) fetchActivity(ctx context.Context, agentID string, period Period) (*ActivityData, error) {
	backoff := 100 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < e.cfg.MetricsRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.MetricsTimeout)
		activity, err := e.metrics.GetActivityData(callCtx, agentID, period)
		cancel()

		if err == nil {
			return activity, nil
		}
		lastErr = err

		// Caller cancellation is not retriable.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrMetricsUnavailable, lastErr)
}

// staleFallback serves the last committed score annotated as stale. No
// history entry is appended for a fallback read.
func (e *Engine) staleFallback(ctx context.Context, agentID string, cause error) (*Score, error) {
	last, err := e.sink.LatestScore(ctx, agentID)
	if err != nil || last == nil {
		return nil, cause
	}
	stale := *last
	stale.Stale = true
	log.Printf("metrics unavailable for %s, serving stale score %.2f from %s",
		agentID, stale.Value, stale.ComputedAt.Format(time.RFC3339))
	return &stale, nil
}

// ApplyDecay reduces an idle agent's latest score by the configured per-day
// rate over the given number of days and commits the result with trigger
// "decay". Returns the new snapshot, or nil when there is nothing to decay.
func (e *Engine) ApplyDecay(ctx context.Context, agentID string, days int) (*Score, error) {
	if days <= 0 || e.cfg.DecayRate <= 0 {
		return nil, nil
	}

	last, err := e.sink.LatestScore(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrUnknownAgent
	}

	decayed := DecayValue(last.Value, e.cfg.DecayRate, days)
	if decayed == last.Value {
		return nil, nil
	}

	score := &Score{
		AgentID:    agentID,
		Value:      decayed,
		Breakdown:  last.Breakdown,
		ComputedAt: e.now(),
	}
	score.Tier = TierForScore(score.Value)
	score.AuditHash = e.hasher.Hash(auditPayload(score))

	if _, err := e.sink.AppendHistory(ctx, score, "decay"); err != nil {
		return nil, fmt.Errorf("append decay entry: %w", err)
	}

	log.Printf("decayed %s: %.2f -> %.2f over %d idle days", agentID, last.Value, decayed, days)
	return score, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
