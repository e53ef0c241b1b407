// Package penalty converts detected violations into score, stake, and
// status adjustments on the reputation profile store.
package penalty

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/trust"
)

// ErrPenaltyExecutionFailure indicates the atomic penalty application
// failed after the automatic retry. The violation is pending manual review.
var ErrPenaltyExecutionFailure = errors.New("penalty execution failure")

// ErrAppealExpired indicates the appeal deadline has passed.
var ErrAppealExpired = errors.New("appeal deadline passed")

// ViolationType is the closed set of recognized violation categories.
type ViolationType string

const (
	ViolationEthics         ViolationType = "ethics"
	ViolationSecurity       ViolationType = "security"
	ViolationProtocol       ViolationType = "protocol"
	ViolationResourceAbuse  ViolationType = "resource-abuse"
	ViolationMisinformation ViolationType = "misinformation"
)

// Severity is the closed set of violation severities, ordered.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// Type is the penalty escalation ladder, ordered. Repeat offenses climb it.
type Type string

const (
	TypeWarning        Type = "warning"
	TypeScoreReduction Type = "score-reduction"
	TypeStakeSlashing  Type = "stake-slashing"
	TypeSuspension     Type = "suspension"
	TypeBan            Type = "ban"
)

// ladder is the escalation order; indexes are clamped to its bounds.
var ladder = []Type{TypeWarning, TypeScoreReduction, TypeStakeSlashing, TypeSuspension, TypeBan}

// Violation is a detected infraction reported to the engine.
type Violation struct {
	ID         uuid.UUID     `json:"violation_id"`
	AgentID    string        `json:"agent_id"`
	Type       ViolationType `json:"type"`
	Severity   Severity      `json:"severity"`
	Evidence   string        `json:"evidence"`
	DetectedAt time.Time     `json:"detected_at"`
}

// Result describes an applied penalty.
type Result struct {
	PenaltyID      uuid.UUID    `json:"penalty_id"`
	ViolationID    uuid.UUID    `json:"violation_id"`
	AgentID        string       `json:"agent_id"`
	PenaltyType    Type         `json:"penalty_type"`
	ScoreDelta     float64      `json:"score_delta"`
	StakeSlash     float64      `json:"stake_slash"`
	SuspendUntil   *time.Time   `json:"suspend_until,omitempty"`
	Banned         bool         `json:"banned,omitempty"`
	AppealDeadline time.Time    `json:"appeal_deadline"`
	NewScore       *trust.Score `json:"new_score"`
}

// AppealOutcome describes a resolved appeal.
type AppealOutcome struct {
	PenaltyID uuid.UUID    `json:"penalty_id"`
	Upheld    bool         `json:"upheld"`
	NewScore  *trust.Score `json:"new_score,omitempty"`
}

// Engine applies penalties atomically against the profile store and
// publishes the resulting score to the registry.
type Engine struct {
	store        profile.Store
	registry     *registry.Registry
	appealWindow time.Duration
	now          func() time.Time
}

// New creates a penalty engine. appealWindow is the time allowed for an
// appeal after detection.
func New(store profile.Store, reg *registry.Registry, appealWindow time.Duration) *Engine {
	return &Engine{
		store:        store,
		registry:     reg,
		appealWindow: appealWindow,
		now:          time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Apply assesses the violation against the decision table and applies the
// resulting penalty. Application is atomic; a failed application is retried
// once, then surfaced as ErrPenaltyExecutionFailure.
func (e *Engine) Apply(ctx context.Context, v Violation) (*Result, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.DetectedAt.IsZero() {
		v.DetectedAt = e.now()
	}

	prior, err := e.store.ViolationCount(ctx, v.AgentID)
	if err != nil {
		return nil, fmt.Errorf("prior violation count: %w", err)
	}

	eff := e.decide(v, prior)

	score, err := e.store.ApplyPenalty(ctx, v.AgentID, eff)
	if err != nil {
		// One automatic retry; corruption is not retriable.
		if errors.Is(err, profile.ErrCorrupted) {
			return nil, fmt.Errorf("%w: %v", ErrPenaltyExecutionFailure, err)
		}
		log.Printf("penalty application for %s failed, retrying once: %v", v.AgentID, err)
		score, err = e.store.ApplyPenalty(ctx, v.AgentID, eff)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPenaltyExecutionFailure, err)
		}
	}

	e.registry.CommitScore(score)
	log.Printf("penalty applied to %s: %s (violation %s/%s, prior %d)",
		v.AgentID, eff.PenaltyType, v.Type, v.Severity, prior)

	return &Result{
		PenaltyID:      eff.PenaltyID,
		ViolationID:    v.ID,
		AgentID:        v.AgentID,
		PenaltyType:    Type(eff.PenaltyType),
		ScoreDelta:     eff.ScoreDelta,
		StakeSlash:     eff.StakeSlash,
		SuspendUntil:   eff.SuspendUntil,
		Banned:         eff.Ban,
		AppealDeadline: eff.AppealDeadline,
		NewScore:       score,
	}, nil
}

// decide is the closed decision table keyed by (violation type, severity,
// prior violation count). Every case is statically enumerable.
func (e *Engine) decide(v Violation, prior int) profile.PenaltyEffect {
	idx := severityRank(v.Severity) + typeBump(v.Type) + prior
	if idx >= len(ladder) {
		idx = len(ladder) - 1
	}
	penaltyType := ladder[idx]

	// Escalation multiplier grows with repeat offenses and never shrinks.
	multiplier := 1.0 + 0.5*float64(prior)

	eff := profile.PenaltyEffect{
		PenaltyID:      uuid.New(),
		ViolationID:    v.ID,
		ViolationType:  string(v.Type),
		Severity:       string(v.Severity),
		PenaltyType:    string(penaltyType),
		Evidence:       v.Evidence,
		DetectedAt:     v.DetectedAt,
		AppealDeadline: v.DetectedAt.Add(e.appealWindow),
	}

	switch penaltyType {
	case TypeWarning:
		eff.RestorationConditions = "none; advisory only"
	case TypeScoreReduction:
		eff.ScoreDelta = -baseScoreDelta(v.Severity) * multiplier
		eff.RestorationConditions = "sustained clean recomputations"
	case TypeStakeSlashing:
		eff.ScoreDelta = -baseScoreDelta(v.Severity) * multiplier
		eff.StakeSlash = baseStakeSlash(v.Severity) * multiplier
		eff.RestorationConditions = "successful appeal restores stake"
	case TypeSuspension:
		eff.ScoreDelta = -baseScoreDelta(v.Severity) * multiplier
		eff.StakeSlash = baseStakeSlash(v.Severity) * multiplier
		until := v.DetectedAt.Add(suspensionLength(v.Severity, prior))
		eff.SuspendUntil = &until
		eff.RestorationConditions = "suspension lapse or successful appeal"
	case TypeBan:
		eff.ScoreDelta = -baseScoreDelta(SeverityCritical) * multiplier
		eff.StakeSlash = baseStakeSlash(SeverityCritical) * multiplier
		eff.Ban = true
		eff.RestorationConditions = "successful appeal only"
	}

	return eff
}

// ResolveAppeal resolves an appeal before its deadline. A successful appeal
// (upheld=false, the violation did not stand) reverses the penalty with a
// compensating history entry; the original entry is never deleted.
func (e *Engine) ResolveAppeal(ctx context.Context, penaltyID uuid.UUID, upheld bool) (*AppealOutcome, error) {
	_, rec, err := e.store.FindPenalty(ctx, penaltyID)
	if err != nil {
		return nil, err
	}
	if e.now().After(rec.Effect.AppealDeadline) {
		return nil, fmt.Errorf("%w: deadline was %s", ErrAppealExpired,
			rec.Effect.AppealDeadline.Format(time.RFC3339))
	}

	if upheld {
		return &AppealOutcome{PenaltyID: penaltyID, Upheld: true}, nil
	}

	score, err := e.store.ReversePenalty(ctx, penaltyID)
	if err != nil {
		return nil, err
	}
	e.registry.CommitScore(score)
	log.Printf("penalty %s reversed on appeal for %s", penaltyID, score.AgentID)

	return &AppealOutcome{PenaltyID: penaltyID, Upheld: false, NewScore: score}, nil
}

// severityRank positions a severity on the escalation ladder.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeveritySevere:
		return 2
	case SeverityModerate:
		return 1
	default:
		return 0
	}
}

// typeBump escalates categories that are never treated as advisory.
func typeBump(t ViolationType) int {
	switch t {
	case ViolationEthics, ViolationSecurity:
		return 1
	default:
		return 0
	}
}

func baseScoreDelta(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 3.0
	case SeveritySevere:
		return 2.0
	case SeverityModerate:
		return 1.0
	default:
		return 0.5
	}
}

func baseStakeSlash(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 50
	case SeveritySevere:
		return 25
	case SeverityModerate:
		return 10
	default:
		return 5
	}
}

func suspensionLength(s Severity, prior int) time.Duration {
	base := 24 * time.Hour
	switch s {
	case SeverityCritical:
		base = 30 * 24 * time.Hour
	case SeveritySevere:
		base = 7 * 24 * time.Hour
	case SeverityModerate:
		base = 3 * 24 * time.Hour
	}
	return base * time.Duration(1+prior)
}
