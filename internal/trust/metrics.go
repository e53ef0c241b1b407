package trust

import (
	"context"
	"math"
	"time"
)

// Period is the activity window a score is computed over.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ActivityData is the raw per-agent activity supplied by the metrics
// provider for a period. Rate-style fields are in [0,1]; counters are raw.
type ActivityData struct {
	TasksCompleted   int     `json:"tasks_completed"`
	TasksFailed      int     `json:"tasks_failed"`
	LatencyDeviation float64 `json:"latency_deviation"` // 0 = on target, 1 = worst observed
	TaskComplexity   float64 `json:"task_complexity"`   // mean normalized complexity

	UserVerificationRate float64 `json:"user_verification_rate"`
	AccuracyScore        float64 `json:"accuracy_score"`
	SelfCorrections      int     `json:"self_corrections"`

	InstructionAdherence float64 `json:"instruction_adherence"`
	EthicsViolations     int     `json:"ethics_violations"`
	PeerFeedback         float64 `json:"peer_feedback"`

	CreativeOutputs   int     `json:"creative_outputs"`
	ToolRegistrations int     `json:"tool_registrations"`
	MentorshipHours   float64 `json:"mentorship_hours"`

	// ToolUsage and TaskCategories feed the behavioral signature.
	ToolUsage      map[string]int `json:"tool_usage,omitempty"`
	TaskCategories map[string]int `json:"task_categories,omitempty"`
}

// MetricsProvider supplies raw activity data. Implementations live outside
// the trust core.
type MetricsProvider interface {
	GetActivityData(ctx context.Context, agentID string, period Period) (*ActivityData, error)
}

// Sub-score blend weights. Defaults per category; the composite category
// weights are configuration, these inner blends are the fixed defaults.
const (
	technicalSuccessWeight    = 0.4
	technicalLatencyWeight    = 0.3
	technicalComplexityWeight = 0.3

	alignmentVerificationWeight = 0.4
	alignmentAccuracyWeight     = 0.3
	alignmentBonusWeight        = 0.3
	selfCorrectionCredit        = 0.5 // bonus points per self-correction event
	selfCorrectionBonusCap      = 2.0

	behaviorAdherenceWeight = 0.4
	behaviorEthicsWeight    = 0.4
	behaviorPeerWeight      = 0.2
	ethicsViolationPenalty  = 0.25 // fraction of the ethics term lost per violation

	contributionCreativeWeight  = 0.3
	contributionToolingWeight   = 0.3
	contributionMentoringWeight = 0.4

	// Diminishing-returns half-saturation points per contribution channel.
	creativeSaturation  = 20.0
	toolingSaturation   = 5.0
	mentoringSaturation = 40.0
)

// ComputeBreakdown derives the four category sub-scores from raw activity.
// Each sub-score is normalized to [0,10]. Pure: identical input yields an
// identical breakdown.
func ComputeBreakdown(a *ActivityData) MetricBreakdown {
	return MetricBreakdown{
		Technical:    technicalScore(a),
		Alignment:    alignmentScore(a),
		Behavior:     behaviorScore(a),
		Contribution: contributionScore(a),
	}
}

// technicalScore blends success rate, inverse latency deviation, and the
// task-complexity factor.
func technicalScore(a *ActivityData) float64 {
	v := technicalSuccessWeight*successRate(a) +
		technicalLatencyWeight*(1-clamp01(a.LatencyDeviation)) +
		technicalComplexityWeight*clamp01(a.TaskComplexity)
	return clamp10(10 * v)
}

// alignmentScore blends user verification and accuracy, plus a bounded bonus
// for self-correction events.
func alignmentScore(a *ActivityData) float64 {
	base := 10 * (alignmentVerificationWeight*clamp01(a.UserVerificationRate) +
		alignmentAccuracyWeight*clamp01(a.AccuracyScore))
	bonus := math.Min(selfCorrectionCredit*float64(a.SelfCorrections), selfCorrectionBonusCap)
	return clamp10(base + alignmentBonusWeight*bonus)
}

// behaviorScore blends instruction adherence, the ethics-violation penalty
// term, and peer feedback.
func behaviorScore(a *ActivityData) float64 {
	ethicsTerm := 1 - math.Min(1, ethicsViolationPenalty*float64(a.EthicsViolations))
	v := behaviorAdherenceWeight*clamp01(a.InstructionAdherence) +
		behaviorEthicsWeight*ethicsTerm +
		behaviorPeerWeight*clamp01(a.PeerFeedback)
	return clamp10(10 * v)
}

// contributionScore blends creative output, tool registrations, and
// mentorship time, each with a diminishing-returns cap.
func contributionScore(a *ActivityData) float64 {
	v := contributionCreativeWeight*saturate(float64(a.CreativeOutputs), creativeSaturation) +
		contributionToolingWeight*saturate(float64(a.ToolRegistrations), toolingSaturation) +
		contributionMentoringWeight*saturate(a.MentorshipHours, mentoringSaturation)
	return clamp10(10 * v)
}

// successRate is completed/(completed+failed); 0 with no recorded tasks.
func successRate(a *ActivityData) float64 {
	total := a.TasksCompleted + a.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(a.TasksCompleted) / float64(total)
}

// saturate maps a non-negative volume to [0,1) with diminishing returns;
// half is the half-saturation point.
func saturate(x, half float64) float64 {
	if x <= 0 {
		return 0
	}
	return x / (x + half)
}
