package trust

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MetricBreakdown holds the four category sub-scores, each in [0,10].
type MetricBreakdown struct {
	Technical    float64 `json:"technical"`
	Alignment    float64 `json:"alignment"`
	Behavior     float64 `json:"behavior"`
	Contribution float64 `json:"contribution"`
}

// Score is an immutable trust score snapshot. A recomputation produces a new
// Score; an existing one is never mutated.
type Score struct {
	AgentID    string          `json:"agent_id"`
	Value      float64         `json:"score"`
	Tier       Tier            `json:"tier"`
	ComputedAt time.Time       `json:"computed_at"`
	Breakdown  MetricBreakdown `json:"metric_breakdown"`
	AuditHash  string          `json:"audit_hash"`

	// Stale marks a last-known score served because the metrics provider
	// was unavailable and stale fallback is enabled.
	Stale bool `json:"stale,omitempty"`
}

// Weights is the category weight table for the composite score.
type Weights struct {
	Technical    float64 `json:"technical"`
	Alignment    float64 `json:"alignment"`
	Behavior     float64 `json:"behavior"`
	Contribution float64 `json:"contribution"`
}

// DefaultWeights returns the canonical category weight table.
func DefaultWeights() Weights {
	return Weights{
		Technical:    0.30,
		Alignment:    0.30,
		Behavior:     0.25,
		Contribution: 0.15,
	}
}

// weightEpsilon tolerates float accumulation in the sum check.
const weightEpsilon = 1e-6

// Validate checks that the weights sum to 1.0. A table that does not is
// rejected, never renormalized.
func (w Weights) Validate() error {
	sum := w.Technical + w.Alignment + w.Behavior + w.Contribution
	if math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("%w: weights sum to %g, want 1.0", ErrInvalidWeightConfiguration, sum)
	}
	if w.Technical < 0 || w.Alignment < 0 || w.Behavior < 0 || w.Contribution < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeightConfiguration)
	}
	return nil
}

// Composite blends the four sub-scores with the category weights and clamps
// the result to [0,10].
func Composite(b MetricBreakdown, w Weights) float64 {
	v := b.Technical*w.Technical +
		b.Alignment*w.Alignment +
		b.Behavior*w.Behavior +
		b.Contribution*w.Contribution
	return clamp10(v)
}

// DecayValue applies multiplicative per-day decay to a score value and clamps
// the result to [0,10].
func DecayValue(value, ratePerDay float64, days int) float64 {
	for i := 0; i < days; i++ {
		value *= 1.0 - ratePerDay
	}
	return clamp10(value)
}

// auditPayload builds the canonical byte string hashed into AuditHash. The
// hash covers everything except the hash itself.
func auditPayload(s *Score) []byte {
	var b strings.Builder
	b.WriteString(s.AgentID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(s.Value, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(s.Tier.String())
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(s.Breakdown.Technical, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(s.Breakdown.Alignment, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(s.Breakdown.Behavior, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(s.Breakdown.Contribution, 'f', -1, 64))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(s.ComputedAt.UnixNano(), 10))
	return []byte(b.String())
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
