// Package profile owns the durable reputation record per agent: the
// append-only score history, behavioral signature, endorsements, stake, and
// penalty records. TrustScore snapshots are ephemeral; this store is the
// owner of long-term state.
package profile

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trustmesh/trustd/internal/trust"
)

// PrivacyMode controls external visibility of a profile. It never affects
// scoring.
type PrivacyMode string

const (
	PrivacyPublic       PrivacyMode = "public"
	PrivacyPseudonymous PrivacyMode = "pseudonymous"
	PrivacyPrivate      PrivacyMode = "private"
)

// HistoryEntry is one append-only score history record. Delta always equals
// the score minus the previous entry's score (the score itself for the
// first entry).
type HistoryEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Score     float64    `json:"score"`
	Tier      trust.Tier `json:"tier"`
	Delta     float64    `json:"delta_change"`
	Trigger   string     `json:"trigger"`
}

// BehavioralSignature summarizes an agent's recurring tool and task
// patterns, used for drift detection. Regenerated only on significant score
// change.
type BehavioralSignature struct {
	Hash           string         `json:"hash"`
	ToolUsage      map[string]int `json:"tool_usage"`
	TaskCategories map[string]int `json:"task_categories"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// Endorsement is a signed third-party attestation about an agent. PublicKey
// and Signature are hex encoded.
type Endorsement struct {
	ID         uuid.UUID `json:"id"`
	EndorserID string    `json:"endorser_id"`
	PublicKey  string    `json:"public_key"`
	Statement  string    `json:"statement"`
	Signature  string    `json:"signature"`
	IssuedAt   time.Time `json:"issued_at"`
}

// EndorsementMessage builds the canonical byte string an endorsement
// signature must cover:
//
//	"ENDORSE:" + agentID + ":" + statement + ":" + unix(issuedAt)
func EndorsementMessage(agentID string, e Endorsement) []byte {
	var b strings.Builder
	b.WriteString("ENDORSE:")
	b.WriteString(agentID)
	b.WriteByte(':')
	b.WriteString(e.Statement)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(e.IssuedAt.Unix(), 10))
	return []byte(b.String())
}

// PenaltyEffect is the full, concrete effect of one penalty, applied
// atomically with its history entry.
type PenaltyEffect struct {
	PenaltyID   uuid.UUID `json:"penalty_id"`
	ViolationID uuid.UUID `json:"violation_id"`

	ViolationType string `json:"violation_type"`
	Severity      string `json:"severity"`
	PenaltyType   string `json:"penalty_type"`

	ScoreDelta float64 `json:"score_delta"` // <= 0
	StakeSlash float64 `json:"stake_slash"` // >= 0

	SuspendUntil *time.Time `json:"suspend_until,omitempty"`
	Ban          bool       `json:"ban,omitempty"`

	Evidence              string    `json:"evidence,omitempty"`
	DetectedAt            time.Time `json:"detected_at"`
	AppealDeadline        time.Time `json:"appeal_deadline"`
	RestorationConditions string    `json:"restoration_conditions,omitempty"`
}

// AppliedPenalty is the stored record of a penalty and its reversal state.
// Reversal appends compensating entries; the original record is never
// deleted.
type AppliedPenalty struct {
	Effect     PenaltyEffect `json:"effect"`
	AppliedAt  time.Time     `json:"applied_at"`
	Reversed   bool          `json:"reversed"`
	ReversedAt *time.Time    `json:"reversed_at,omitempty"`
}

// ReputationProfile is the durable per-agent record. Created lazily on
// first score computation, never deleted; bans are a soft mark.
type ReputationProfile struct {
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	History      []HistoryEntry       `json:"history"`
	Latest       *trust.Score         `json:"latest_score,omitempty"`
	Signature    *BehavioralSignature `json:"behavioral_signature,omitempty"`
	Endorsements []Endorsement        `json:"endorsements"`
	Penalties    []AppliedPenalty     `json:"penalties,omitempty"`

	Privacy PrivacyMode `json:"privacy_mode"`
	Stake   float64     `json:"stake"`

	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	BannedAt       *time.Time `json:"banned_at,omitempty"`

	// Corrupted marks a broken append-only invariant. Automated updates
	// halt for the agent until the record is manually audited.
	Corrupted bool `json:"corrupted,omitempty"`
}

// Suspended reports whether the profile is under an active suspension at t.
func (p *ReputationProfile) Suspended(t time.Time) bool {
	return p.SuspendedUntil != nil && t.Before(*p.SuspendedUntil)
}

// Banned reports whether the profile carries the ban mark.
func (p *ReputationProfile) Banned() bool {
	return p.BannedAt != nil
}

// Redacted returns the externally visible view of the profile under its
// privacy mode. Public profiles pass through unchanged.
func (p *ReputationProfile) Redacted() *ReputationProfile {
	switch p.Privacy {
	case PrivacyPrivate:
		out := &ReputationProfile{
			AgentID: p.AgentID,
			Privacy: p.Privacy,
		}
		if p.Latest != nil {
			out.Latest = &trust.Score{AgentID: p.AgentID, Tier: p.Latest.Tier}
		}
		return out
	case PrivacyPseudonymous:
		out := *p
		out.Endorsements = make([]Endorsement, len(p.Endorsements))
		for i, e := range p.Endorsements {
			e.EndorserID = "redacted"
			e.PublicKey = ""
			out.Endorsements[i] = e
		}
		return &out
	default:
		return p
	}
}

// Stats aggregates store-wide counts for the stats endpoint.
type Stats struct {
	Agents         int     `json:"agents"`
	ScoresComputed int     `json:"scores_computed"`
	Violations     int     `json:"violations"`
	OpenAppeals    int     `json:"open_appeals"`
	MeanScore      float64 `json:"mean_score"`
}
