package profile

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trustmesh/trustd/internal/crypto"
	"github.com/trustmesh/trustd/internal/trust"
)

// Store is the reputation profile store contract. The in-memory
// implementation below and the pgx-backed one in internal/database both
// satisfy it.
type Store interface {
	// Get returns the profile for an agent.
	Get(ctx context.Context, agentID string) (*ReputationProfile, error)

	// AppendHistory records a committed score, creating the profile lazily.
	// Always appends, never overwrites. Returns the delta from the previous
	// entry.
	AppendHistory(ctx context.Context, score *trust.Score, trigger string) (float64, error)

	// LatestScore returns the most recently committed score snapshot, or
	// nil when the agent has none.
	LatestScore(ctx context.Context, agentID string) (*trust.Score, error)

	// AddEndorsement verifies the endorsement signature and appends it.
	// A failed verification returns ErrInvalidEndorsement with state
	// unchanged.
	AddEndorsement(ctx context.Context, agentID string, e Endorsement) error

	// RegenerateSignature rebuilds the behavioral signature from the
	// accumulated activity summaries. Idempotent.
	RegenerateSignature(ctx context.Context, agentID string) error

	// RecordActivity folds tool and task usage counts into the summaries
	// behind the behavioral signature.
	RecordActivity(ctx context.Context, agentID string, tools, categories map[string]int) error

	// ApplyPenalty applies the penalty effect and its history entry as one
	// atomic unit: both succeed or neither does.
	ApplyPenalty(ctx context.Context, agentID string, eff PenaltyEffect) (*trust.Score, error)

	// ReversePenalty undoes a penalty's effect with a compensating history
	// entry; the original records remain.
	ReversePenalty(ctx context.Context, penaltyID uuid.UUID) (*trust.Score, error)

	// FindPenalty locates a penalty record by ID.
	FindPenalty(ctx context.Context, penaltyID uuid.UUID) (string, *AppliedPenalty, error)

	// ViolationCount returns how many penalties have been applied to the
	// agent, reversed ones included.
	ViolationCount(ctx context.Context, agentID string) (int, error)

	// SetPrivacy updates the profile's privacy mode.
	SetPrivacy(ctx context.Context, agentID string, mode PrivacyMode) error

	// Stats aggregates store-wide counts.
	Stats(ctx context.Context) (*Stats, error)
}

// deltaEpsilon tolerates float noise when checking the history invariant.
const deltaEpsilon = 1e-9

// MemoryStore keeps profiles in memory with single-writer discipline per
// agent. Reads and writes for different agents proceed in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*memEntry

	verifier     crypto.Verifier
	hasher       crypto.Hasher
	initialStake float64
	now          func() time.Time
}

type memEntry struct {
	mu      sync.Mutex
	profile *ReputationProfile

	// Raw summaries the behavioral signature is regenerated from.
	toolUsage      map[string]int
	taskCategories map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(verifier crypto.Verifier, hasher crypto.Hasher, initialStake float64) *MemoryStore {
	return &MemoryStore{
		profiles:     make(map[string]*memEntry),
		verifier:     verifier,
		hasher:       hasher,
		initialStake: initialStake,
		now:          time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) entry(agentID string) *memEntry {
	s.mu.RLock()
	e, ok := s.profiles[agentID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.profiles[agentID]; ok {
		return e
	}
	now := s.now()
	e = &memEntry{
		profile: &ReputationProfile{
			AgentID:      agentID,
			CreatedAt:    now,
			UpdatedAt:    now,
			Endorsements: make([]Endorsement, 0),
			Privacy:      PrivacyPublic,
			Stake:        s.initialStake,
		},
		toolUsage:      make(map[string]int),
		taskCategories: make(map[string]int),
	}
	s.profiles[agentID] = e
	return e
}

func (s *MemoryStore) lookup(agentID string) (*memEntry, error) {
	s.mu.RLock()
	e, ok := s.profiles[agentID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	return e, nil
}

// Get returns a copy-safe view of the agent's profile.
func (s *MemoryStore) Get(ctx context.Context, agentID string) (*ReputationProfile, error) {
	e, err := s.lookup(agentID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneProfile(e.profile), nil
}

// AppendHistory records a committed score, creating the profile if absent.
func (s *MemoryStore) AppendHistory(ctx context.Context, score *trust.Score, trigger string) (float64, error) {
	e := s.entry(score.AgentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.checkIntegrity(e.profile); err != nil {
		return 0, err
	}

	delta := score.Value
	if n := len(e.profile.History); n > 0 {
		delta = score.Value - e.profile.History[n-1].Score
	}

	snapshot := *score
	e.profile.History = append(e.profile.History, HistoryEntry{
		Timestamp: score.ComputedAt,
		Score:     score.Value,
		Tier:      score.Tier,
		Delta:     delta,
		Trigger:   trigger,
	})
	e.profile.Latest = &snapshot
	e.profile.UpdatedAt = s.now()

	return delta, nil
}

// LatestScore returns the last committed snapshot, nil if none exists.
func (s *MemoryStore) LatestScore(ctx context.Context, agentID string) (*trust.Score, error) {
	e, err := s.lookup(agentID)
	if err != nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile.Latest == nil {
		return nil, nil
	}
	snapshot := *e.profile.Latest
	return &snapshot, nil
}

// AddEndorsement verifies and appends a third-party attestation.
func (s *MemoryStore) AddEndorsement(ctx context.Context, agentID string, end Endorsement) error {
	e := s.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	pub, err := hex.DecodeString(end.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: bad public key hex", ErrInvalidEndorsement)
	}
	sig, err := hex.DecodeString(end.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad signature hex", ErrInvalidEndorsement)
	}
	if !s.verifier.Verify(EndorsementMessage(agentID, end), sig, pub) {
		return fmt.Errorf("%w: signature verification failed", ErrInvalidEndorsement)
	}

	if end.ID == uuid.Nil {
		end.ID = uuid.New()
	}
	e.profile.Endorsements = append(e.profile.Endorsements, end)
	e.profile.UpdatedAt = s.now()
	return nil
}

// RecordActivity folds usage counts into the signature summaries.
func (s *MemoryStore) RecordActivity(ctx context.Context, agentID string, tools, categories map[string]int) error {
	e := s.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	for k, v := range tools {
		e.toolUsage[k] += v
	}
	for k, v := range categories {
		e.taskCategories[k] += v
	}
	return nil
}

// RegenerateSignature rebuilds the behavioral signature from accumulated
// summaries. Calling it twice with the same summaries yields the same hash.
func (s *MemoryStore) RegenerateSignature(ctx context.Context, agentID string) error {
	e := s.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	sig := &BehavioralSignature{
		Hash:           s.hasher.Hash(SignaturePayload(e.toolUsage, e.taskCategories)),
		ToolUsage:      copyCounts(e.toolUsage),
		TaskCategories: copyCounts(e.taskCategories),
		GeneratedAt:    s.now(),
	}
	e.profile.Signature = sig
	e.profile.UpdatedAt = s.now()
	return nil
}

// ApplyPenalty applies score, stake, and status effects plus the history
// entry under one per-agent lock. Nothing is committed on failure.
func (s *MemoryStore) ApplyPenalty(ctx context.Context, agentID string, eff PenaltyEffect) (*trust.Score, error) {
	e := s.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.profile
	if err := s.checkIntegrity(p); err != nil {
		return nil, err
	}

	prev := 0.0
	var breakdown trust.MetricBreakdown
	if p.Latest != nil {
		prev = p.Latest.Value
		breakdown = p.Latest.Breakdown
	}

	value := prev + eff.ScoreDelta
	if value < 0 {
		value = 0
	}
	now := s.now()
	score := &trust.Score{
		AgentID:    agentID,
		Value:      value,
		Tier:       trust.TierForScore(value),
		ComputedAt: now,
		Breakdown:  breakdown,
	}
	score.AuditHash = s.hasher.Hash([]byte(fmt.Sprintf("%s|%.6f|%s|%d", agentID, value, score.Tier, now.UnixNano())))

	// Commit everything together: stake, status flags, penalty record,
	// history entry, latest snapshot.
	if eff.StakeSlash > 0 {
		slash := math.Min(eff.StakeSlash, p.Stake)
		p.Stake -= slash
	}
	if eff.SuspendUntil != nil {
		p.SuspendedUntil = eff.SuspendUntil
	}
	if eff.Ban {
		t := now
		p.BannedAt = &t
	}
	p.Penalties = append(p.Penalties, AppliedPenalty{Effect: eff, AppliedAt: now})
	p.History = append(p.History, HistoryEntry{
		Timestamp: now,
		Score:     score.Value,
		Tier:      score.Tier,
		Delta:     score.Value - prev,
		Trigger:   "penalty:" + eff.PenaltyType,
	})
	p.Latest = score
	p.UpdatedAt = now

	return score, nil
}

// ReversePenalty restores the penalty's score and stake effect with a
// compensating history entry. The original entries remain.
func (s *MemoryStore) ReversePenalty(ctx context.Context, penaltyID uuid.UUID) (*trust.Score, error) {
	agentID, _, err := s.FindPenalty(ctx, penaltyID)
	if err != nil {
		return nil, err
	}

	e, err := s.lookup(agentID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.profile
	if err := s.checkIntegrity(p); err != nil {
		return nil, err
	}

	var rec *AppliedPenalty
	for i := range p.Penalties {
		if p.Penalties[i].Effect.PenaltyID == penaltyID {
			rec = &p.Penalties[i]
			break
		}
	}
	if rec == nil {
		return nil, ErrPenaltyNotFound
	}
	if rec.Reversed {
		return nil, ErrPenaltyReversed
	}

	prev := 0.0
	var breakdown trust.MetricBreakdown
	if p.Latest != nil {
		prev = p.Latest.Value
		breakdown = p.Latest.Breakdown
	}

	value := prev - rec.Effect.ScoreDelta // ScoreDelta <= 0, so this restores
	if value > 10 {
		value = 10
	}
	now := s.now()
	score := &trust.Score{
		AgentID:    agentID,
		Value:      value,
		Tier:       trust.TierForScore(value),
		ComputedAt: now,
		Breakdown:  breakdown,
	}
	score.AuditHash = s.hasher.Hash([]byte(fmt.Sprintf("%s|%.6f|%s|%d", agentID, value, score.Tier, now.UnixNano())))

	p.Stake += rec.Effect.StakeSlash
	if rec.Effect.SuspendUntil != nil {
		p.SuspendedUntil = nil
	}
	if rec.Effect.Ban {
		p.BannedAt = nil
	}
	rec.Reversed = true
	t := now
	rec.ReversedAt = &t

	p.History = append(p.History, HistoryEntry{
		Timestamp: now,
		Score:     score.Value,
		Tier:      score.Tier,
		Delta:     score.Value - prev,
		Trigger:   "appeal-reversal",
	})
	p.Latest = score
	p.UpdatedAt = now

	return score, nil
}

// FindPenalty scans profiles for a penalty record.
func (s *MemoryStore) FindPenalty(ctx context.Context, penaltyID uuid.UUID) (string, *AppliedPenalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for agentID, e := range s.profiles {
		e.mu.Lock()
		for i := range e.profile.Penalties {
			if e.profile.Penalties[i].Effect.PenaltyID == penaltyID {
				rec := e.profile.Penalties[i]
				e.mu.Unlock()
				return agentID, &rec, nil
			}
		}
		e.mu.Unlock()
	}
	return "", nil, ErrPenaltyNotFound
}

// ViolationCount returns the number of penalties ever applied to the agent.
func (s *MemoryStore) ViolationCount(ctx context.Context, agentID string) (int, error) {
	e, err := s.lookup(agentID)
	if err != nil {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.profile.Penalties), nil
}

// SetPrivacy updates the profile's privacy mode.
func (s *MemoryStore) SetPrivacy(ctx context.Context, agentID string, mode PrivacyMode) error {
	e, err := s.lookup(agentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile.Privacy = mode
	e.profile.UpdatedAt = s.now()
	return nil
}

// Stats aggregates store-wide counts.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{}
	sum := 0.0
	scored := 0
	now := s.now()

	for _, e := range s.profiles {
		e.mu.Lock()
		st.Agents++
		st.ScoresComputed += len(e.profile.History)
		st.Violations += len(e.profile.Penalties)
		for _, rec := range e.profile.Penalties {
			if !rec.Reversed && now.Before(rec.Effect.AppealDeadline) {
				st.OpenAppeals++
			}
		}
		if e.profile.Latest != nil {
			sum += e.profile.Latest.Value
			scored++
		}
		e.mu.Unlock()
	}
	if scored > 0 {
		st.MeanScore = sum / float64(scored)
	}
	return st, nil
}

// checkIntegrity verifies the append-only delta invariant. A broken history
// halts automated updates for the agent; it is never repaired here.
func (s *MemoryStore) checkIntegrity(p *ReputationProfile) error {
	if p.Corrupted {
		return fmt.Errorf("%w: %s", ErrCorrupted, p.AgentID)
	}
	for i, entry := range p.History {
		want := entry.Score
		if i > 0 {
			want = entry.Score - p.History[i-1].Score
		}
		if math.Abs(entry.Delta-want) > deltaEpsilon {
			p.Corrupted = true
			return fmt.Errorf("%w: %s entry %d", ErrCorrupted, p.AgentID, i)
		}
	}
	return nil
}

// SignaturePayload builds the canonical, order-independent byte string for
// the behavioral signature hash.
func SignaturePayload(tools, categories map[string]int) []byte {
	var b strings.Builder
	b.WriteString("tools:")
	writeSorted(&b, tools)
	b.WriteString("|tasks:")
	writeSorted(&b, categories)
	return []byte(b.String())
}

func writeSorted(b *strings.Builder, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(counts[k]))
		b.WriteByte(';')
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneProfile(p *ReputationProfile) *ReputationProfile {
	out := *p
	out.History = append([]HistoryEntry(nil), p.History...)
	out.Endorsements = append([]Endorsement(nil), p.Endorsements...)
	out.Penalties = append([]AppliedPenalty(nil), p.Penalties...)
	if p.Latest != nil {
		snapshot := *p.Latest
		out.Latest = &snapshot
	}
	if p.Signature != nil {
		sig := *p.Signature
		sig.ToolUsage = copyCounts(p.Signature.ToolUsage)
		sig.TaskCategories = copyCounts(p.Signature.TaskCategories)
		out.Signature = &sig
	}
	return &out
}
