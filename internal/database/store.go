package database

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trustmesh/trustd/internal/crypto"
	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/trust"
)

// ProfileStore is the pgx-backed implementation of profile.Store. Per-agent
// writes are serialized with transaction-scoped advisory locks, so updates
// to one agent never interleave while different agents proceed in parallel.
type ProfileStore struct {
	db           *DB
	verifier     crypto.Verifier
	hasher       crypto.Hasher
	initialStake float64
}

// NewProfileStore creates a profile store over an open connection pool.
func NewProfileStore(db *DB, verifier crypto.Verifier, hasher crypto.Hasher, initialStake float64) *ProfileStore {
	return &ProfileStore{
		db:           db,
		verifier:     verifier,
		hasher:       hasher,
		initialStake: initialStake,
	}
}

// lockAgent takes the per-agent advisory lock for the transaction.
func lockAgent(ctx context.Context, tx pgx.Tx, agentID string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", agentID); err != nil {
		return fmt.Errorf("lock agent: %w", err)
	}
	return nil
}

// ensureProfile creates the profile row if absent and reports corruption.
func (s *ProfileStore) ensureProfile(ctx context.Context, tx pgx.Tx, agentID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO profiles (agent_id, stake) VALUES ($1, $2)
		ON CONFLICT (agent_id) DO NOTHING
	`, agentID, s.initialStake)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}

	var corrupted bool
	if err := tx.QueryRow(ctx, "SELECT corrupted FROM profiles WHERE agent_id = $1", agentID).Scan(&corrupted); err != nil {
		return fmt.Errorf("check corruption: %w", err)
	}
	if corrupted {
		return fmt.Errorf("%w: %s", profile.ErrCorrupted, agentID)
	}
	return nil
}

// lastHistory returns the most recent history row's score, delta, and raw
// breakdown payload.
func lastHistory(ctx context.Context, tx pgx.Tx, agentID string) (score, delta float64, breakdown []byte, found bool, err error) {
	err = tx.QueryRow(ctx, `
		SELECT score, delta, breakdown FROM score_history
		WHERE agent_id = $1 ORDER BY id DESC LIMIT 1
	`, agentID).Scan(&score, &delta, &breakdown)
	if err == pgx.ErrNoRows {
		return 0, 0, nil, false, nil
	}
	if err != nil {
		return 0, 0, nil, false, fmt.Errorf("last history: %w", err)
	}
	return score, delta, breakdown, true, nil
}

// verifyTail checks the delta invariant on the newest two history rows. A
// violation marks the profile corrupted and halts automated updates.
func (s *ProfileStore) verifyTail(ctx context.Context, tx pgx.Tx, agentID string) error {
	rows, err := tx.Query(ctx, `
		SELECT score, delta FROM score_history
		WHERE agent_id = $1 ORDER BY id DESC LIMIT 2
	`, agentID)
	if err != nil {
		return fmt.Errorf("verify history: %w", err)
	}
	defer rows.Close()

	var scores, deltas []float64
	for rows.Next() {
		var sc, d float64
		if err := rows.Scan(&sc, &d); err != nil {
			return fmt.Errorf("verify history row: %w", err)
		}
		scores = append(scores, sc)
		deltas = append(deltas, d)
	}

	if len(scores) == 0 {
		return nil
	}
	want := scores[0]
	if len(scores) == 2 {
		want = scores[0] - scores[1]
	}
	diff := deltas[0] - want
	if diff < -1e-9 || diff > 1e-9 {
		if _, err := tx.Exec(ctx, "UPDATE profiles SET corrupted = TRUE WHERE agent_id = $1", agentID); err != nil {
			return fmt.Errorf("mark corrupted: %w", err)
		}
		return fmt.Errorf("%w: %s", profile.ErrCorrupted, agentID)
	}
	return nil
}

// AppendHistory records a committed score, creating the profile lazily.
func (s *ProfileStore) AppendHistory(ctx context.Context, score *trust.Score, trigger string) (float64, error) {
	var delta float64

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockAgent(ctx, tx, score.AgentID); err != nil {
			return err
		}
		if err := s.ensureProfile(ctx, tx, score.AgentID); err != nil {
			return err
		}
		if err := s.verifyTail(ctx, tx, score.AgentID); err != nil {
			return err
		}

		prev, _, _, found, err := lastHistory(ctx, tx, score.AgentID)
		if err != nil {
			return err
		}
		delta = score.Value
		if found {
			delta = score.Value - prev
		}

		breakdown, err := json.Marshal(score.Breakdown)
		if err != nil {
			return fmt.Errorf("marshal breakdown: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO score_history (agent_id, recorded_at, score, tier, delta, trigger, breakdown, audit_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, score.AgentID, score.ComputedAt, score.Value, score.Tier.String(), delta, trigger, breakdown, score.AuditHash); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		if _, err := tx.Exec(ctx, "UPDATE profiles SET updated_at = NOW() WHERE agent_id = $1", score.AgentID); err != nil {
			return fmt.Errorf("touch profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return delta, nil
}

// LatestScore reconstructs the last committed snapshot, nil if none exists.
func (s *ProfileStore) LatestScore(ctx context.Context, agentID string) (*trust.Score, error) {
	var (
		recordedAt time.Time
		value      float64
		tierLabel  string
		breakdown  []byte
		auditHash  string
	)
	err := s.db.QueryRow(ctx, `
		SELECT recorded_at, score, tier, breakdown, audit_hash
		FROM score_history WHERE agent_id = $1 ORDER BY id DESC LIMIT 1
	`, agentID).Scan(&recordedAt, &value, &tierLabel, &breakdown, &auditHash)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest score: %w", err)
	}

	score := &trust.Score{
		AgentID:    agentID,
		Value:      value,
		Tier:       parseTier(tierLabel),
		ComputedAt: recordedAt,
		AuditHash:  auditHash,
	}
	if err := json.Unmarshal(breakdown, &score.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	return score, nil
}

// Get loads the full profile with history, endorsements, and penalties.
func (s *ProfileStore) Get(ctx context.Context, agentID string) (*profile.ReputationProfile, error) {
	p := &profile.ReputationProfile{AgentID: agentID, Privacy: profile.PrivacyPublic}

	var (
		privacy        string
		toolUsage      []byte
		taskCategories []byte
		sigHash        *string
		sigGeneratedAt *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT created_at, updated_at, privacy_mode, stake, suspended_until, banned_at,
		       corrupted, tool_usage, task_categories, signature_hash, signature_generated_at
		FROM profiles WHERE agent_id = $1
	`, agentID).Scan(
		&p.CreatedAt, &p.UpdatedAt, &privacy, &p.Stake, &p.SuspendedUntil, &p.BannedAt,
		&p.Corrupted, &toolUsage, &taskCategories, &sigHash, &sigGeneratedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", profile.ErrNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.Privacy = profile.PrivacyMode(privacy)

	if sigHash != nil {
		sig := &profile.BehavioralSignature{Hash: *sigHash}
		if sigGeneratedAt != nil {
			sig.GeneratedAt = *sigGeneratedAt
		}
		if err := json.Unmarshal(toolUsage, &sig.ToolUsage); err != nil {
			return nil, fmt.Errorf("unmarshal tool usage: %w", err)
		}
		if err := json.Unmarshal(taskCategories, &sig.TaskCategories); err != nil {
			return nil, fmt.Errorf("unmarshal task categories: %w", err)
		}
		p.Signature = sig
	}

	if p.History, err = s.history(ctx, agentID); err != nil {
		return nil, err
	}
	if p.Endorsements, err = s.endorsements(ctx, agentID); err != nil {
		return nil, err
	}
	if p.Penalties, err = s.penalties(ctx, agentID); err != nil {
		return nil, err
	}
	if p.Latest, err = s.LatestScore(ctx, agentID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProfileStore) history(ctx context.Context, agentID string) ([]profile.HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT recorded_at, score, tier, delta, trigger
		FROM score_history WHERE agent_id = $1 ORDER BY id ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]profile.HistoryEntry, 0)
	for rows.Next() {
		var e profile.HistoryEntry
		var tierLabel string
		if err := rows.Scan(&e.Timestamp, &e.Score, &tierLabel, &e.Delta, &e.Trigger); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Tier = parseTier(tierLabel)
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *ProfileStore) endorsements(ctx context.Context, agentID string) ([]profile.Endorsement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, endorser_id, public_key, statement, signature, issued_at
		FROM endorsements WHERE agent_id = $1 ORDER BY issued_at ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query endorsements: %w", err)
	}
	defer rows.Close()

	out := make([]profile.Endorsement, 0)
	for rows.Next() {
		var e profile.Endorsement
		if err := rows.Scan(&e.ID, &e.EndorserID, &e.PublicKey, &e.Statement, &e.Signature, &e.IssuedAt); err != nil {
			return nil, fmt.Errorf("scan endorsement row: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *ProfileStore) penalties(ctx context.Context, agentID string) ([]profile.AppliedPenalty, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, violation_id, violation_type, severity, penalty_type, score_delta,
		       stake_slash, suspend_until, ban, evidence, detected_at, appeal_deadline,
		       restoration, applied_at, reversed, reversed_at
		FROM penalties WHERE agent_id = $1 ORDER BY applied_at ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query penalties: %w", err)
	}
	defer rows.Close()

	out := make([]profile.AppliedPenalty, 0)
	for rows.Next() {
		var rec profile.AppliedPenalty
		if err := rows.Scan(
			&rec.Effect.PenaltyID, &rec.Effect.ViolationID, &rec.Effect.ViolationType,
			&rec.Effect.Severity, &rec.Effect.PenaltyType, &rec.Effect.ScoreDelta,
			&rec.Effect.StakeSlash, &rec.Effect.SuspendUntil, &rec.Effect.Ban,
			&rec.Effect.Evidence, &rec.Effect.DetectedAt, &rec.Effect.AppealDeadline,
			&rec.Effect.RestorationConditions, &rec.AppliedAt, &rec.Reversed, &rec.ReversedAt,
		); err != nil {
			return nil, fmt.Errorf("scan penalty row: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// AddEndorsement verifies the signature and appends the endorsement.
func (s *ProfileStore) AddEndorsement(ctx context.Context, agentID string, e profile.Endorsement) error {
	pub, err := hex.DecodeString(e.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: bad public key hex", profile.ErrInvalidEndorsement)
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad signature hex", profile.ErrInvalidEndorsement)
	}
	if !s.verifier.Verify(profile.EndorsementMessage(agentID, e), sig, pub) {
		return fmt.Errorf("%w: signature verification failed", profile.ErrInvalidEndorsement)
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockAgent(ctx, tx, agentID); err != nil {
			return err
		}
		if err := s.ensureProfile(ctx, tx, agentID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO endorsements (id, agent_id, endorser_id, public_key, statement, signature, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, agentID, e.EndorserID, e.PublicKey, e.Statement, e.Signature, e.IssuedAt); err != nil {
			return fmt.Errorf("insert endorsement: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE profiles SET updated_at = NOW() WHERE agent_id = $1", agentID); err != nil {
			return fmt.Errorf("touch profile: %w", err)
		}
		return nil
	})
}

// RecordActivity folds usage counts into the signature summaries.
func (s *ProfileStore) RecordActivity(ctx context.Context, agentID string, tools, categories map[string]int) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockAgent(ctx, tx, agentID); err != nil {
			return err
		}
		if err := s.ensureProfile(ctx, tx, agentID); err != nil {
			return err
		}

		var rawTools, rawCategories []byte
		if err := tx.QueryRow(ctx,
			"SELECT tool_usage, task_categories FROM profiles WHERE agent_id = $1", agentID,
		).Scan(&rawTools, &rawCategories); err != nil {
			return fmt.Errorf("load summaries: %w", err)
		}

		current := map[string]int{}
		if err := json.Unmarshal(rawTools, &current); err != nil {
			return fmt.Errorf("unmarshal tool usage: %w", err)
		}
		for k, v := range tools {
			current[k] += v
		}
		mergedTools, _ := json.Marshal(current)

		current = map[string]int{}
		if err := json.Unmarshal(rawCategories, &current); err != nil {
			return fmt.Errorf("unmarshal task categories: %w", err)
		}
		for k, v := range categories {
			current[k] += v
		}
		mergedCategories, _ := json.Marshal(current)

		if _, err := tx.Exec(ctx, `
			UPDATE profiles SET tool_usage = $1, task_categories = $2, updated_at = NOW()
			WHERE agent_id = $3
		`, mergedTools, mergedCategories, agentID); err != nil {
			return fmt.Errorf("store summaries: %w", err)
		}
		return nil
	})
}

// RegenerateSignature rebuilds the behavioral signature hash from the
// stored summaries.
func (s *ProfileStore) RegenerateSignature(ctx context.Context, agentID string) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockAgent(ctx, tx, agentID); err != nil {
			return err
		}
		if err := s.ensureProfile(ctx, tx, agentID); err != nil {
			return err
		}

		var rawTools, rawCategories []byte
		if err := tx.QueryRow(ctx,
			"SELECT tool_usage, task_categories FROM profiles WHERE agent_id = $1", agentID,
		).Scan(&rawTools, &rawCategories); err != nil {
			return fmt.Errorf("load summaries: %w", err)
		}

		var tools, categories map[string]int
		if err := json.Unmarshal(rawTools, &tools); err != nil {
			return fmt.Errorf("unmarshal tool usage: %w", err)
		}
		if err := json.Unmarshal(rawCategories, &categories); err != nil {
			return fmt.Errorf("unmarshal task categories: %w", err)
		}

		hash := s.hasher.Hash(profile.SignaturePayload(tools, categories))
		if _, err := tx.Exec(ctx, `
			UPDATE profiles SET signature_hash = $1, signature_generated_at = NOW(), updated_at = NOW()
			WHERE agent_id = $2
		`, hash, agentID); err != nil {
			return fmt.Errorf("store signature: %w", err)
		}
		return nil
	})
}

// ApplyPenalty applies the penalty effect and its history entry in one
// transaction. Either both commit or neither does.
func (s *ProfileStore) ApplyPenalty(ctx context.Context, agentID string, eff profile.PenaltyEffect) (*trust.Score, error) {
	var result *trust.Score

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockAgent(ctx, tx, agentID); err != nil {
			return err
		}
		if err := s.ensureProfile(ctx, tx, agentID); err != nil {
			return err
		}
		if err := s.verifyTail(ctx, tx, agentID); err != nil {
			return err
		}

		prev, _, prevBreakdown, _, err := lastHistory(ctx, tx, agentID)
		if err != nil {
			return err
		}

		value := prev + eff.ScoreDelta
		if value < 0 {
			value = 0
		}
		now := time.Now()
		score := &trust.Score{
			AgentID:    agentID,
			Value:      value,
			Tier:       trust.TierForScore(value),
			ComputedAt: now,
		}
		// The penalty adjusts the composite only; the sub-score breakdown
		// carries forward from the last snapshot.
		if len(prevBreakdown) > 0 {
			if err := json.Unmarshal(prevBreakdown, &score.Breakdown); err != nil {
				return fmt.Errorf("unmarshal breakdown: %w", err)
			}
		}
		score.AuditHash = s.hasher.Hash([]byte(fmt.Sprintf("%s|%.6f|%s|%d", agentID, value, score.Tier, now.UnixNano())))

		if _, err := tx.Exec(ctx, `
			UPDATE profiles SET
				stake = GREATEST(stake - $1, 0),
				suspended_until = COALESCE($2, suspended_until),
				banned_at = CASE WHEN $3 THEN NOW() ELSE banned_at END,
				updated_at = NOW()
			WHERE agent_id = $4
		`, eff.StakeSlash, eff.SuspendUntil, eff.Ban, agentID); err != nil {
			return fmt.Errorf("apply penalty effect: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO penalties (
				id, agent_id, violation_id, violation_type, severity, penalty_type,
				score_delta, stake_slash, suspend_until, ban, evidence, detected_at,
				appeal_deadline, restoration, applied_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, eff.PenaltyID, agentID, eff.ViolationID, eff.ViolationType, eff.Severity,
			eff.PenaltyType, eff.ScoreDelta, eff.StakeSlash, eff.SuspendUntil, eff.Ban,
			eff.Evidence, eff.DetectedAt, eff.AppealDeadline, eff.RestorationConditions, now,
		); err != nil {
			return fmt.Errorf("insert penalty: %w", err)
		}

		breakdown, _ := json.Marshal(score.Breakdown)
		if _, err := tx.Exec(ctx, `
			INSERT INTO score_history (agent_id, recorded_at, score, tier, delta, trigger, breakdown, audit_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, agentID, now, score.Value, score.Tier.String(), score.Value-prev,
			"penalty:"+eff.PenaltyType, breakdown, score.AuditHash); err != nil {
			return fmt.Errorf("insert penalty history: %w", err)
		}

		result = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReversePenalty undoes a penalty's effect with a compensating entry.
func (s *ProfileStore) ReversePenalty(ctx context.Context, penaltyID uuid.UUID) (*trust.Score, error) {
	var result *trust.Score

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var (
			agentID      string
			scoreDelta   float64
			stakeSlash   float64
			suspendUntil *time.Time
			ban          bool
			reversed     bool
		)
		err := tx.QueryRow(ctx, `
			SELECT agent_id, score_delta, stake_slash, suspend_until, ban, reversed
			FROM penalties WHERE id = $1 FOR UPDATE
		`, penaltyID).Scan(&agentID, &scoreDelta, &stakeSlash, &suspendUntil, &ban, &reversed)
		if err == pgx.ErrNoRows {
			return profile.ErrPenaltyNotFound
		}
		if err != nil {
			return fmt.Errorf("load penalty: %w", err)
		}
		if reversed {
			return profile.ErrPenaltyReversed
		}

		if err := lockAgent(ctx, tx, agentID); err != nil {
			return err
		}
		if err := s.verifyTail(ctx, tx, agentID); err != nil {
			return err
		}

		prev, _, prevBreakdown, _, err := lastHistory(ctx, tx, agentID)
		if err != nil {
			return err
		}

		value := prev - scoreDelta // scoreDelta <= 0, so this restores
		if value > 10 {
			value = 10
		}
		now := time.Now()
		score := &trust.Score{
			AgentID:    agentID,
			Value:      value,
			Tier:       trust.TierForScore(value),
			ComputedAt: now,
		}
		if len(prevBreakdown) > 0 {
			if err := json.Unmarshal(prevBreakdown, &score.Breakdown); err != nil {
				return fmt.Errorf("unmarshal breakdown: %w", err)
			}
		}
		score.AuditHash = s.hasher.Hash([]byte(fmt.Sprintf("%s|%.6f|%s|%d", agentID, value, score.Tier, now.UnixNano())))

		if _, err := tx.Exec(ctx, `
			UPDATE profiles SET
				stake = stake + $1,
				suspended_until = CASE WHEN $2 THEN NULL ELSE suspended_until END,
				banned_at = CASE WHEN $3 THEN NULL ELSE banned_at END,
				updated_at = NOW()
			WHERE agent_id = $4
		`, stakeSlash, suspendUntil != nil, ban, agentID); err != nil {
			return fmt.Errorf("reverse penalty effect: %w", err)
		}

		if _, err := tx.Exec(ctx,
			"UPDATE penalties SET reversed = TRUE, reversed_at = NOW() WHERE id = $1", penaltyID,
		); err != nil {
			return fmt.Errorf("mark penalty reversed: %w", err)
		}

		breakdown, _ := json.Marshal(score.Breakdown)
		if _, err := tx.Exec(ctx, `
			INSERT INTO score_history (agent_id, recorded_at, score, tier, delta, trigger, breakdown, audit_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, agentID, now, score.Value, score.Tier.String(), score.Value-prev,
			"appeal-reversal", breakdown, score.AuditHash); err != nil {
			return fmt.Errorf("insert reversal history: %w", err)
		}

		result = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindPenalty locates a penalty record by ID.
func (s *ProfileStore) FindPenalty(ctx context.Context, penaltyID uuid.UUID) (string, *profile.AppliedPenalty, error) {
	var agentID string
	var rec profile.AppliedPenalty
	err := s.db.QueryRow(ctx, `
		SELECT agent_id, id, violation_id, violation_type, severity, penalty_type,
		       score_delta, stake_slash, suspend_until, ban, evidence, detected_at,
		       appeal_deadline, restoration, applied_at, reversed, reversed_at
		FROM penalties WHERE id = $1
	`, penaltyID).Scan(
		&agentID, &rec.Effect.PenaltyID, &rec.Effect.ViolationID, &rec.Effect.ViolationType,
		&rec.Effect.Severity, &rec.Effect.PenaltyType, &rec.Effect.ScoreDelta,
		&rec.Effect.StakeSlash, &rec.Effect.SuspendUntil, &rec.Effect.Ban,
		&rec.Effect.Evidence, &rec.Effect.DetectedAt, &rec.Effect.AppealDeadline,
		&rec.Effect.RestorationConditions, &rec.AppliedAt, &rec.Reversed, &rec.ReversedAt,
	)
	if err == pgx.ErrNoRows {
		return "", nil, profile.ErrPenaltyNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("find penalty: %w", err)
	}
	return agentID, &rec, nil
}

// ViolationCount counts penalties ever applied to the agent.
func (s *ProfileStore) ViolationCount(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM penalties WHERE agent_id = $1", agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return count, nil
}

// SetPrivacy updates the profile's privacy mode.
func (s *ProfileStore) SetPrivacy(ctx context.Context, agentID string, mode profile.PrivacyMode) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE profiles SET privacy_mode = $1, updated_at = NOW() WHERE agent_id = $2
	`, string(mode), agentID)
	if err != nil {
		return fmt.Errorf("set privacy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, agentID)
	}
	return nil
}

// Stats aggregates store-wide counts.
func (s *ProfileStore) Stats(ctx context.Context) (*profile.Stats, error) {
	st := &profile.Stats{}

	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM profiles").Scan(&st.Agents); err != nil {
		return nil, fmt.Errorf("count profiles: %w", err)
	}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM score_history").Scan(&st.ScoresComputed); err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM penalties").Scan(&st.Violations); err != nil {
		return nil, fmt.Errorf("count penalties: %w", err)
	}
	if err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM penalties WHERE reversed = FALSE AND appeal_deadline > NOW()",
	).Scan(&st.OpenAppeals); err != nil {
		return nil, fmt.Errorf("count open appeals: %w", err)
	}
	if err := s.db.QueryRow(ctx, `
		SELECT COALESCE(AVG(latest.score), 0) FROM (
			SELECT DISTINCT ON (agent_id) score FROM score_history ORDER BY agent_id, id DESC
		) latest
	`).Scan(&st.MeanScore); err != nil {
		return nil, fmt.Errorf("mean score: %w", err)
	}
	return st, nil
}

// parseTier maps a stored tier label back to the enum.
func parseTier(label string) trust.Tier {
	switch label {
	case "trusted-plus":
		return trust.TierTrustedPlus
	case "verified":
		return trust.TierVerified
	case "trusted":
		return trust.TierTrusted
	case "limited":
		return trust.TierLimited
	default:
		return trust.TierUntrusted
	}
}
