// Package governance derives vote weight and proposal eligibility from
// current trust scores. It is a read-only consumer: it never writes to the
// reputation profile store.
package governance

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/trust"
)

// ErrInsufficientTrust indicates the agent's score is below the proposal
// threshold. An expected outcome, not retried.
var ErrInsufficientTrust = errors.New("insufficient trust")

// ErrBanned indicates the agent carries the ban mark and holds no
// governance rights regardless of its score.
var ErrBanned = errors.New("agent banned")

// ProposalThreshold is the minimum score for submitting proposals. It
// coincides with the Trusted tier boundary.
const ProposalThreshold = trust.ThresholdTrusted

// Governance computes trust-weighted governance parameters.
type Governance struct {
	registry *registry.Registry
}

// New creates a governance reader over the registry.
func New(reg *registry.Registry) *Governance {
	return &Governance{registry: reg}
}

// VoteWeight returns sqrt(score/10). Weight is 0.0 at score 0 and 1.0 at
// score 10, monotonically non-decreasing in between. Banned agents carry
// no voting power.
func (g *Governance) VoteWeight(ctx context.Context, agentID string) (float64, error) {
	banned, err := g.registry.Banned(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if banned {
		return 0, fmt.Errorf("%w: %s", ErrBanned, agentID)
	}
	score, err := g.registry.LatestScore(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(score.Value / 10.0), nil
}

// CanSubmitProposal reports whether the agent may submit proposals. Banned
// agents fail with ErrBanned; scores below the Trusted threshold fail with
// ErrInsufficientTrust.
func (g *Governance) CanSubmitProposal(ctx context.Context, agentID string) error {
	banned, err := g.registry.Banned(ctx, agentID)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("%w: %s", ErrBanned, agentID)
	}
	score, err := g.registry.LatestScore(ctx, agentID)
	if err != nil {
		return err
	}
	if score.Value < ProposalThreshold {
		return fmt.Errorf("%w: score %.2f below threshold %.1f",
			ErrInsufficientTrust, score.Value, ProposalThreshold)
	}
	return nil
}
