// Package router assigns tasks to agents by trust threshold, capability
// match, and availability.
package router

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trustmesh/trustd/internal/registry"
)

// Selection score weights and fallback depth.
const (
	trustWeight        = 0.4
	capabilityWeight   = 0.4
	availabilityWeight = 0.2
	maxFallbacks       = 3
)

// Task is a unit of work to route.
type Task struct {
	ID                   uuid.UUID `json:"id"`
	Kind                 string    `json:"kind"`
	RequiredCapabilities []string  `json:"required_capabilities"`
}

// Assignment describes one ranked agent for a task.
type Assignment struct {
	AgentID        string  `json:"agent_id"`
	TrustScore     float64 `json:"trust_score"`
	SelectionScore float64 `json:"selection_score"`
}

// RoutingResult is the outcome of a routing request. An empty eligible set
// is not an error: AssignedAgent is nil and EscalationRequired is true, and
// the caller must handle it.
type RoutingResult struct {
	TaskID             uuid.UUID    `json:"task_id"`
	AssignedAgent      *Assignment  `json:"assigned_agent,omitempty"`
	FallbackAgents     []Assignment `json:"fallback_agents,omitempty"`
	EscalationRequired bool         `json:"escalation_required"`
}

// Router selects agents from the registry.
type Router struct {
	registry *registry.Registry
}

// New creates a router over the given registry.
func New(reg *registry.Registry) *Router {
	return &Router{registry: reg}
}

// ranked is a candidate with its computed selection score.
type ranked struct {
	cand  registry.Candidate
	score float64
}

// RouteTask filters the agent population to those whose latest score meets
// requiredTrust, ranks the eligible set, and returns the winner plus up to
// three fallbacks. Cancellation before the assignment commits has no side
// effect.
func (r *Router) RouteTask(ctx context.Context, task Task, requiredTrust float64) (*RoutingResult, error) {
	candidates, err := r.registry.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		if c.Score.Value < requiredTrust {
			continue
		}
		eligible = append(eligible, ranked{
			cand:  c,
			score: selectionScore(c, task),
		})
	}

	if len(eligible) == 0 {
		return &RoutingResult{TaskID: task.ID, EscalationRequired: true}, nil
	}

	sort.Slice(eligible, func(i, j int) bool { return less(eligible[j], eligible[i]) })

	// The caller may cancel a routing request up to the point the
	// assignment commits.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	winner := eligible[0]
	result := &RoutingResult{
		TaskID: task.ID,
		AssignedAgent: &Assignment{
			AgentID:        winner.cand.Info.AgentID,
			TrustScore:     winner.cand.Score.Value,
			SelectionScore: winner.score,
		},
	}

	for _, rc := range eligible[1:] {
		if len(result.FallbackAgents) == maxFallbacks {
			break
		}
		result.FallbackAgents = append(result.FallbackAgents, Assignment{
			AgentID:        rc.cand.Info.AgentID,
			TrustScore:     rc.cand.Score.Value,
			SelectionScore: rc.score,
		})
	}

	if err := r.registry.AdjustLoad(winner.cand.Info.AgentID, 1); err != nil {
		return nil, err
	}
	return result, nil
}

// selectionScore blends normalized trust, capability match, and the
// availability indicator.
func selectionScore(c registry.Candidate, task Task) float64 {
	return trustWeight*(c.Score.Value/10.0) +
		capabilityWeight*capabilityMatch(c.Info.Capabilities, task.RequiredCapabilities) +
		availabilityWeight*c.Info.Availability
}

// capabilityMatch is the fraction of required capabilities the agent has;
// 1.0 when the task requires none.
func capabilityMatch(have, want []string) float64 {
	if len(want) == 0 {
		return 1.0
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	matched := 0
	for _, c := range want {
		if _, ok := set[c]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

// less orders a below b: lower selection score first, ties broken by lower
// availability, then higher load, then higher agent ID, so that sorting
// descending yields the deterministic winner order.
func less(a, b ranked) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.cand.Info.Availability != b.cand.Info.Availability {
		return a.cand.Info.Availability < b.cand.Info.Availability
	}
	if a.cand.Info.Load != b.cand.Info.Load {
		return a.cand.Info.Load > b.cand.Info.Load
	}
	return a.cand.Info.AgentID > b.cand.Info.AgentID
}
