// Package registry tracks the agent roster and the latest committed trust
// score per agent. It is an explicit object handed to the router and
// governance consumers; there is no module-level mutable state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/trust"
)

// AgentInfo is the roster entry for a routable agent.
type AgentInfo struct {
	AgentID      string    `json:"agent_id"`
	Capabilities []string  `json:"capabilities"`
	Availability float64   `json:"availability"` // [0,1]
	Load         int       `json:"load"`         // current assigned tasks
	RegisteredAt time.Time `json:"registered_at"`
}

// Candidate pairs a roster entry with its latest committed score for
// routing decisions.
type Candidate struct {
	Info  AgentInfo
	Score *trust.Score
}

// Registry is the shared, per-agent keyed read surface for routing and
// governance. Score reads tolerate bounded staleness.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*AgentInfo

	scores       *lru.Cache // agentID -> *trust.Score
	store        profile.Store
	maxStaleness time.Duration
	now          func() time.Time
}

// New creates a registry over the given profile store. cacheSize bounds the
// latest-score cache.
func New(store profile.Store, cacheSize int, maxStaleness time.Duration) (*Registry, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create score cache: %w", err)
	}
	return &Registry{
		agents:       make(map[string]*AgentInfo),
		scores:       cache,
		store:        store,
		maxStaleness: maxStaleness,
		now:          time.Now,
	}, nil
}

// SetClock overrides the registry clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register adds or replaces a roster entry.
func (r *Registry) Register(info AgentInfo) {
	if info.RegisteredAt.IsZero() {
		info.RegisteredAt = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[info.AgentID] = &info
}

// Deregister removes an agent from the roster. Its profile is untouched.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
	r.scores.Remove(agentID)
}

// Get returns the roster entry for an agent.
func (r *Registry) Get(agentID string) (*AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	copied := *info
	return &copied, true
}

// List returns all roster entries sorted by agent ID.
func (r *Registry) List() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// UpdateAvailability sets the agent's availability indicator.
func (r *Registry) UpdateAvailability(agentID string, availability float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", trust.ErrUnknownAgent, agentID)
	}
	info.Availability = availability
	return nil
}

// AdjustLoad changes the agent's current load by delta, flooring at zero.
func (r *Registry) AdjustLoad(agentID string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", trust.ErrUnknownAgent, agentID)
	}
	info.Load += delta
	if info.Load < 0 {
		info.Load = 0
	}
	return nil
}

// CommitScore publishes a newly committed score snapshot to readers.
func (r *Registry) CommitScore(score *trust.Score) {
	r.scores.Add(score.AgentID, score)
}

// LatestScore returns the most recently committed score for an agent,
// consulting the store on a cache miss. Reads are allowed to be stale up to
// the configured window; a cached snapshot older than that is refreshed
// from the store.
func (r *Registry) LatestScore(ctx context.Context, agentID string) (*trust.Score, error) {
	if v, ok := r.scores.Get(agentID); ok {
		score := v.(*trust.Score)
		if r.now().Sub(score.ComputedAt) <= r.maxStaleness {
			return score, nil
		}
	}

	score, err := r.store.LatestScore(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if score == nil {
		return nil, fmt.Errorf("%w: %s", trust.ErrUnknownAgent, agentID)
	}
	r.scores.Add(agentID, score)
	return score, nil
}

// Banned reports whether the agent's profile carries the ban mark. Agents
// with no profile yet are not banned.
func (r *Registry) Banned(ctx context.Context, agentID string) (bool, error) {
	p, err := r.store.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Banned(), nil
}

// Candidates returns every roster agent with a committed score that is
// neither banned nor under an active suspension.
func (r *Registry) Candidates(ctx context.Context) ([]Candidate, error) {
	now := r.now()
	out := make([]Candidate, 0)

	for _, info := range r.List() {
		score, err := r.LatestScore(ctx, info.AgentID)
		if err != nil {
			// Unscored agents are simply not candidates; anything else
			// is a real store failure.
			if errors.Is(err, trust.ErrUnknownAgent) {
				continue
			}
			return nil, err
		}

		p, err := r.store.Get(ctx, info.AgentID)
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				out = append(out, Candidate{Info: info, Score: score})
				continue
			}
			return nil, err
		}
		if p.Banned() || p.Suspended(now) {
			continue
		}

		out = append(out, Candidate{Info: info, Score: score})
	}
	return out, nil
}
