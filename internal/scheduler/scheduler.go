package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/trust"
)

// Scheduler manages periodic score recomputation and idle decay
type Scheduler struct {
	engine            *trust.Engine
	registry          *registry.Registry
	store             profile.Store
	workerCount       int
	recomputeInterval time.Duration
	scorePeriod       time.Duration
	decayInterval     time.Duration
	idleThreshold     time.Duration
	now               func() time.Time
}

// New creates a new scheduler
func New(engine *trust.Engine, reg *registry.Registry, store profile.Store, workerCount int, recomputeInterval, scorePeriod, decayInterval, idleThreshold time.Duration) *Scheduler {
	return &Scheduler{
		engine:            engine,
		registry:          reg,
		store:             store,
		workerCount:       workerCount,
		recomputeInterval: recomputeInterval,
		scorePeriod:       scorePeriod,
		decayInterval:     decayInterval,
		idleThreshold:     idleThreshold,
		now:               time.Now,
	}
}

// SetClock overrides the scheduler clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start begins the scheduler loops
func (s *Scheduler) Start(ctx context.Context) error {
	log.Println("Scheduler starting")

	go s.recomputeLoop(ctx)
	go s.decayLoop(ctx)

	<-ctx.Done()
	log.Println("Scheduler stopping")
	return nil
}

// recomputeLoop periodically rescores every registered agent
func (s *Scheduler) recomputeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.recomputeInterval)
	defer ticker.Stop()

	// Run initial batch
	s.runRecomputeBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRecomputeBatch(ctx)
		}
	}
}

// runRecomputeBatch rescores the roster with a worker pool
func (s *Scheduler) runRecomputeBatch(ctx context.Context) {
	agents := s.registry.List()
	if len(agents) == 0 {
		log.Println("No agents to rescore")
		return
	}

	log.Printf("Rescoring %d agents with %d workers", len(agents), s.workerCount)

	end := s.now()
	period := trust.Period{Start: end.Add(-s.scorePeriod), End: end}

	// Create job queue
	jobs := make(chan string, len(agents))
	for _, info := range agents {
		jobs <- info.AgentID
	}
	close(jobs)

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < s.workerCount; i++ {
		wg.Add(1)
		go s.recomputeWorker(ctx, &wg, jobs, period)
	}

	wg.Wait()
	log.Println("Rescore batch complete")
}

// recomputeWorker processes rescore jobs
func (s *Scheduler) recomputeWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan string, period trust.Period) {
	defer wg.Done()

	for agentID := range jobs {
		if err := s.rescoreAgent(ctx, agentID, period); err != nil {
			log.Printf("Rescore failed for %s: %v", agentID, err)
		}
	}
}

// rescoreAgent recomputes one agent and publishes the result
func (s *Scheduler) rescoreAgent(ctx context.Context, agentID string, period trust.Period) error {
	score, err := s.engine.ComputeScore(ctx, agentID, period, "recompute")
	if err != nil {
		return err
	}
	s.registry.CommitScore(score)
	return nil
}

// decayLoop periodically reduces scores of idle agents
func (s *Scheduler) decayLoop(ctx context.Context) {
	ticker := time.NewTicker(s.decayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDecayBatch(ctx)
		}
	}
}

// runDecayBatch applies decay to agents idle past the threshold
func (s *Scheduler) runDecayBatch(ctx context.Context) {
	now := s.now()
	decayed := 0

	for _, info := range s.registry.List() {
		last, err := s.store.LatestScore(ctx, info.AgentID)
		if err != nil || last == nil {
			continue
		}

		idle := now.Sub(last.ComputedAt)
		if idle < s.idleThreshold {
			continue
		}

		days := int(idle / (24 * time.Hour))
		score, err := s.engine.ApplyDecay(ctx, info.AgentID, days)
		if err != nil {
			log.Printf("Decay failed for %s: %v", info.AgentID, err)
			continue
		}
		if score != nil {
			s.registry.CommitScore(score)
			decayed++
		}
	}

	if decayed > 0 {
		log.Printf("Decay batch complete: %d agents decayed", decayed)
	}
}
