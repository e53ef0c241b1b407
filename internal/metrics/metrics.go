// Package metrics supplies raw activity data to the scoring engine: either
// fetched from an external metrics service or collected in process from
// reported activity.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/trustmesh/trustd/internal/trust"
)

// HTTPProvider fetches activity data from an external metrics service
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given base URL
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetActivityData fetches the agent's activity over the period
func (p *HTTPProvider) GetActivityData(ctx context.Context, agentID string, period trust.Period) (*trust.ActivityData, error) {
	endpoint := fmt.Sprintf("%s/agents/%s/activity?start=%s&end=%s",
		p.baseURL,
		url.PathEscape(agentID),
		strconv.FormatInt(period.Start.Unix(), 10),
		strconv.FormatInt(period.End.Unix(), 10),
	)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("metrics service returned status %d", resp.StatusCode)
	}

	var activity trust.ActivityData
	if err := json.NewDecoder(resp.Body).Decode(&activity); err != nil {
		return nil, fmt.Errorf("decode activity data: %w", err)
	}
	return &activity, nil
}

// Collector is an in-process activity sink used when no external metrics
// service is configured. Reported activity accumulates per agent and is
// aggregated over the requested period.
type Collector struct {
	mu      sync.RWMutex
	reports map[string][]timedReport
}

type timedReport struct {
	at   time.Time
	data trust.ActivityData
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{reports: make(map[string][]timedReport)}
}

// Report records one activity report for the agent
func (c *Collector) Report(agentID string, data trust.ActivityData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[agentID] = append(c.reports[agentID], timedReport{at: time.Now(), data: data})
}

// GetActivityData aggregates the agent's reports within the period. Counts
// sum; rates and deviations average across reports.
func (c *Collector) GetActivityData(ctx context.Context, agentID string, period trust.Period) (*trust.ActivityData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &trust.ActivityData{
		ToolUsage:      make(map[string]int),
		TaskCategories: make(map[string]int),
	}
	n := 0

	for _, r := range c.reports[agentID] {
		if r.at.Before(period.Start) || r.at.After(period.End) {
			continue
		}
		n++
		out.TasksCompleted += r.data.TasksCompleted
		out.TasksFailed += r.data.TasksFailed
		out.SelfCorrections += r.data.SelfCorrections
		out.EthicsViolations += r.data.EthicsViolations
		out.CreativeOutputs += r.data.CreativeOutputs
		out.ToolRegistrations += r.data.ToolRegistrations
		out.MentorshipHours += r.data.MentorshipHours

		out.LatencyDeviation += r.data.LatencyDeviation
		out.TaskComplexity += r.data.TaskComplexity
		out.UserVerificationRate += r.data.UserVerificationRate
		out.AccuracyScore += r.data.AccuracyScore
		out.InstructionAdherence += r.data.InstructionAdherence
		out.PeerFeedback += r.data.PeerFeedback

		for k, v := range r.data.ToolUsage {
			out.ToolUsage[k] += v
		}
		for k, v := range r.data.TaskCategories {
			out.TaskCategories[k] += v
		}
	}

	if n == 0 {
		return out, nil
	}

	out.LatencyDeviation /= float64(n)
	out.TaskComplexity /= float64(n)
	out.UserVerificationRate /= float64(n)
	out.AccuracyScore /= float64(n)
	out.InstructionAdherence /= float64(n)
	out.PeerFeedback /= float64(n)

	return out, nil
}
