package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustmesh/trustd/internal/trust"
)

func TestCollectorAggregatesWithinPeriod(t *testing.T) {
	c := NewCollector()

	c.Report("a", trust.ActivityData{
		TasksCompleted:       4,
		TasksFailed:          1,
		AccuracyScore:        0.8,
		InstructionAdherence: 1.0,
		ToolUsage:            map[string]int{"search": 2},
	})
	c.Report("a", trust.ActivityData{
		TasksCompleted:       6,
		AccuracyScore:        0.6,
		InstructionAdherence: 0.8,
		ToolUsage:            map[string]int{"search": 1, "summarize": 3},
	})

	period := trust.Period{Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour)}
	got, err := c.GetActivityData(context.Background(), "a", period)
	require.NoError(t, err)

	assert.Equal(t, 10, got.TasksCompleted)
	assert.Equal(t, 1, got.TasksFailed)
	assert.InDelta(t, 0.7, got.AccuracyScore, 1e-9)
	assert.InDelta(t, 0.9, got.InstructionAdherence, 1e-9)
	assert.Equal(t, map[string]int{"search": 3, "summarize": 3}, got.ToolUsage)
}

func TestCollectorExcludesReportsOutsidePeriod(t *testing.T) {
	c := NewCollector()
	c.Report("a", trust.ActivityData{TasksCompleted: 5})

	past := trust.Period{
		Start: time.Now().Add(-2 * time.Hour),
		End:   time.Now().Add(-time.Hour),
	}
	got, err := c.GetActivityData(context.Background(), "a", past)
	require.NoError(t, err)
	assert.Zero(t, got.TasksCompleted)
}

func TestCollectorUnknownAgentIsEmpty(t *testing.T) {
	c := NewCollector()
	period := trust.Period{Start: time.Now().Add(-time.Hour), End: time.Now()}
	got, err := c.GetActivityData(context.Background(), "nobody", period)
	require.NoError(t, err)
	assert.Zero(t, got.TasksCompleted)
	assert.Empty(t, got.ToolUsage)
}

func TestHTTPProviderFetchesActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/agent-1/activity", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("start"))
		assert.NotEmpty(t, r.URL.Query().Get("end"))
		json.NewEncoder(w).Encode(trust.ActivityData{
			TasksCompleted: 12,
			AccuracyScore:  0.9,
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 5*time.Second)
	period := trust.Period{Start: time.Now().Add(-time.Hour), End: time.Now()}

	got, err := p.GetActivityData(context.Background(), "agent-1", period)
	require.NoError(t, err)
	assert.Equal(t, 12, got.TasksCompleted)
	assert.InDelta(t, 0.9, got.AccuracyScore, 1e-9)
}

func TestHTTPProviderNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 5*time.Second)
	period := trust.Period{Start: time.Now().Add(-time.Hour), End: time.Now()}

	_, err := p.GetActivityData(context.Background(), "agent-1", period)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
