package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustmesh/trustd/internal/crypto"
	"github.com/trustmesh/trustd/internal/governance"
	"github.com/trustmesh/trustd/internal/metrics"
	"github.com/trustmesh/trustd/internal/penalty"
	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/router"
	"github.com/trustmesh/trustd/internal/trust"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := profile.NewMemoryStore(crypto.Ed25519Verifier{}, crypto.SHA256Hasher{}, 100)
	collector := metrics.NewCollector()

	engine, err := trust.NewEngine(collector, store, crypto.SHA256Hasher{}, trust.EngineConfig{
		Weights:               trust.DefaultWeights(),
		MetricsTimeout:        time.Second,
		MetricsRetries:        1,
		SignificanceThreshold: 1.0,
		DecayRate:             0.01,
	})
	require.NoError(t, err)

	reg, err := registry.New(store, 16, time.Hour)
	require.NoError(t, err)

	a := New(store, engine, reg, router.New(reg), penalty.New(store, reg, 168*time.Hour), governance.New(reg), collector)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	}
	return resp.StatusCode, envelope
}

func registerAgent(t *testing.T, srv *httptest.Server, id string, availability float64, caps ...string) {
	t.Helper()
	status, _ := doJSON(t, "POST", srv.URL+"/agents", map[string]interface{}{
		"agent_id":     id,
		"capabilities": caps,
		"availability": availability,
	})
	require.Equal(t, http.StatusCreated, status)
}

func scoreAgent(t *testing.T, srv *httptest.Server, id string) float64 {
	t.Helper()

	status, _ := doJSON(t, "POST", srv.URL+"/agents/"+id+"/activity", trust.ActivityData{
		TasksCompleted:       9,
		TasksFailed:          1,
		LatencyDeviation:     0.2,
		TaskComplexity:       0.5,
		UserVerificationRate: 0.8,
		AccuracyScore:        0.9,
		InstructionAdherence: 0.9,
		PeerFeedback:         0.7,
	})
	require.Equal(t, http.StatusAccepted, status)

	status, envelope := doJSON(t, "POST", srv.URL+"/agents/"+id+"/score", map[string]interface{}{})
	require.Equal(t, http.StatusOK, status)
	data := envelope["data"].(map[string]interface{})
	return data["score"].(float64)
}

func TestScoreAndProfileLifecycle(t *testing.T) {
	srv := newTestServer(t)
	registerAgent(t, srv, "agent-1", 0.9)

	value := scoreAgent(t, srv, "agent-1")
	assert.Greater(t, value, 0.0)
	assert.LessOrEqual(t, value, 10.0)

	status, envelope := doJSON(t, "GET", srv.URL+"/agents/agent-1", nil)
	require.Equal(t, http.StatusOK, status)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "agent-1", data["agent_id"])
	assert.Len(t, data["history"], 1)

	status, envelope = doJSON(t, "GET", srv.URL+"/agents/agent-1/history", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, envelope["data"], 1)

	status, _ = doJSON(t, "GET", srv.URL+"/agents/nobody", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouteEndpoint(t *testing.T) {
	srv := newTestServer(t)
	registerAgent(t, srv, "strong", 0.9)
	registerAgent(t, srv, "weak", 0.9)

	scoreAgent(t, srv, "strong")

	status, envelope := doJSON(t, "POST", srv.URL+"/route", map[string]interface{}{
		"task":           map[string]interface{}{"kind": "analysis"},
		"required_trust": 4.0,
	})
	require.Equal(t, http.StatusOK, status)
	data := envelope["data"].(map[string]interface{})
	assigned := data["assigned_agent"].(map[string]interface{})
	assert.Equal(t, "strong", assigned["agent_id"])

	// Nothing clears an impossible threshold; the result escalates.
	status, envelope = doJSON(t, "POST", srv.URL+"/route", map[string]interface{}{
		"task":           map[string]interface{}{"kind": "analysis"},
		"required_trust": 9.9,
	})
	require.Equal(t, http.StatusOK, status)
	data = envelope["data"].(map[string]interface{})
	assert.Equal(t, true, data["escalation_required"])
	assert.Nil(t, data["assigned_agent"])
}

func TestViolationAndAppealEndpoints(t *testing.T) {
	srv := newTestServer(t)
	registerAgent(t, srv, "agent-1", 0.9)
	scoreAgent(t, srv, "agent-1")

	status, envelope := doJSON(t, "POST", srv.URL+"/violations", map[string]interface{}{
		"agent_id": "agent-1",
		"type":     "protocol",
		"severity": "moderate",
		"evidence": "malformed task responses",
	})
	require.Equal(t, http.StatusCreated, status)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "score-reduction", data["penalty_type"])
	penaltyID := data["penalty_id"].(string)

	status, envelope = doJSON(t, "POST", srv.URL+"/penalties/"+penaltyID+"/appeal", map[string]interface{}{
		"upheld": false,
	})
	require.Equal(t, http.StatusOK, status)
	data = envelope["data"].(map[string]interface{})
	assert.Equal(t, false, data["upheld"])

	status, _ = doJSON(t, "POST", srv.URL+"/penalties/not-a-uuid/appeal", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGovernanceEndpoints(t *testing.T) {
	srv := newTestServer(t)
	registerAgent(t, srv, "agent-1", 0.9)
	value := scoreAgent(t, srv, "agent-1")

	status, envelope := doJSON(t, "GET", srv.URL+"/agents/agent-1/vote-weight", nil)
	require.Equal(t, http.StatusOK, status)
	data := envelope["data"].(map[string]interface{})
	assert.InDelta(t, value/10.0, data["vote_weight"].(float64)*data["vote_weight"].(float64), 1e-9)

	status, envelope = doJSON(t, "GET", srv.URL+"/agents/agent-1/proposal-eligibility", nil)
	require.Equal(t, http.StatusOK, status)
	data = envelope["data"].(map[string]interface{})
	assert.Equal(t, value >= 6.0, data["eligible"])

	status, _ = doJSON(t, "GET", srv.URL+"/agents/nobody/vote-weight", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPrivacyModes(t *testing.T) {
	srv := newTestServer(t)
	registerAgent(t, srv, "agent-1", 0.9)
	scoreAgent(t, srv, "agent-1")

	status, _ := doJSON(t, "PUT", srv.URL+"/agents/agent-1/privacy", map[string]string{"mode": "private"})
	require.Equal(t, http.StatusOK, status)

	status, envelope := doJSON(t, "GET", srv.URL+"/agents/agent-1", nil)
	require.Equal(t, http.StatusOK, status)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "agent-1", data["agent_id"])
	assert.Nil(t, data["history"])

	status, _ = doJSON(t, "GET", srv.URL+"/agents/agent-1/history", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, "PUT", srv.URL+"/agents/agent-1/privacy", map[string]string{"mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("agent-%d", i)
		registerAgent(t, srv, id, 0.9)
		scoreAgent(t, srv, id)
	}

	status, envelope := doJSON(t, "GET", srv.URL+"/stats", nil)
	require.Equal(t, http.StatusOK, status)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["agents"])
	assert.Equal(t, float64(3), data["scores_computed"])
}
