package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/trustmesh/trustd/internal/governance"
	"github.com/trustmesh/trustd/internal/metrics"
	"github.com/trustmesh/trustd/internal/penalty"
	"github.com/trustmesh/trustd/internal/profile"
	"github.com/trustmesh/trustd/internal/registry"
	"github.com/trustmesh/trustd/internal/router"
	"github.com/trustmesh/trustd/internal/trust"
)

// API handles HTTP API requests
type API struct {
	store     profile.Store
	engine    *trust.Engine
	registry  *registry.Registry
	router    *router.Router
	penalties *penalty.Engine
	gov       *governance.Governance

	// collector is non-nil only when the in-process metrics collector is
	// in use; activity reporting is rejected otherwise.
	collector *metrics.Collector
}

// New creates a new API handler
func New(store profile.Store, engine *trust.Engine, reg *registry.Registry, rt *router.Router, pen *penalty.Engine, gov *governance.Governance, collector *metrics.Collector) *API {
	return &API{
		store:     store,
		engine:    engine,
		registry:  reg,
		router:    rt,
		penalties: pen,
		gov:       gov,
		collector: collector,
	}
}

// Router creates the API router
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Post("/agents", a.registerAgent)
	r.Get("/agents", a.listAgents)
	r.Get("/agents/{id}", a.getProfile)
	r.Delete("/agents/{id}", a.deregisterAgent)
	r.Get("/agents/{id}/history", a.getHistory)
	r.Post("/agents/{id}/score", a.computeScore)
	r.Post("/agents/{id}/endorsements", a.addEndorsement)
	r.Post("/agents/{id}/activity", a.reportActivity)
	r.Put("/agents/{id}/availability", a.updateAvailability)
	r.Put("/agents/{id}/privacy", a.setPrivacy)
	r.Get("/agents/{id}/vote-weight", a.getVoteWeight)
	r.Get("/agents/{id}/proposal-eligibility", a.getProposalEligibility)
	r.Post("/route", a.routeTask)
	r.Post("/violations", a.reportViolation)
	r.Post("/penalties/{id}/appeal", a.resolveAppeal)
	r.Get("/stats", a.getStats)

	return r
}

// Response wraps API responses
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Meta  *Meta       `json:"meta,omitempty"`
	Error *ErrorMsg   `json:"error,omitempty"`
}

// Meta contains pagination metadata
type Meta struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// ErrorMsg represents an error response
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// registerAgent handles POST /agents
func (a *API) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID      string   `json:"agent_id"`
		Capabilities []string `json:"capabilities"`
		Availability float64  `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if req.AgentID == "" {
		respondError(w, http.StatusBadRequest, "missing_agent_id", "agent_id is required")
		return
	}
	if req.Availability < 0 || req.Availability > 1 {
		respondError(w, http.StatusBadRequest, "invalid_availability", "availability must be in [0,1]")
		return
	}

	a.registry.Register(registry.AgentInfo{
		AgentID:      req.AgentID,
		Capabilities: req.Capabilities,
		Availability: req.Availability,
	})

	info, _ := a.registry.Get(req.AgentID)
	respondJSON(w, http.StatusCreated, Response{Data: info})
}

// listAgents handles GET /agents
func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := a.registry.List()
	respondJSON(w, http.StatusOK, Response{
		Data: agents,
		Meta: &Meta{Total: len(agents), Page: 1, PerPage: len(agents)},
	})
}

// deregisterAgent handles DELETE /agents/{id}
func (a *API) deregisterAgent(w http.ResponseWriter, r *http.Request) {
	a.registry.Deregister(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// getProfile handles GET /agents/{id}. The returned view honors the
// profile's privacy mode.
func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	p, err := a.store.Get(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Agent not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, Response{Data: p.Redacted()})
}

// getHistory handles GET /agents/{id}/history
func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	page, perPage := parsePagination(r)

	p, err := a.store.Get(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Agent not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if p.Privacy == profile.PrivacyPrivate {
		respondError(w, http.StatusForbidden, "private_profile", "History is not visible for private profiles")
		return
	}

	history := p.History
	total := len(history)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	respondJSON(w, http.StatusOK, Response{
		Data: history[start:end],
		Meta: &Meta{Total: total, Page: page, PerPage: perPage},
	})
}

// computeScore handles POST /agents/{id}/score
func (a *API) computeScore(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req struct {
		PeriodStart time.Time `json:"period_start"`
		PeriodEnd   time.Time `json:"period_end"`
		Trigger     string    `json:"trigger"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if req.PeriodEnd.IsZero() {
		req.PeriodEnd = time.Now()
	}
	if req.PeriodStart.IsZero() {
		req.PeriodStart = req.PeriodEnd.Add(-30 * 24 * time.Hour)
	}
	if !req.PeriodStart.Before(req.PeriodEnd) {
		respondError(w, http.StatusBadRequest, "invalid_period", "period_start must precede period_end")
		return
	}

	score, err := a.engine.ComputeScore(r.Context(), agentID, trust.Period{
		Start: req.PeriodStart,
		End:   req.PeriodEnd,
	}, req.Trigger)
	if err != nil {
		switch {
		case errors.Is(err, trust.ErrMetricsUnavailable):
			respondError(w, http.StatusServiceUnavailable, "metrics_unavailable", err.Error())
		case errors.Is(err, profile.ErrCorrupted):
			respondError(w, http.StatusConflict, "profile_corrupted", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "scoring_error", err.Error())
		}
		return
	}

	a.registry.CommitScore(score)
	respondJSON(w, http.StatusOK, Response{Data: score})
}

// addEndorsement handles POST /agents/{id}/endorsements
func (a *API) addEndorsement(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var e profile.Endorsement
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if e.IssuedAt.IsZero() {
		e.IssuedAt = time.Now()
	}

	if err := a.store.AddEndorsement(r.Context(), agentID, e); err != nil {
		if errors.Is(err, profile.ErrInvalidEndorsement) {
			respondError(w, http.StatusUnprocessableEntity, "invalid_endorsement", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, Response{Data: map[string]string{"status": "endorsed"}})
}

// reportActivity handles POST /agents/{id}/activity
func (a *API) reportActivity(w http.ResponseWriter, r *http.Request) {
	if a.collector == nil {
		respondError(w, http.StatusServiceUnavailable, "collector_disabled", "Activity reporting requires the in-process collector")
		return
	}
	agentID := chi.URLParam(r, "id")

	var data trust.ActivityData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	a.collector.Report(agentID, data)
	respondJSON(w, http.StatusAccepted, Response{Data: map[string]string{"status": "recorded"}})
}

// updateAvailability handles PUT /agents/{id}/availability
func (a *API) updateAvailability(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req struct {
		Availability float64 `json:"availability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if req.Availability < 0 || req.Availability > 1 {
		respondError(w, http.StatusBadRequest, "invalid_availability", "availability must be in [0,1]")
		return
	}

	if err := a.registry.UpdateAvailability(agentID, req.Availability); err != nil {
		respondError(w, http.StatusNotFound, "not_found", "Agent not registered")
		return
	}

	respondJSON(w, http.StatusOK, Response{Data: map[string]string{"status": "updated"}})
}

// setPrivacy handles PUT /agents/{id}/privacy
func (a *API) setPrivacy(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	var req struct {
		Mode profile.PrivacyMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	switch req.Mode {
	case profile.PrivacyPublic, profile.PrivacyPseudonymous, profile.PrivacyPrivate:
	default:
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be public, pseudonymous, or private")
		return
	}

	if err := a.store.SetPrivacy(r.Context(), agentID, req.Mode); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "Agent not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, Response{Data: map[string]string{"status": "updated"}})
}

// getVoteWeight handles GET /agents/{id}/vote-weight
func (a *API) getVoteWeight(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	weight, err := a.gov.VoteWeight(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, trust.ErrUnknownAgent) {
			respondError(w, http.StatusNotFound, "not_found", "Agent has no committed score")
			return
		}
		if errors.Is(err, governance.ErrBanned) {
			respondError(w, http.StatusForbidden, "banned", "Agent is banned")
			return
		}
		respondError(w, http.StatusInternalServerError, "governance_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, Response{Data: map[string]interface{}{
		"agent_id":    agentID,
		"vote_weight": weight,
	}})
}

// getProposalEligibility handles GET /agents/{id}/proposal-eligibility
func (a *API) getProposalEligibility(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	err := a.gov.CanSubmitProposal(r.Context(), agentID)
	if err != nil && !errors.Is(err, governance.ErrInsufficientTrust) && !errors.Is(err, governance.ErrBanned) {
		if errors.Is(err, trust.ErrUnknownAgent) {
			respondError(w, http.StatusNotFound, "not_found", "Agent has no committed score")
			return
		}
		respondError(w, http.StatusInternalServerError, "governance_error", err.Error())
		return
	}

	data := map[string]interface{}{
		"agent_id": agentID,
		"eligible": err == nil,
	}
	if err != nil {
		data["reason"] = err.Error()
	}
	respondJSON(w, http.StatusOK, Response{Data: data})
}

// routeTask handles POST /route
func (a *API) routeTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task          router.Task `json:"task"`
		RequiredTrust float64     `json:"required_trust"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if req.Task.ID == uuid.Nil {
		req.Task.ID = uuid.New()
	}

	result, err := a.router.RouteTask(r.Context(), req.Task, req.RequiredTrust)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "routing_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, Response{Data: result})
}

// reportViolation handles POST /violations
func (a *API) reportViolation(w http.ResponseWriter, r *http.Request) {
	var v penalty.Violation
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if v.AgentID == "" {
		respondError(w, http.StatusBadRequest, "missing_agent_id", "agent_id is required")
		return
	}

	result, err := a.penalties.Apply(r.Context(), v)
	if err != nil {
		if errors.Is(err, penalty.ErrPenaltyExecutionFailure) {
			respondError(w, http.StatusInternalServerError, "penalty_execution_failure", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "penalty_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, Response{Data: result})
}

// resolveAppeal handles POST /penalties/{id}/appeal
func (a *API) resolveAppeal(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid penalty ID")
		return
	}

	var req struct {
		Upheld bool `json:"upheld"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	outcome, err := a.penalties.ResolveAppeal(r.Context(), id, req.Upheld)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrPenaltyNotFound):
			respondError(w, http.StatusNotFound, "not_found", "Penalty not found")
		case errors.Is(err, penalty.ErrAppealExpired):
			respondError(w, http.StatusConflict, "appeal_expired", err.Error())
		case errors.Is(err, profile.ErrPenaltyReversed):
			respondError(w, http.StatusConflict, "already_reversed", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "appeal_error", err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, Response{Data: outcome})
}

// getStats handles GET /stats
func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, Response{Data: stats})
}

// parsePagination extracts pagination parameters from request
func parsePagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	return
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, Response{
		Error: &ErrorMsg{
			Code:    code,
			Message: message,
		},
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
