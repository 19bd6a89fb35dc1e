package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dimasma0305/hackforge/internal/hackforge/campaign"
	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/hackforge/flagcheck"
	"github.com/dimasma0305/hackforge/internal/hackforge/orchestrator"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
	"github.com/dimasma0305/hackforge/internal/log"
)

// errorBody is the uniform error response shape
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response: %v", err)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	var delErr *campaign.DeleteError
	if hferrors.As(err, &delErr) {
		return http.StatusConflict
	}

	switch {
	case hferrors.Is(err, hferrors.ErrNotFound),
		hferrors.Is(err, hferrors.ErrCampaignNotFound),
		hferrors.Is(err, hferrors.ErrMachineNotFound),
		hferrors.Is(err, hferrors.ErrBlueprintNotFound),
		hferrors.Is(err, hferrors.ErrContainerNotFound),
		hferrors.Is(err, hferrors.ErrUserNotFound):
		return http.StatusNotFound
	case hferrors.Is(err, hferrors.ErrInvalidInput),
		hferrors.Is(err, hferrors.ErrInvalidDifficulty),
		hferrors.Is(err, hferrors.ErrEmptyFlag),
		hferrors.Is(err, hferrors.ErrEmptyBlueprints):
		return http.StatusBadRequest
	case hferrors.Is(err, hferrors.ErrRuntimeTimeout):
		return http.StatusGatewayTimeout
	case hferrors.Is(err, hferrors.ErrRuntimeUnavailable),
		hferrors.Is(err, hferrors.ErrAllocation),
		hferrors.Is(err, hferrors.ErrNoFreePorts):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error("Request failed: %v", err)
	}
	writeJSON(w, status, errorBody{Detail: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return hferrors.Wrap(hferrors.ErrInvalidInput, "malformed JSON body")
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit enforces the per-IP token bucket for an action type. Returns
// false after writing the 429 when the caller is out of tokens.
func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request, action string) bool {
	allowed, wait := s.limiter.AllowAction(clientIP(r), action)
	if allowed {
		return true
	}

	w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Detail: fmt.Sprintf("rate limit exceeded, retry in %s", wait.Round(time.Second)),
	})
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	campaigns, machines, err := s.deps.Store.Counts()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_campaigns":    campaigns,
		"total_machines":     machines,
		"total_blueprints":   s.deps.Registry.Count(),
		"ports_in_use":       s.deps.Allocator.InUse(),
		"unhealthy_machines": s.health.UnhealthyCount(),
	})
}

func (s *Server) handleListBlueprints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) handleGetBlueprint(w http.ResponseWriter, r *http.Request) {
	bp, err := s.deps.Registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaign.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, err := s.deps.Manager.Create(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	views, err := s.deps.Manager.List(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Manager.Get(mux.Vars(r)["id"], r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCampaignContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.deps.Manager.Containers(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"containers": containers})
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]

	err := s.deps.Manager.Delete(r.Context(), campaignID)
	var delErr *campaign.DeleteError
	if hferrors.As(err, &delErr) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"detail":            "some containers could not be removed",
			"failed_containers": delErr.Failed,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "campaign " + campaignID + " deleted"})
}

func (s *Server) handleListMachines(w http.ResponseWriter, _ *http.Request) {
	machines, err := s.deps.Store.ListMachines()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"machines": machines})
}

func (s *Server) handleValidateFlag(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, "flag") {
		return
	}

	var req flagcheck.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.RemoteAddr = clientIP(r)

	result, err := s.deps.Validator.Validate(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDockerStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Coordinator.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// bulkHandler runs one bulk action over every managed container. Partial
// failures still produce a 200; each item reports its own outcome.
func (s *Server) bulkHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit(w, r, action) {
			return
		}

		var results []orchestrator.ActionResult
		var err error
		switch action {
		case "start":
			results, err = s.deps.Coordinator.StartAll(r.Context())
		case "stop":
			results, err = s.deps.Coordinator.StopAll(r.Context())
		case "restart":
			results, err = s.deps.Coordinator.RestartAll(r.Context())
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"action": action, "results": results})
	}
}

func (s *Server) handleDockerDestroy(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, "destroy") {
		return
	}

	results, err := s.deps.Coordinator.DestroyAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"action": "destroy", "results": results})
}

// containerHandler performs one action on a single container and reports the
// per-item result. The item-level outcome carries success or failure.
func (s *Server) containerHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit(w, r, action) {
			return
		}

		result := s.deps.Coordinator.Container(r.Context(), mux.Vars(r)["id"], action)
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if t := r.URL.Query().Get("tail"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil || n < 0 {
			writeError(w, hferrors.Wrap(hferrors.ErrInvalidInput, "tail must be a non-negative integer"))
			return
		}
		tail = n
	}

	logs, err := s.deps.Coordinator.Logs(r.Context(), mux.Vars(r)["id"], tail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u store.User
	if err := decodeBody(r, &u); err != nil {
		writeError(w, err)
		return
	}
	if u.ID == "" || u.Username == "" {
		writeError(w, hferrors.Wrap(hferrors.ErrInvalidInput, "user_id and username are required"))
		return
	}

	if err := s.deps.Store.CreateUser(&u); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Store.GetUser(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, hferrors.Wrap(hferrors.ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	users, err := s.deps.Store.Leaderboard(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": users})
}
