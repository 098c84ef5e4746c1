package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/constants"
)

// handleHealth reports liveness and the live connection counts.
func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := api.HealthResponse{
		Status:  "ok",
		Version: *constants.GetVersion(),
	}
	if r.registry != nil {
		resp.Connections, resp.Users = r.registry.Stats()
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleListDeadLetters handles GET /api/v1/dead-letters?limit=N, newest first.
func (r *Router) handleListDeadLetters(w http.ResponseWriter, req *http.Request) {
	limit, ok := parseLimit(w, req)
	if !ok {
		return
	}

	resp := api.DeadLetterListResponse{DeadLetters: []api.AlarmDeadLetterEntry{}}
	if r.deadLetters != nil {
		entries, err := r.deadLetters.ListDeadLetters(req.Context(), limit)
		if err != nil {
			r.handleAndLogError(w, req, err, "list dead letters")
			return
		}
		for _, entry := range entries {
			if entry != nil {
				resp.DeadLetters = append(resp.DeadLetters, *entry)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// parseLimit reads the limit query parameter. A missing limit uses the
// default page size and a large one is capped.
func parseLimit(w http.ResponseWriter, req *http.Request) (int, bool) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return constants.DeadLetterListDefaultLimit, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeErrorResponse(w, http.StatusBadRequest, "invalid limit", "limit must be a positive integer")
		return 0, false
	}
	return min(limit, constants.DeadLetterListMaxLimit), true
}
