package handlers

import (
	"net/http"
	"time"
)

type usageResponse struct {
	Identity  string `json:"identity"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	ResetsAt  string `json:"resets_at"`
}

// Usage serves GET /usage/{identity} and POST /usage/{identity}/reset.
func (api *API) Usage(w http.ResponseWriter, r *http.Request) {
	identity, reset, ok := identityFromPath(r.URL.Path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown usage path")
		return
	}

	if reset {
		api.resetUsage(w, r, identity)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	usage, err := api.quota.Usage(r.Context(), identity)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "quota_unavailable", "quota store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Identity:  usage.Identity,
		Count:     usage.Count,
		Limit:     usage.Limit,
		Remaining: usage.Remaining,
		ResetsAt:  usage.ResetsAt.UTC().Format(time.RFC3339),
	})
}

func (api *API) resetUsage(w http.ResponseWriter, r *http.Request, identity string) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if err := api.quota.Reset(r.Context(), identity); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "quota_unavailable", "quota store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "reset": true})
}
