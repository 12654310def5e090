package handlers

import "net/http"

// Health stays auth-exempt for liveness probes. It reports the chat link
// state alongside the process status so a probe can tell a dead process
// apart from a live gateway with a dropped session.
func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"service":    "wa-gateway",
		"connection": string(api.connection.Status().State),
	})
}
