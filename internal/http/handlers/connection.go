package handlers

import (
	"net/http"
	"time"

	"github.com/scamshield/wa-gateway/internal/domain"
)

type connectionStatusResponse struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Challenge string `json:"challenge,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func connectionStatusFrom(state domain.ConnectionState) connectionStatusResponse {
	response := connectionStatusResponse{
		Connected: state.Connected(),
		State:     string(state.State),
		UpdatedAt: state.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if state.State == domain.ConnChallengeReady {
		response.Challenge = state.Challenge
	}
	return response
}

func (api *API) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, connectionStatusFrom(api.connection.Status()))
}

func (api *API) Init(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	api.connection.Initialize(r.Context())
	writeJSON(w, http.StatusAccepted, connectionStatusFrom(api.connection.Status()))
}

func (api *API) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if err := api.connection.Deauthorize(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, connectionStatusFrom(api.connection.Status()))
}
