package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/scamshield/wa-gateway/internal/domain"
	"github.com/scamshield/wa-gateway/internal/http/middleware"
	"github.com/scamshield/wa-gateway/internal/quota"
)

// Connection is the slice of the connection supervisor the operator API drives.
type Connection interface {
	Status() domain.ConnectionState
	Initialize(ctx context.Context)
	Deauthorize(ctx context.Context) error
}

type API struct {
	connection Connection
	quota      quota.Store
}

func NewAPI(connection Connection, quotaStore quota.Store) *API {
	return &API{
		connection: connection,
		quota:      quotaStore,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// identityFromPath extracts the identity segment from /usage/{identity} or
// /usage/{identity}/reset.
func identityFromPath(path string) (identity string, reset bool, ok bool) {
	trimmed := strings.TrimPrefix(path, "/usage/")
	if trimmed == path || trimmed == "" {
		return "", false, false
	}
	if rest, found := strings.CutSuffix(trimmed, "/reset"); found {
		trimmed = rest
		reset = true
	}
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", false, false
	}
	return trimmed, reset, true
}
