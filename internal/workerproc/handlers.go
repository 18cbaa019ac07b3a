package workerproc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/spindle/internal/dispatch"
)

// errorEnvelope is the {message, stack} error payload. Stack is never
// populated (Go errors carry no stack trace), so it is omitted from the JSON.
type errorEnvelope struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type readyEnvelope struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// commandResponse is the executeCommand HTTP envelope, carrying the HTTP
// status code alongside the dispatch classification so a caller can read
// statusCode straight off the decoded body rather than the transport layer.
type commandResponse struct {
	StatusCode    int                    `json:"statusCode"`
	OperationType dispatch.OperationType `json:"operationType,omitempty"`
	Result        any                    `json:"result"`
}

func (rt *Runtime) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondJSON(w, http.StatusBadRequest, commandResponse{
			StatusCode: http.StatusBadRequest,
			Result:     "Invalid body",
		})
		return
	}

	result, err := rt.loader.ExecuteCommand(r.Context(), cmd)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, commandResponse{
			StatusCode: http.StatusInternalServerError,
			Result:     errorEnvelope{Message: err.Error()},
		})
		return
	}
	respondJSON(w, http.StatusOK, commandResponse{
		StatusCode:    http.StatusOK,
		OperationType: result.OperationType,
		Result:        result.Result,
	})
}

func (rt *Runtime) handleReady(w http.ResponseWriter, r *http.Request) {
	if !rt.loader.IsInitialized() {
		respondJSON(w, http.StatusOK, "not-ready")
		return
	}
	respondJSON(w, http.StatusOK, readyEnvelope{Status: "ready", Timestamp: time.Now().UTC()})
}

func (rt *Runtime) handleGetPublicMethods(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "pluginName")
	methods, ok := rt.loader.PublicMethods(pluginName)
	if !ok {
		respondJSON(w, http.StatusNotFound, errorEnvelope{Message: "plugin not found: " + pluginName})
		return
	}
	respondJSON(w, http.StatusOK, methods)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
