package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/orderflow/internal/services/export"
)

// ActionResponse answers a start or stop request with the session state it left behind
type ActionResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	RunID   string         `json:"run_id,omitempty"`
	Export  *export.Status `json:"export,omitempty"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// RequireMethod writes a 405 with an Allow header unless the request uses method
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteAction writes a 200 action response carrying a snapshot of the session
func WriteAction(w http.ResponseWriter, status, message string, snapshot export.Status) error {
	return WriteJSON(w, http.StatusOK, ActionResponse{
		Status:  status,
		Message: message,
		RunID:   snapshot.RunID,
		Export:  &snapshot,
	})
}

func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, ErrorResponse{Status: "error", Error: message})
}

// WriteSessionError maps session state conflicts to 409 and anything else to 500
func WriteSessionError(w http.ResponseWriter, err error) error {
	if errors.Is(err, export.ErrAlreadyRunning) || errors.Is(err, export.ErrNotRunning) {
		return WriteError(w, http.StatusConflict, err.Error())
	}
	return WriteError(w, http.StatusInternalServerError, err.Error())
}
