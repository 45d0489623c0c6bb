package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/painelssh/sshpanel/internal/agent"
	"github.com/painelssh/sshpanel/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeServiceError maps the shared error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var ae *agent.Error
	switch {
	case apperr.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ae):
		writeError(w, http.StatusBadGateway, "Agent error: "+ae.Kind.String())
	default:
		log.Printf("[api] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// mutationResponse is the envelope of every state-changing endpoint.
// Warning is set when the change was committed but not mirrored remotely.
type mutationResponse struct {
	Success bool        `json:"success"`
	Warning string      `json:"warning,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeMutation(w http.ResponseWriter, status int, warning string, data interface{}) {
	writeJSON(w, status, mutationResponse{Success: true, Warning: warning, Data: data})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func urlID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}
