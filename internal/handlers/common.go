package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"flashpair-backend/internal/common"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{common.ErrNotFound, http.StatusNotFound},
	{common.ErrForbidden, http.StatusForbidden},
	{common.ErrInvalidCode, http.StatusBadRequest},
	{common.ErrCodeExpired, http.StatusBadRequest},
	{common.ErrSelfPairing, http.StatusBadRequest},
	{common.ErrNotPaired, http.StatusBadRequest},
	{common.ErrAlreadyPaired, http.StatusConflict},
	{common.ErrTargetAlreadyPaired, http.StatusConflict},
	{common.ErrSlotOccupied, http.StatusConflict},
	{common.ErrGone, http.StatusGone},
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondJSON sends body as JSON
func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondServiceError maps a service error to its HTTP status. Storage faults are logged and hidden.
func respondServiceError(w http.ResponseWriter, err error, userID, action string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			log.Debug().Err(err).Str("user_id", userID).Msg(action + " rejected")
			respondError(w, e.err.Error(), e.status)
			return
		}
	}

	log.Error().Err(err).Str("user_id", userID).Msg(action + " failed")
	respondError(w, "Internal server error", http.StatusInternalServerError)
}
