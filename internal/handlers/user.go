package handlers

import (
	"encoding/json"
	"net/http"

	"flashpair-backend/internal/middleware"
	"flashpair-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// PushTokenRequest sets or, when empty, clears the APNs device token
type PushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	created, err := h.userService.CreateUser(r.Context())
	if err != nil {
		respondServiceError(w, err, "", "Create user")
		return
	}

	log.Info().Str("user_id", created.User.ID).Msg("User created")
	respondJSON(w, http.StatusOK, created)
}

// UpdatePushToken handles PUT /api/v1/users/push-token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req PushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var token *string
	if req.PushToken != "" {
		token = &req.PushToken
	}
	if err := h.userService.UpdatePushToken(ctx, userID, token); err != nil {
		respondServiceError(w, err, userID, "Update push token")
		return
	}

	respondJSON(w, http.StatusOK, MessageResponse{Message: "Push token updated"})
}
