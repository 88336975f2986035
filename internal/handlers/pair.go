package handlers

import (
	"encoding/json"
	"net/http"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/middleware"
	"flashpair-backend/internal/models"
	"flashpair-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// PairHandler handles pair-related HTTP requests
type PairHandler struct {
	pairService *services.PairService
	wsHub       *services.WSHub
}

// NewPairHandler creates a new pair handler
func NewPairHandler(pairService *services.PairService, wsHub *services.WSHub) *PairHandler {
	return &PairHandler{
		pairService: pairService,
		wsHub:       wsHub,
	}
}

// ConnectRequest represents the request body for consuming a pairing code
type ConnectRequest struct {
	PairingCode string `json:"pairing_code"`
}

// ConnectResponse is returned after a successful connect
type ConnectResponse struct {
	Message string       `json:"message"`
	Pair    *models.Pair `json:"pair"`
}

// GenerateCode handles POST /api/v1/pair/generate
func (h *PairHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	code, err := h.pairService.IssueCode(ctx, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Generate pairing code")
		return
	}

	respondJSON(w, http.StatusOK, code)
}

// Connect handles POST /api/v1/pair/connect
func (h *PairHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PairingCode == "" {
		respondError(w, "pairing_code is required", http.StatusBadRequest)
		return
	}
	if !services.IsValidCode(req.PairingCode) {
		respondError(w, common.ErrInvalidCode.Error(), http.StatusBadRequest)
		return
	}

	pair, err := h.pairService.Connect(ctx, userID, req.PairingCode)
	if err != nil {
		respondServiceError(w, err, userID, "Connect")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("partner_id", pair.PartnerOf(userID)).
		Str("pair_id", pair.ID).
		Msg("Pair created")

	h.wsHub.NotifyPairCreated(pair.PartnerOf(userID), pair)
	h.wsHub.NotifyPairCreated(userID, pair)

	respondJSON(w, http.StatusOK, ConnectResponse{Message: "Paired successfully", Pair: pair})
}

// Disconnect handles DELETE /api/v1/pair/disconnect
func (h *PairHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pair, err := h.pairService.Disconnect(ctx, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Disconnect")
		return
	}
	if pair == nil {
		respondJSON(w, http.StatusOK, MessageResponse{Message: "Not paired with anyone"})
		return
	}

	partnerID := pair.PartnerOf(userID)
	log.Info().
		Str("user_id", userID).
		Str("partner_id", partnerID).
		Str("pair_id", pair.ID).
		Msg("Pair dissolved")

	h.wsHub.NotifyPairDeleted(partnerID)

	respondJSON(w, http.StatusOK, MessageResponse{Message: "Disconnected"})
}

// Status handles GET /api/v1/pair/status
func (h *PairHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	status, err := h.pairService.Status(ctx, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Pair status")
		return
	}

	respondJSON(w, http.StatusOK, status)
}
