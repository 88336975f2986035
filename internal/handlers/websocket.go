package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"flashpair-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // native clients send no Origin
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub            *services.WSHub
	userService    *services.UserService
	pairService    *services.PairService
	messageService *services.MessageService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	pairService *services.PairService,
	messageService *services.MessageService,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		userService:    userService,
		pairService:    pairService,
		messageService: messageService,
	}
}

// HandleWebSocket handles GET /ws?token=...
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.userService.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.hub.Register(userID, conn)
	ctx := r.Context()
	partnerID := h.sendPairStatus(ctx, userID)
	h.hub.NotifyPartnerStatus(partnerID, true)

	defer func() {
		h.hub.Unregister(userID, conn)
		// a replacing connection keeps the user online
		if !h.hub.IsOnline(userID) {
			h.hub.NotifyPartnerStatus(partnerID, false)
		}
	}()

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			return
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			h.sendError(userID, "Invalid message format")
			continue
		}

		h.handleMessage(ctx, userID, msg)
	}
}

// sendPairStatus tells a fresh connection whether it is paired and returns the partner ID
func (h *WebSocketHandler) sendPairStatus(ctx context.Context, userID string) string {
	status, err := h.pairService.Status(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load pair status")
		return ""
	}

	data := map[string]interface{}{"has_pair": status.IsPaired}
	if status.IsPaired {
		data["pair_id"] = status.PairID
		data["partner_id"] = status.PairedWith
		data["partner_online"] = h.hub.IsOnline(status.PairedWith)
	}
	if err := h.hub.SendToUser(userID, services.WSMessage{Type: services.EventPairStatus, Data: data}); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send pair_status message")
	}
	return status.PairedWith
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, userID string, msg services.WSMessage) {
	switch msg.Type {
	case "check_image":
		h.handleCheckImage(ctx, userID)
	case "ping":
		_ = h.hub.SendToUser(userID, services.WSMessage{Type: "pong"})
	default:
		h.sendError(userID, "Unknown message type")
	}
}

func (h *WebSocketHandler) handleCheckImage(ctx context.Context, userID string) {
	pending, err := h.messageService.PeekNew(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to check images")
		h.sendError(userID, "Failed to check images")
		return
	}

	reply := services.WSMessage{Type: services.EventNoImage}
	if pending != nil {
		reply = services.NewImageEvent(pending)
	}
	if err := h.hub.SendToUser(userID, reply); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to answer check_image")
	}
}

func (h *WebSocketHandler) sendError(userID, message string) {
	_ = h.hub.SendToUser(userID, services.WSMessage{Type: services.EventError, Message: message})
}
