package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"flashpair-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// WS event types
const (
	EventPairCreated   = "pair_created"
	EventPairDeleted   = "pair_deleted"
	EventPairStatus    = "pair_status"
	EventPartnerStatus = "partner_status"
	EventNewImage      = "new_image"
	EventNoImage       = "no_image"
	EventImageViewed   = "image_viewed"
	EventError         = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`
	ImageID   string      `json:"image_id,omitempty"`
	Online    *bool       `json:"online,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// wsConn serialises writes, gorilla connections allow only one concurrent writer
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections, one per user
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]*wsConn
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		connections: make(map[string]*wsConn),
	}
}

// Register registers a new WebSocket connection for a user, closing any previous one
func (h *WSHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, exists := h.connections[userID]; exists {
		existing.conn.Close()
	}
	h.connections[userID] = &wsConn{conn: conn}

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
}

// Unregister removes the user's connection if it is still conn
func (h *WSHub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, exists := h.connections[userID]
	if !exists || existing.conn != conn {
		return
	}
	existing.conn.Close()
	delete(h.connections, userID)
	log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
}

// Close drops every connection
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, c := range h.connections {
		c.conn.Close()
		delete(h.connections, userID)
	}
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	c, exists := h.connections[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %s is not connected", userID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.write(data); err != nil {
		h.Unregister(userID, c.conn)
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.connections[userID]
	return exists
}

// NotifyPartnerStatus tells the partner that userID went online or offline
func (h *WSHub) NotifyPartnerStatus(partnerID string, online bool) {
	if partnerID == "" || !h.IsOnline(partnerID) {
		return
	}
	h.send(partnerID, WSMessage{Type: EventPartnerStatus, Online: &online})
}

// NotifyPairCreated notifies the code holder that someone paired with them
func (h *WSHub) NotifyPairCreated(partnerID string, pair *models.Pair) {
	h.send(partnerID, WSMessage{
		Type: EventPairCreated,
		Data: map[string]interface{}{
			"pair_id":    pair.ID,
			"user1_id":   pair.User1ID,
			"user2_id":   pair.User2ID,
			"created_at": pair.CreatedAt,
		},
	})
}

// NotifyPairDeleted notifies the partner when a pair is dissolved
func (h *WSHub) NotifyPairDeleted(partnerID string) {
	h.send(partnerID, WSMessage{Type: EventPairDeleted})
}

// NotifyNewImage tells the receiver an image is waiting. It reports whether the receiver was online.
func (h *WSHub) NotifyNewImage(msg *models.Message) bool {
	if !h.IsOnline(msg.ReceiverID) {
		return false
	}
	return h.send(msg.ReceiverID, NewImageEvent(msg)) == nil
}

// NotifyImageViewed tells the sender their image was opened
func (h *WSHub) NotifyImageViewed(msg *models.Message) {
	var expiresAt int64
	if msg.ExpiresAt != nil {
		expiresAt = msg.ExpiresAt.UnixMilli()
	}
	h.send(msg.SenderID, WSMessage{
		Type:      EventImageViewed,
		ImageID:   msg.ID,
		Timestamp: expiresAt,
	})
}

// NewImageEvent is the new_image event announcing msg
func NewImageEvent(msg *models.Message) WSMessage {
	return WSMessage{
		Type:      EventNewImage,
		ImageID:   msg.ID,
		Timestamp: msg.SentAt.UnixMilli(),
		Data: map[string]interface{}{
			"sender_id":    msg.SenderID,
			"content_type": msg.ContentType,
			"sent_at":      msg.SentAt,
		},
	}
}

// send delivers best effort; offline users are skipped quietly
func (h *WSHub) send(userID string, message WSMessage) error {
	if !h.IsOnline(userID) {
		return fmt.Errorf("user %s is not connected", userID)
	}
	err := h.SendToUser(userID, message)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("type", message.Type).Msg("Failed to deliver WebSocket event")
	}
	return err
}
