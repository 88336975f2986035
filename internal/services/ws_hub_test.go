package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flashpair-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hubServer registers every dialled connection under the user query parameter
func hubServer(t *testing.T, hub *WSHub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		userID := r.URL.Query().Get("user")
		hub.Register(userID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				hub.Unregister(userID, conn)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialHub(t *testing.T, srv *httptest.Server, hub *WSHub, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?user="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.IsOnline(userID) }, time.Second, time.Millisecond)
	return conn
}

func readHubEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWSHub_Notify(t *testing.T) {
	hub := NewWSHub()
	srv := hubServer(t, hub)
	conn := dialHub(t, srv, hub, "b")

	msg := &models.Message{ID: "img-1", SenderID: "a", ReceiverID: "b", SentAt: t0, ContentType: "image/png"}
	assert.True(t, hub.NotifyNewImage(msg))
	event := readHubEvent(t, conn)
	assert.Equal(t, EventNewImage, event.Type)
	assert.Equal(t, "img-1", event.ImageID)
	assert.Equal(t, t0.UnixMilli(), event.Timestamp)

	hub.NotifyPartnerStatus("b", true)
	event = readHubEvent(t, conn)
	assert.Equal(t, EventPartnerStatus, event.Type)
	require.NotNil(t, event.Online)
	assert.True(t, *event.Online)

	hub.NotifyPairDeleted("b")
	assert.Equal(t, EventPairDeleted, readHubEvent(t, conn).Type)

	// offline users are skipped
	offline := &models.Message{ID: "img-2", SenderID: "b", ReceiverID: "nobody", SentAt: t0}
	assert.False(t, hub.NotifyNewImage(offline))
	assert.Error(t, hub.SendToUser("nobody", WSMessage{Type: EventNoImage}))
}

func TestWSHub_ReplacesAndUnregisters(t *testing.T) {
	hub := NewWSHub()
	srv := hubServer(t, hub)

	first := dialHub(t, srv, hub, "u")
	second := dialHub(t, srv, hub, "u")

	// the first connection was closed by the second registration
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// the stale connection's unregister must not drop the new one
	assert.True(t, hub.IsOnline("u"))
	hub.NotifyPairDeleted("u")
	assert.Equal(t, EventPairDeleted, readHubEvent(t, second).Type)

	second.Close()
	assert.Eventually(t, func() bool { return !hub.IsOnline("u") }, time.Second, time.Millisecond)
}

func TestWSHub_Close(t *testing.T) {
	hub := NewWSHub()
	srv := hubServer(t, hub)
	dialHub(t, srv, hub, "x")

	hub.Close()
	assert.False(t, hub.IsOnline("x"))
}
