package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
)

func newTestStream(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(logging.NewNop())
	t.Cleanup(hub.Close)
	router := gin.New()
	router.GET("/ws", hub.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

// waitSubscribed blocks until the handler has registered the connection, so a
// broadcast cannot slip in between the hello and registration.
func waitSubscribed(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, hub.Subscribers())
}

func TestStreamDeliversStateChanges(t *testing.T) {
	hub, conn := newTestStream(t)

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)
	waitSubscribed(t, hub, 1)

	hub.Broadcast(Event{
		Type:     "state_change",
		Resource: "quotes",
		From:     "closed",
		To:       "open",
		At:       time.Now().UTC(),
	})

	var ev Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "state_change", ev.Type)
	assert.Equal(t, "quotes", ev.Resource)
	assert.Equal(t, "closed", ev.From)
	assert.Equal(t, "open", ev.To)
}

func TestBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(logging.NewNop())
	hub.Close() // stop the pump so nothing drains the backlog

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBacklog*2; i++ {
			hub.Broadcast(Event{Type: "state_change", Resource: "quotes"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full backlog")
	}
}

func TestStreamDropsDeadSubscribers(t *testing.T) {
	hub, conn := newTestStream(t)

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	waitSubscribed(t, hub, 1)

	conn.Close()

	// Broadcasting into the closed connection evicts it.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() > 0 && time.Now().Before(deadline) {
		hub.Broadcast(Event{Type: "state_change", Resource: "fred"})
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.Subscribers())
}
