package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // ops surface sits behind the deployment proxy
	},
}

const (
	eventBacklog  = 64
	writeDeadline = 5 * time.Second
)

// Event is one breaker transition pushed to subscribers.
type Event struct {
	Type     string    `json:"type"`
	Resource string    `json:"resource"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	At       time.Time `json:"at"`
}

// Hub pushes breaker state changes to connected dashboards. Broadcast only
// enqueues; a single pump goroutine does the socket writes, so a slow or dead
// subscriber can never stall the caller reporting the transition. When the
// backlog fills, events are dropped — the status endpoint remains the source
// of truth, the stream is best-effort.
type Hub struct {
	log    *logging.Logger
	events chan Event
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a hub and starts its delivery pump.
func NewHub(log *logging.Logger) *Hub {
	h := &Hub{
		log:     log,
		events:  make(chan Event, eventBacklog),
		done:    make(chan struct{}),
		clients: make(map[*websocket.Conn]struct{}),
	}
	go h.pump()
	return h
}

// Broadcast enqueues ev for delivery to every connected subscriber. It never
// blocks.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Debug("event backlog full, dropping broadcast",
			zap.String("resource", ev.Resource),
			zap.String("to", ev.To),
		)
	}
}

// Close stops the delivery pump.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

// Subscribers returns the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) pump() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// deliver writes ev to every subscriber. The registry mutex is held only to
// snapshot and evict, never across a socket write.
func (h *Hub) deliver(ev Event) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	var dead []*websocket.Conn
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(ev); err != nil {
			dead = append(dead, conn)
		}
	}
	if len(dead) == 0 {
		return
	}

	h.mu.Lock()
	for _, conn := range dead {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

// HandleConnection upgrades the request and keeps the connection registered
// until the client goes away. The hello is written before registration, so
// the pump is the connection's only writer afterwards.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(Event{Type: "connected", At: time.Now().UTC()}); err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Drain reads until close; subscribers only listen.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}
