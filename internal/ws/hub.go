package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/observability"
)

const textMessage = websocket.TextMessage

// Hub is the connection registry: it tracks which users have live sessions,
// fans payloads out to them and reclaims connections whose heartbeat went
// silent.
type Hub struct {
	interval time.Duration
	timeout  time.Duration

	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

// NewHub creates an empty hub. timeout must exceed interval; connections
// with no activity inside the timeout window are forcibly unregistered.
func NewHub(interval, timeout time.Duration) *Hub {
	return &Hub{
		interval: interval,
		timeout:  timeout,
		conns:    make(map[string]map[*Conn]struct{}),
	}
}

// Register adds a session for the user and starts its heartbeat. Additional
// registrations for the same user add entries, they never replace existing
// ones.
func (h *Hub) Register(username string, sock Socket) *Conn {
	conn := newConn(username, sock)

	h.mu.Lock()
	if _, ok := h.conns[username]; !ok {
		h.conns[username] = make(map[*Conn]struct{})
	}
	h.conns[username][conn] = struct{}{}
	count := len(h.conns[username])
	h.mu.Unlock()

	go h.heartbeatLoop(conn)

	observability.IncWSActive()
	log.Printf("ws connected user=%s conn=%s sessions=%d", username, conn.ID, count)
	return conn
}

// Unregister removes a session. Idempotent, and safe to race with sends:
// a send to a just-removed Conn is a no-op, not an error.
func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	removed := false
	if conns, ok := h.conns[conn.Username]; ok {
		if _, present := conns[conn]; present {
			delete(conns, conn)
			removed = true
			if len(conns) == 0 {
				delete(h.conns, conn.Username)
			}
		}
	}
	h.mu.Unlock()

	conn.close()
	if removed {
		observability.DecWSActive()
		log.Printf("ws disconnected user=%s conn=%s", conn.Username, conn.ID)
	}
}

// IsOnline reports whether the user has at least one live session.
func (h *Hub) IsOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[username]) > 0
}

// OnlineUsers returns every user with at least one live session.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.conns))
	for username := range h.conns {
		users = append(users, username)
	}
	return users
}

// SendTo pushes the event to every live session of the user and returns how
// many sessions actually received it. 0 means effectively offline.
func (h *Hub) SendTo(username string, event models.WSEvent) int {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return 0
	}
	return h.sendPayload(h.snapshot(username), payload)
}

// Broadcast pushes the event to every session except those belonging to
// excludeUsername. Returns the delivered session count.
func (h *Hub) Broadcast(event models.WSEvent, excludeUsername string) int {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return 0
	}

	h.mu.RLock()
	var targets []*Conn
	for username, conns := range h.conns {
		if username == excludeUsername {
			continue
		}
		for conn := range conns {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	return h.sendPayload(targets, payload)
}

// Touch refreshes the activity clock for a session.
func (h *Hub) Touch(conn *Conn) {
	conn.touch()
}

// Pong records a heartbeat response for a session.
func (h *Hub) Pong(conn *Conn) {
	conn.pong()
}

func (h *Hub) snapshot(username string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.conns[username]))
	for conn := range h.conns[username] {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) sendPayload(targets []*Conn, payload []byte) int {
	sent := 0
	for _, conn := range targets {
		delivered, err := conn.write(payload)
		if err != nil {
			log.Printf("ws write error user=%s conn=%s: %v", conn.Username, conn.ID, err)
			observability.IncWSEvent("ws_error")
			h.Unregister(conn)
			continue
		}
		if delivered {
			sent++
		}
	}
	return sent
}

// heartbeatLoop probes one session until it is unregistered or goes stale.
// A session with no activity for the timeout window is forcibly removed and
// its transport closed, reclaiming connections that died without a close
// frame.
func (h *Hub) heartbeatLoop(conn *Conn) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if idle := conn.sinceActivity(); idle > h.timeout {
				log.Printf("ws stale user=%s conn=%s idle=%s", conn.Username, conn.ID, idle.Round(time.Second))
				observability.IncWSEvent("ws_stale")
				_ = observability.PublishEvent(context.Background(), "ws_events.stale", observability.EventEnvelope{
					EventType: "ws_events",
					EventName: "ws_stale",
					Payload: map[string]interface{}{
						"username":    conn.Username,
						"conn_id":     conn.ID,
						"idle_ms":     idle.Milliseconds(),
						"duration_ms": time.Since(conn.ConnectedAt).Milliseconds(),
					},
				}, nil)
				h.Unregister(conn)
				return
			}

			ping := models.WSEvent{
				Type:      models.WSEventPing,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			}
			payload, _ := json.Marshal(ping)
			if _, err := conn.write(payload); err != nil {
				log.Printf("ws ping failed user=%s conn=%s: %v", conn.Username, conn.ID, err)
				h.Unregister(conn)
				return
			}
		}
	}
}
