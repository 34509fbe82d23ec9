package ws

import (
	"sync"
	"time"
)

// writeTimeout bounds every outbound frame. A socket that cannot accept a
// write within this window is treated as broken.
const writeTimeout = 5 * time.Second

// Socket is the transport handle behind a Conn. *websocket.Conn satisfies it.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live real-time session. A user may own many. The Hub owns the
// lifecycle; no other component holds the socket.
type Conn struct {
	ID          string
	Username    string
	ConnectedAt time.Time

	sock Socket

	mu           sync.Mutex // serializes writes, guards the fields below
	lastActivity time.Time
	lastPong     time.Time
	closed       bool
	done         chan struct{}
}

func newConn(username string, sock Socket) *Conn {
	now := time.Now()
	return &Conn{
		ID:           newConnID(),
		Username:     username,
		ConnectedAt:  now,
		sock:         sock,
		lastActivity: now,
		lastPong:     now,
		done:         make(chan struct{}),
	}
}

// write sends one frame under the write deadline. Writes to a closed Conn
// are no-ops so sends may race removal safely.
func (c *Conn) write(payload []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, nil
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.sock.WriteMessage(textMessage, payload); err != nil {
		return false, err
	}
	return true, nil
}

// touch refreshes the activity clock. Any inbound frame counts as liveness,
// not just pongs.
func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// pong records a heartbeat response.
func (c *Conn) pong() {
	c.mu.Lock()
	now := time.Now()
	c.lastPong = now
	c.lastActivity = now
	c.mu.Unlock()
}

func (c *Conn) sinceActivity() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// close marks the Conn dead and closes the transport. Idempotent.
func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	_ = c.sock.Close()
}
