package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
)

type fakeSocket struct {
	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	failWrite bool
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("broken pipe")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// testHub uses a long heartbeat so the loop never interferes unless a test
// wants it to.
func testHub() *Hub {
	return NewHub(time.Hour, 2*time.Hour)
}

func TestRegisterAndUnregister(t *testing.T) {
	hub := testHub()

	conn := hub.Register("alice", &fakeSocket{})
	assert.True(t, hub.IsOnline("alice"))
	assert.NotEmpty(t, conn.ID)

	hub.Unregister(conn)
	assert.False(t, hub.IsOnline("alice"))

	// Idempotent.
	hub.Unregister(conn)
	assert.False(t, hub.IsOnline("alice"))
}

func TestMultipleSessionsPerUser(t *testing.T) {
	hub := testHub()

	first := hub.Register("alice", &fakeSocket{})
	second := hub.Register("alice", &fakeSocket{})

	assert.True(t, hub.IsOnline("alice"))

	sent := hub.SendTo("alice", models.WSEvent{Type: models.WSEventMessage})
	assert.Equal(t, 2, sent)

	hub.Unregister(first)
	assert.True(t, hub.IsOnline("alice"), "user stays online while any session remains")

	hub.Unregister(second)
	assert.False(t, hub.IsOnline("alice"))
}

func TestSendToOfflineUser(t *testing.T) {
	hub := testHub()
	assert.Equal(t, 0, hub.SendTo("ghost", models.WSEvent{Type: models.WSEventMessage}))
}

func TestSendToClosedConnIsNoop(t *testing.T) {
	hub := testHub()
	sock := &fakeSocket{}
	conn := hub.Register("alice", sock)

	// Simulate the send/remove race: the conn closes between snapshot and
	// write. Delivery reports 0, no error, no frame.
	conn.close()
	sent := hub.SendTo("alice", models.WSEvent{Type: models.WSEventMessage})

	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, sock.frameCount())
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := testHub()
	aliceSock := &fakeSocket{}
	bobSock := &fakeSocket{}
	hub.Register("alice", aliceSock)
	hub.Register("bob", bobSock)

	sent := hub.Broadcast(models.WSEvent{Type: models.WSEventMessage}, "alice")

	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, aliceSock.frameCount())
	assert.Equal(t, 1, bobSock.frameCount())
}

func TestWriteErrorUnregistersConn(t *testing.T) {
	hub := testHub()
	sock := &fakeSocket{failWrite: true}
	hub.Register("alice", sock)

	sent := hub.SendTo("alice", models.WSEvent{Type: models.WSEventMessage})

	assert.Equal(t, 0, sent)
	assert.False(t, hub.IsOnline("alice"))
	assert.True(t, sock.isClosed())
}

func TestOnlineUsers(t *testing.T) {
	hub := testHub()
	hub.Register("alice", &fakeSocket{})
	hub.Register("alice", &fakeSocket{})
	hub.Register("bob", &fakeSocket{})

	online := hub.OnlineUsers()
	assert.ElementsMatch(t, []string{"alice", "bob"}, online)
}

func TestHeartbeatRemovesStaleConn(t *testing.T) {
	hub := NewHub(10*time.Millisecond, 30*time.Millisecond)
	sock := &fakeSocket{}
	hub.Register("alice", sock)

	require.Eventually(t, func() bool {
		return !hub.IsOnline("alice")
	}, 2*time.Second, 5*time.Millisecond, "silent conn must be reclaimed after the timeout")

	assert.True(t, sock.isClosed())
	assert.Equal(t, 0, hub.SendTo("alice", models.WSEvent{Type: models.WSEventMessage}))
}

func TestHeartbeatKeepsActiveConnAlive(t *testing.T) {
	hub := NewHub(10*time.Millisecond, 50*time.Millisecond)
	sock := &fakeSocket{}
	conn := hub.Register("alice", sock)

	// Keep touching for several timeout windows.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		hub.Pong(conn)
		time.Sleep(10 * time.Millisecond)
	}

	assert.True(t, hub.IsOnline("alice"))
	assert.Greater(t, sock.frameCount(), 0, "pings must have been sent")

	hub.Unregister(conn)
}
