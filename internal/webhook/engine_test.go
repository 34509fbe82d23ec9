package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
)

type recordingAuditor struct {
	mu    sync.Mutex
	texts []string
}

func (a *recordingAuditor) Emit(ctx context.Context, level, text string, username *string) {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.mu.Unlock()
}

func (a *recordingAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.texts)
}

func (a *recordingAuditor) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		return ""
	}
	return a.texts[len(a.texts)-1]
}

func testPayload() models.MessageResponse {
	now := time.Now().UTC()
	return models.NewMessageResponse(models.Message{
		ID:           uuid.New(),
		FromUsername: "alice",
		Content:      "hello",
		MessageType:  models.MessageTypeRoom,
		CreatedAt:    now,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond())
}

func TestEngineDeliversPayload(t *testing.T) {
	received := make(chan models.MessageResponse, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload models.MessageResponse
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := NewEngine(time.Second, 3, time.Millisecond, nil)
	defer engine.Close()

	want := testPayload()
	engine.Deliver(server.URL, "bob", want)

	select {
	case got := <-received:
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Content, got.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the payload")
	}
}

func TestEngineRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		current := calls
		mu.Unlock()
		if current < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	auditor := &recordingAuditor{}
	engine := NewEngine(time.Second, 3, time.Millisecond, auditor)
	defer engine.Close()

	engine.Deliver(server.URL, "bob", testPayload())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 3
	})

	assert.Equal(t, 0, auditor.count(), "successful delivery must not raise an audit event")
}

func TestEngineAbandonsAfterRetryBudget(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	auditor := &recordingAuditor{}
	engine := NewEngine(time.Second, 3, time.Millisecond, auditor)
	defer engine.Close()

	engine.Deliver(server.URL, "bob", testPayload())

	waitFor(t, func() bool { return auditor.count() == 1 })

	mu.Lock()
	assert.Equal(t, 3, calls, "must stop after the attempt budget")
	mu.Unlock()
	assert.Contains(t, auditor.last(), "bob")
}

func TestEngineTreatsRedirectStatusAsFailure(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusMultipleChoices)
	}))
	defer server.Close()

	engine := NewEngine(time.Second, 2, time.Millisecond, nil)
	defer engine.Close()

	engine.Deliver(server.URL, "bob", testPayload())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

func TestBackoffDoublesFromBase(t *testing.T) {
	engine := NewEngine(time.Second, 3, time.Second, nil)
	defer engine.Close()

	assert.Equal(t, time.Second, engine.backoff(0))
	assert.Equal(t, 2*time.Second, engine.backoff(1))
	assert.Equal(t, 4*time.Second, engine.backoff(2))
}

func TestEngineDeliverAfterCloseIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected after close")
	}))
	defer server.Close()

	engine := NewEngine(time.Second, 3, time.Millisecond, nil)
	engine.Close()

	engine.Deliver(server.URL, "bob", testPayload())
	time.Sleep(50 * time.Millisecond)
}
