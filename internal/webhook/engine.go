package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/observability"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/telemetry"
)

// queueSize bounds the handoff queue. A full queue drops the task rather
// than blocking the delivery router.
const queueSize = 1024

// maxConcurrent caps in-flight HTTP attempts across all tasks.
const maxConcurrent = 32

// Auditor receives operator-facing notices about abandoned deliveries.
type Auditor interface {
	Emit(ctx context.Context, level, text string, username *string)
}

type task struct {
	endpoint string
	username string
	payload  []byte
	attempt  int
}

// Engine delivers message payloads to recipient webhook endpoints with
// bounded retries. Handoff is fire-and-forget: the caller learns nothing
// about the outcome, which surfaces only in logs, metrics and audit events.
type Engine struct {
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration
	auditor     Auditor

	tasks chan task
	sem   chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewEngine starts a delivery engine. timeout bounds each HTTP attempt,
// maxAttempts and backoffBase shape the retry schedule (backoffBase << n
// after attempt n).
func NewEngine(timeout time.Duration, maxAttempts int, backoffBase time.Duration, auditor Auditor) *Engine {
	e := &Engine{
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		auditor:     auditor,
		tasks:       make(chan task, queueSize),
		sem:         make(chan struct{}, maxConcurrent),
		done:        make(chan struct{}),
	}
	go e.dispatch()
	return e
}

// Deliver enqueues one payload for the endpoint. Never blocks: when the
// queue is full the task is dropped and counted, the message stays
// retrievable from storage.
func (e *Engine) Deliver(endpoint, username string, payload models.MessageResponse) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhook marshal error user=%s: %v", username, err)
		return
	}
	e.enqueue(task{endpoint: endpoint, username: username, payload: body, attempt: 0})
}

// Close stops accepting tasks and waits for in-flight attempts. Pending
// retries scheduled in the future are abandoned.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()
	<-e.done
	e.wg.Wait()
}

func (e *Engine) enqueue(t task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.tasks <- t:
	default:
		observability.IncWebhookAttempt("dropped")
		log.Printf("webhook queue full, dropping delivery user=%s", t.username)
	}
}

func (e *Engine) dispatch() {
	defer close(e.done)
	for t := range e.tasks {
		e.sem <- struct{}{}
		e.wg.Add(1)
		go func(t task) {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			e.attempt(t)
		}(t)
	}
}

// attempt runs one HTTP POST and decides between success, reschedule and
// abandonment.
func (e *Engine) attempt(t task) {
	err := e.post(t)
	if err == nil {
		observability.IncWebhookAttempt("success")
		if t.attempt > 0 {
			log.Printf("webhook delivered user=%s attempt=%d", t.username, t.attempt+1)
		}
		return
	}

	observability.IncWebhookAttempt("failure")
	log.Printf("webhook attempt %d/%d failed user=%s: %v", t.attempt+1, e.maxAttempts, t.username, err)

	if t.attempt+1 >= e.maxAttempts {
		observability.IncWebhookExhausted()
		username := t.username
		log.Printf("webhook exhausted user=%s endpoint dropped after %d attempts", t.username, e.maxAttempts)
		if e.auditor != nil {
			e.auditor.Emit(context.Background(), "warning",
				fmt.Sprintf("webhook delivery to %s abandoned after %d attempts", t.username, e.maxAttempts),
				&username)
		}
		return
	}

	next := t
	next.attempt++
	// Timer-driven reschedule keeps the worker free between attempts.
	time.AfterFunc(e.backoff(t.attempt), func() {
		e.enqueue(next)
	})
}

// backoff returns the delay after failed attempt n (0-based): base, 2*base,
// 4*base.
func (e *Engine) backoff(attempt int) time.Duration {
	return e.backoffBase << attempt
}

func (e *Engine) post(t task) error {
	req, err := http.NewRequest(http.MethodPost, t.endpoint, bytes.NewReader(t.payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ Auditor = (*telemetry.AuditEmitter)(nil)
