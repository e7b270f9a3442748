package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound audit events.
const webhookQueueSize = 1024

// webhookPayload is the JSON body POSTed to the external endpoint.
type webhookPayload struct {
	Application string            `json:"app"`
	Event       string            `json:"event"`
	Level       string            `json:"level"`
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	DurationMS  int64             `json:"duration_ms"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// WebhookSink forwards events to an external HTTP endpoint. Events are
// queued without blocking and sent by a background goroutine; when the
// queue is full they are dropped.
type WebhookSink struct {
	url        string
	authHeader string // "Header: Value"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan webhookPayload
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWebhookSink starts a webhook dispatcher. Close must be called to
// drain the queue.
func NewWebhookSink(url, authHeader string, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebhookSink{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "audit_webhook"),
		retryDelay: time.Second,
		events:     make(chan webhookPayload, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *WebhookSink) Emit(_ context.Context, e *Event) error {
	fields := e.Fields()
	p := webhookPayload{
		Application: e.ApplicationName,
		Event:       e.Name,
		Level:       e.Level.String(),
		Status:      e.Status.String(),
		Timestamp:   e.Timestamp.Format(time.RFC3339Nano),
		DurationMS:  e.Duration.Milliseconds(),
	}
	if len(fields) > 0 {
		p.Fields = make(map[string]string, len(fields))
		for _, f := range fields {
			p.Fields[f.Name] = f.Value
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("sink closed, dropping event", "event", p.Event)
		return nil
	}
	select {
	case w.events <- p:
	default:
		w.logger.Warn("queue full, dropping event", "event", p.Event)
	}
	return nil
}

// Close stops the dispatcher after sending queued events. Events emitted
// afterwards are dropped.
func (w *WebhookSink) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.events)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *WebhookSink) loop() {
	defer w.wg.Done()
	for p := range w.events {
		w.send(p)
	}
}

// send POSTs the payload with one retry on 5xx or transport errors.
func (w *WebhookSink) send(p webhookPayload) {
	body, err := json.Marshal(p)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "IronCA-Audit-Webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		w.logger.Warn("client error", "status", resp.StatusCode)
		return
	}
}
