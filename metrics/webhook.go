package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/gatehouse/internal/secret"
)

// webhookQueueSize is the bounded channel capacity for outbound alerts.
const webhookQueueSize = 256

// Webhook delivers alerts to an external HTTP endpoint. Notify never blocks:
// alerts are queued and sent by a background goroutine, and dropped when the
// queue is full.
type Webhook struct {
	url        string
	header     secret.Value
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	alerts     chan AlertEvent
	wg         sync.WaitGroup
}

// NewWebhook starts a dispatcher posting JSON alerts to url. header, when
// set, holds one "Name: value" pair added to every request.
func NewWebhook(url string, header secret.Value, logger *slog.Logger) *Webhook {
	w := &Webhook{
		url:        url,
		header:     header,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "alert_webhook"),
		retryDelay: time.Second,
		alerts:     make(chan AlertEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Notify queues e for delivery. It has the AlertFunc signature.
func (w *Webhook) Notify(e AlertEvent) {
	select {
	case w.alerts <- e:
	default:
		w.logger.Warn("queue full, dropping alert", slog.String("type", string(e.Type)))
	}
}

// Close stops accepting alerts and waits for queued ones to be sent.
func (w *Webhook) Close() {
	close(w.alerts)
	w.wg.Wait()
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for e := range w.alerts {
		w.send(e)
	}
}

// send POSTs the alert with one retry on transport errors and 5xx.
func (w *Webhook) send(e AlertEvent) {
	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("marshal failed", slog.Any("error", err))
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", slog.Any("error", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Gatehouse-Alert-Webhook/1.0")
		if w.header.IsSet() {
			_ = w.header.Use(func(plain []byte) {
				name, value, ok := strings.Cut(string(plain), ":")
				if ok {
					req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
				}
			})
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", slog.Any("error", err), slog.Int("attempt", attempt))
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt))
		default:
			w.logger.Warn("client error", slog.Int("status", resp.StatusCode))
			return
		}
	}
}
