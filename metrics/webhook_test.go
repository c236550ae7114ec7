package metrics

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/internal/secret"
)

func newTestWebhook(url string, header secret.Value) *Webhook {
	w := NewWebhook(url, header, slog.New(slog.DiscardHandler))
	w.retryDelay = time.Millisecond
	return w
}

func testAlert() AlertEvent {
	return AlertEvent{
		Type:      AlertLoginFailureSpike,
		Message:   "login failure rate exceeds threshold",
		Count:     50,
		Threshold: 50,
		Timestamp: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
	}
}

func TestWebhook_Delivery(t *testing.T) {
	var (
		mu          sync.Mutex
		body        []byte
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, secret.Value{})
	wh.Notify(testAlert())
	wh.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", contentType)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "login_failure_spike", got["type"])
	assert.Equal(t, float64(50), got["count"])
	assert.Equal(t, float64(50), got["threshold"])
	assert.Equal(t, "2023-11-14T22:13:20Z", got["timestamp"])
}

func TestWebhook_Header(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, secret.New("Authorization: Bearer my-token-123"))
	wh.Notify(testAlert())
	wh.Close()

	assert.Equal(t, "Bearer my-token-123", got.Load())
}

func TestWebhook_RetryOn500(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, secret.Value{})
	wh.Notify(testAlert())
	wh.Close()

	assert.Equal(t, int32(2), attempts.Load())
}

func TestWebhook_NoRetryOn400(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, secret.Value{})
	wh.Notify(testAlert())
	wh.Close()

	assert.Equal(t, int32(1), attempts.Load())
}

func TestWebhook_CloseDrainsQueue(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, secret.Value{})
	for range 5 {
		wh.Notify(testAlert())
	}
	wh.Close()

	assert.Equal(t, int32(5), count.Load())
}

func TestWebhook_NotifyNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, secret.Value{})
	done := make(chan struct{})
	go func() {
		for range webhookQueueSize * 2 {
			wh.Notify(testAlert())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	close(release)
	wh.Close()
}

func TestWebhook_WiredAsAlertFunc(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL, secret.Value{})
	m := New(WithAlertFunc(wh.Notify), WithLoginFailureThreshold(time.Minute, 3))
	for range 3 {
		m.RecordEvent(audit.LoginFailure)
	}
	wh.Close()

	assert.Equal(t, int32(1), count.Load())
}
