package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/audit"
)

func TestRecordEvent_Counts(t *testing.T) {
	m := New()
	m.RecordEvent(audit.LoginSuccess)
	m.RecordEvent(audit.LoginSuccess)
	m.RecordEvent(audit.GatewayDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("login_success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("gateway_denied")))
}

func TestRegistry_GathersEventSeries(t *testing.T) {
	m := New()
	m.RecordEvent(audit.LoginFailure)
	m.RecordEvent(audit.LoginFailure)
	m.RecordEvent(audit.MFASetup)

	n, err := testutil.GatherAndCount(m.Registry(), "gatehouse_auth_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want := `
# HELP gatehouse_auth_events_total Authentication and admin audit events by type.
# TYPE gatehouse_auth_events_total counter
gatehouse_auth_events_total{event="login_failure"} 2
gatehouse_auth_events_total{event="mfa_setup"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "gatehouse_auth_events_total"))
}

func TestRecordEvent_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.RecordEvent(audit.LoginFailure) })
}

func TestLoginFailureSpike(t *testing.T) {
	var alerts []AlertEvent
	m := New(
		WithAlertFunc(func(e AlertEvent) { alerts = append(alerts, e) }),
		WithLoginFailureThreshold(time.Minute, 3),
	)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	m.RecordEvent(audit.LoginFailure)
	m.RecordEvent(audit.LoginFailure)
	assert.Empty(t, alerts)

	m.RecordEvent(audit.LoginRateLimited)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Count)

	// Counter resets after an alert.
	m.RecordEvent(audit.LoginFailure)
	assert.Len(t, alerts, 1)
}

func TestLoginFailureSpike_WindowExpires(t *testing.T) {
	var alerts []AlertEvent
	m := New(
		WithAlertFunc(func(e AlertEvent) { alerts = append(alerts, e) }),
		WithLoginFailureThreshold(time.Minute, 2),
	)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	m.RecordEvent(audit.LoginFailure)
	now = now.Add(2 * time.Minute)
	m.RecordEvent(audit.LoginFailure)
	assert.Empty(t, alerts)
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.RecordEvent(audit.Logout)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	assert.True(t, strings.Contains(text, `gatehouse_auth_events_total{event="logout"} 1`))
	assert.True(t, strings.Contains(text, `gatehouse_http_requests_total{code="418",method="get"} 1`))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}
