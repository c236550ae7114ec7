// Package audit writes structured security events. Entries carry action
// names and presence flags, never secret values or full tokens.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event identifies the type of security-relevant action being logged.
type Event string

const (
	LoginSuccess       Event = "login_success"
	LoginRateLimited   Event = "login_rate_limited"
	LoginFailure       Event = "login_failure"
	Logout             Event = "logout"
	MFASetup           Event = "mfa_setup"
	SecretCheckFailure Event = "secret_check_failure"
	MFACheckFailure    Event = "mfa_check_failure"
	GatewayDenied      Event = "gateway_denied"
	DocumentSaved      Event = "document_saved"
	DocumentPublished  Event = "document_published"
	DocumentDeleted    Event = "document_deleted"
	DeviceRegistered   Event = "device_registered"
)

// Recorder receives every event after it is logged, e.g. for metrics.
type Recorder interface {
	RecordEvent(Event)
}

// Logger wraps slog.Logger for structured security audit logging.
type Logger struct {
	logger   *slog.Logger
	recorder Recorder
}

// New returns a Logger tagging entries with component=audit. recorder may
// be nil.
func New(logger *slog.Logger, recorder Recorder) *Logger {
	return &Logger{
		logger:   logger.With("component", "audit"),
		recorder: recorder,
	}
}

type contextKey int

const remoteAddrKey contextKey = iota

// WithRemoteAddr stores the client address so entries written deeper in the
// call chain can include it.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

func remoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey).(string)
	return addr
}

// Log writes a structured audit log entry.
func (l *Logger) Log(ctx context.Context, event Event, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", remoteAddr(ctx)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
	if l.recorder != nil {
		l.recorder.RecordEvent(event)
	}
}

// Failure logs a denied attempt with its reason at warning level.
func (l *Logger) Failure(ctx context.Context, event Event, reason string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("reason", reason),
		slog.String("remote_addr", remoteAddr(ctx)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	l.logger.LogAttrs(ctx, slog.LevelWarn, "audit", append(base, attrs...)...)
	if l.recorder != nil {
		l.recorder.RecordEvent(event)
	}
}
