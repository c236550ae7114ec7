// Package auth decides whether a request's credentials meet the level an
// admin action requires.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/config"
)

var (
	// ErrServiceMisconfigured means a required credential is not configured
	// on the server. Nothing can pass the check until it is.
	ErrServiceMisconfigured = errors.New("service misconfigured")
	// ErrUnauthorized is returned for any wrong factor. It does not say which.
	ErrUnauthorized = errors.New("unauthorized")
)

// Level is the risk tier of an admin action.
type Level int

const (
	// LevelSession needs nothing beyond a valid session.
	LevelSession Level = iota
	// LevelSecret additionally needs the shared secret.
	LevelSecret
	// LevelMFA needs the shared secret and a current one-time code.
	LevelMFA
)

func (l Level) String() string {
	switch l {
	case LevelSession:
		return "session"
	case LevelSecret:
		return "secret"
	case LevelMFA:
		return "mfa"
	default:
		return "unknown"
	}
}

// OTPVerifier checks a one-time code against a Base32 secret.
type OTPVerifier interface {
	Verify(secret, code string) bool
}

// Gate checks submitted credentials against the configured ones.
type Gate struct {
	cfg      config.Auth
	audit    *audit.Logger
	verifier OTPVerifier
}

// New returns a Gate for cfg.
func New(cfg config.Auth, logger *audit.Logger, verifier OTPVerifier) *Gate {
	return &Gate{cfg: cfg, audit: logger, verifier: verifier}
}

// MFAConfigured reports whether a second factor can be checked at all.
func (g *Gate) MFAConfigured() bool {
	return g.cfg.MFASecret.IsSet()
}

// AssertSecret checks candidate, trimmed of surrounding whitespace, against
// the shared secret.
func (g *Gate) AssertSecret(ctx context.Context, action, candidate string) error {
	if !g.cfg.SharedSecret.IsSet() {
		g.fail(ctx, audit.SecretCheckFailure, action, "shared secret not configured", candidate, "")
		return ErrServiceMisconfigured
	}
	if !g.cfg.SharedSecret.Equal(strings.TrimSpace(candidate)) {
		g.fail(ctx, audit.SecretCheckFailure, action, "secret mismatch", candidate, "")
		return ErrUnauthorized
	}
	return nil
}

// AssertMFA checks candidate as a one-time code. An unconfigured MFA secret
// fails every candidate, including the empty one.
func (g *Gate) AssertMFA(ctx context.Context, action, candidate string) error {
	if !g.cfg.MFASecret.IsSet() {
		g.fail(ctx, audit.MFACheckFailure, action, "mfa secret not configured", "", candidate)
		return ErrServiceMisconfigured
	}
	ok := false
	err := g.cfg.MFASecret.Use(func(plain []byte) {
		ok = g.verifier.Verify(string(plain), candidate)
	})
	if err != nil || !ok {
		g.fail(ctx, audit.MFACheckFailure, action, "invalid one-time code", "", candidate)
		return ErrUnauthorized
	}
	return nil
}

// AssertLevel checks the factors level requires. Misconfiguration is
// reported before any candidate is looked at.
func (g *Gate) AssertLevel(ctx context.Context, action string, level Level, secretCandidate, otpCandidate string) error {
	switch level {
	case LevelSession:
		return nil
	case LevelSecret:
		return g.AssertSecret(ctx, action, secretCandidate)
	case LevelMFA:
		if !g.cfg.SharedSecret.IsSet() || !g.cfg.MFASecret.IsSet() {
			g.fail(ctx, audit.MFACheckFailure, action, "credentials not configured", secretCandidate, otpCandidate)
			return ErrServiceMisconfigured
		}
		if err := g.AssertSecret(ctx, action, secretCandidate); err != nil {
			return err
		}
		return g.AssertMFA(ctx, action, otpCandidate)
	default:
		return ErrUnauthorized
	}
}

func (g *Gate) fail(ctx context.Context, event audit.Event, action, reason, secretCandidate, otpCandidate string) {
	if g.audit == nil {
		return
	}
	g.audit.Failure(ctx, event, reason,
		slog.String("action", action),
		slog.Bool("secret_provided", strings.TrimSpace(secretCandidate) != ""),
		slog.Bool("otp_provided", strings.TrimSpace(otpCandidate) != ""),
	)
}

// Status maps a gate error to its HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrServiceMisconfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// Message is the client-facing text for a gate error.
func Message(err error) string {
	if errors.Is(err, ErrServiceMisconfigured) {
		return "service misconfigured"
	}
	return "unauthorized"
}
