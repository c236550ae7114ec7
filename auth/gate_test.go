package auth

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/config"
	"github.com/jmcleod/gatehouse/internal/secret"
	"github.com/jmcleod/gatehouse/otp"
)

const (
	testSecret    = "s3cr3t"
	testMFASecret = "JBSWY3DPEHPK3PXP"
)

var scenarioTime = time.Unix(1700000000, 0)

func newGate(t *testing.T, shared, mfa string) (*Gate, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := audit.New(slog.New(slog.NewJSONHandler(&buf, nil)), nil)
	cfg := config.Auth{
		SharedSecret: secret.New(shared),
		MFASecret:    secret.New(otp.NormalizeSecret(mfa)),
	}
	return New(cfg, logger, otp.NewVerifier(func() time.Time { return scenarioTime })), &buf
}

func TestAssertSecret(t *testing.T) {
	g, _ := newGate(t, testSecret, testMFASecret)
	ctx := context.Background()

	assert.NoError(t, g.AssertSecret(ctx, "save", testSecret))
	assert.NoError(t, g.AssertSecret(ctx, "save", "  s3cr3t\n"))
	assert.ErrorIs(t, g.AssertSecret(ctx, "save", "wrong"), ErrUnauthorized)
	assert.ErrorIs(t, g.AssertSecret(ctx, "save", ""), ErrUnauthorized)
	assert.ErrorIs(t, g.AssertSecret(ctx, "save", "S3CR3T"), ErrUnauthorized)
}

func TestAssertSecret_Unconfigured(t *testing.T) {
	g, _ := newGate(t, "", testMFASecret)
	assert.ErrorIs(t, g.AssertSecret(context.Background(), "save", ""), ErrServiceMisconfigured)
	assert.ErrorIs(t, g.AssertSecret(context.Background(), "save", testSecret), ErrServiceMisconfigured)
}

func TestAssertMFA(t *testing.T) {
	g, _ := newGate(t, testSecret, testMFASecret)
	ctx := context.Background()

	assert.NoError(t, g.AssertMFA(ctx, "publish", "324550"))
	assert.NoError(t, g.AssertMFA(ctx, "publish", "822542"))
	assert.NoError(t, g.AssertMFA(ctx, "publish", "367665"))
	assert.ErrorIs(t, g.AssertMFA(ctx, "publish", "968785"), ErrUnauthorized)
	assert.ErrorIs(t, g.AssertMFA(ctx, "publish", "201618"), ErrUnauthorized)
	assert.ErrorIs(t, g.AssertMFA(ctx, "publish", ""), ErrUnauthorized)
}

func TestAssertMFA_UnconfiguredAlwaysMisconfigured(t *testing.T) {
	for _, mfa := range []string{"", "1890!!"} {
		g, _ := newGate(t, testSecret, mfa)
		for _, code := range []string{"", "324550", "000000", "garbage"} {
			err := g.AssertMFA(context.Background(), "login", code)
			assert.ErrorIs(t, err, ErrServiceMisconfigured, "mfa=%q code=%q", mfa, code)
		}
	}
}

func TestAssertLevel(t *testing.T) {
	g, _ := newGate(t, testSecret, testMFASecret)
	ctx := context.Background()

	assert.NoError(t, g.AssertLevel(ctx, "list", LevelSession, "", ""))

	assert.NoError(t, g.AssertLevel(ctx, "save", LevelSecret, testSecret, ""))
	assert.ErrorIs(t, g.AssertLevel(ctx, "save", LevelSecret, "nope", "324550"), ErrUnauthorized)

	assert.NoError(t, g.AssertLevel(ctx, "login", LevelMFA, testSecret, "324550"))
	assert.ErrorIs(t, g.AssertLevel(ctx, "login", LevelMFA, testSecret, "201618"), ErrUnauthorized)
	assert.ErrorIs(t, g.AssertLevel(ctx, "login", LevelMFA, "nope", "324550"), ErrUnauthorized)
	assert.ErrorIs(t, g.AssertLevel(ctx, "login", LevelMFA, testSecret, ""), ErrUnauthorized)
}

func TestAssertLevel_MFAUnconfigured(t *testing.T) {
	g, _ := newGate(t, testSecret, "")
	ctx := context.Background()
	assert.NoError(t, g.AssertLevel(ctx, "save", LevelSecret, testSecret, ""))
	assert.ErrorIs(t, g.AssertLevel(ctx, "login", LevelMFA, "wrong", ""), ErrServiceMisconfigured)
	assert.False(t, g.MFAConfigured())
}

func TestFailureAuditOmitsValues(t *testing.T) {
	g, buf := newGate(t, testSecret, testMFASecret)
	err := g.AssertLevel(context.Background(), "login", LevelMFA, "hunter2", "")
	require.ErrorIs(t, err, ErrUnauthorized)

	out := buf.String()
	assert.Contains(t, out, `"event":"secret_check_failure"`)
	assert.Contains(t, out, `"action":"login"`)
	assert.Contains(t, out, `"secret_provided":true`)
	assert.Contains(t, out, `"otp_provided":false`)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, testSecret)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, Status(nil))
	assert.Equal(t, http.StatusServiceUnavailable, Status(ErrServiceMisconfigured))
	assert.Equal(t, http.StatusUnauthorized, Status(ErrUnauthorized))
	assert.Equal(t, "service misconfigured", Message(ErrServiceMisconfigured))
	assert.Equal(t, "unauthorized", Message(ErrUnauthorized))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "session", LevelSession.String())
	assert.Equal(t, "secret", LevelSecret.String())
	assert.Equal(t, "mfa", LevelMFA.String())
}
