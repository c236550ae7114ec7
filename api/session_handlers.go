package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/auth"
	"github.com/jmcleod/gatehouse/otp"
)

// checkLoginLimits rejects the request with 429 when the global or per-IP
// limiter is engaged. Limits are checked before any credential work.
func (a *API) checkLoginLimits(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.Failure(r.Context(), audit.LoginRateLimited, "global rate limited")
		writeRateLimited(w, retryAfter)
		return false
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.Failure(r.Context(), audit.LoginRateLimited, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return false
	}
	return true
}

func (a *API) recordLoginFailure(clientIP string) {
	a.globalLimiter.recordFailure()
	a.ipLimiter.recordFailure(clientIP)
}

// CreateSession handles POST /api/admin/session.
// Both the shared secret and a current one-time code are required.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if !a.checkLoginLimits(w, r, clientIP) {
		return
	}

	req, ok := decodeJSON[CreateSessionRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	if err := a.gate.AssertLevel(r.Context(), "login", auth.LevelMFA, req.Secret, req.OTP); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			a.recordLoginFailure(clientIP)
		}
		a.audit.Failure(r.Context(), audit.LoginFailure, auth.Message(err))
		writeGateError(w, err)
		return
	}

	tok, err := a.mint.Mint()
	if err != nil {
		a.logger.Error("minting session token", slog.Any("error", err))
		writeInternalError(w)
		return
	}

	a.ipLimiter.recordSuccess(clientIP)
	a.writeSessionCookie(w, r, tok)
	a.audit.Log(r.Context(), audit.LoginSuccess, slog.String("signer", a.mint.SignerName()))
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// SessionStatus handles GET /api/admin/session. The path is exempt from the
// gateway so it reports false instead of 401.
func (a *API) SessionStatus(w http.ResponseWriter, r *http.Request) {
	claims, err := a.edge.Inspect(sessionToken(r))
	if err != nil {
		writeJSON(w, http.StatusOK, SessionStatusResponse{})
		return
	}
	expires := claims.ExpiresAt.UTC()
	writeJSON(w, http.StatusOK, SessionStatusResponse{Authenticated: true, ExpiresAt: &expires})
}

// DeleteSession handles DELETE /api/admin/session and POST /api/admin/logout.
// It always clears the cookie, whether or not a session existed.
func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w, r)
	a.audit.Log(r.Context(), audit.Logout)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// SetupMFA handles POST /api/admin/mfa/setup.
// Only the shared secret is required; this is how an authenticator app is
// enrolled before it can produce codes.
func (a *API) SetupMFA(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if !a.checkLoginLimits(w, r, clientIP) {
		return
	}

	req, ok := decodeJSON[SetupMFARequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := a.gate.AssertSecret(r.Context(), "mfa_setup", req.Secret); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			a.recordLoginFailure(clientIP)
		}
		writeGateError(w, err)
		return
	}
	if !a.gate.MFAConfigured() {
		a.audit.Failure(r.Context(), audit.MFACheckFailure, "mfa secret not configured",
			slog.String("action", "mfa_setup"))
		writeGateError(w, auth.ErrServiceMisconfigured)
		return
	}

	mfaSecret, err := a.cfg.Auth.MFASecret.Reveal()
	if err != nil {
		a.logger.Error("reading mfa secret", slog.Any("error", err))
		writeInternalError(w)
		return
	}
	uri := otp.ProvisioningURI(mfaSecret, a.cfg.Auth.MFAIssuer, a.cfg.Auth.MFAAccount)
	qr, err := otp.QRCodeDataURL(uri)
	if err != nil {
		a.logger.Error("rendering provisioning qr code", slog.Any("error", err))
		writeInternalError(w)
		return
	}

	a.ipLimiter.recordSuccess(clientIP)
	a.audit.Log(r.Context(), audit.MFASetup)
	writeJSON(w, http.StatusOK, SetupMFAResponse{
		Secret:     mfaSecret,
		OTPAuthURL: uri,
		QRCode:     qr,
	})
}
