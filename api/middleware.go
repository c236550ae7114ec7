package api

import (
	"net/http"
	"strings"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/auth"
)

const (
	// SessionCookieName carries the signed session token.
	SessionCookieName = "admin_session"
	// SecretHeader and OTPHeader re-assert credentials for a single write.
	SecretHeader = "X-Admin-Secret"
	OTPHeader    = "X-Admin-OTP"
)

func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   a.cfg.Cookie.Domain,
		HttpOnly: true,
		Secure:   a.cfg.Cookie.Secure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.mint.MaxAge().Seconds()),
	})
}

// clearSessionCookie emits Max-Age=0 so the browser drops the cookie.
func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   a.cfg.Cookie.Domain,
		HttpOnly: true,
		Secure:   a.cfg.Cookie.Secure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// AuditContext records the client address on the request context for audit
// entries written further down the chain.
func (a *API) AuditContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithRemoteAddr(r.Context(), a.extractClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireLevel checks the per-request credential headers against level. On
// failure it has already written the response and returns false.
func (a *API) requireLevel(w http.ResponseWriter, r *http.Request, action string, level auth.Level) bool {
	err := a.gate.AssertLevel(r.Context(), action, level,
		r.Header.Get(SecretHeader), r.Header.Get(OTPHeader))
	if err != nil {
		writeGateError(w, err)
		return false
	}
	return true
}
