package api

import "net/http"

// Content security policies. The admin UI loads only its own scripts and
// styles; the QR code is an inline data: image.
const (
	adminCSP = "default-src 'self'; script-src 'self'; style-src 'self'; " +
		"img-src 'self' data:; connect-src 'self'; form-action 'self'; frame-ancestors 'none'"
	// Swagger UI pulls its bundle from unpkg and boots with an inline script.
	docsCSPPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com; " +
		"style-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data: https://unpkg.com; " +
		"frame-ancestors 'none'"
)

const hstsValue = "max-age=63072000; includeSubDomains"

// SecurityHeaders sets the response headers every page and API reply
// carries. Admin responses must not be framed or sniffed, and HSTS is only
// sent over TLS.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Content-Security-Policy", adminCSP)
		if requestIsSecure(r) {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		next.ServeHTTP(w, r)
	})
}

// withCSP overrides the policy set by SecurityHeaders for one route.
func withCSP(policy string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", policy)
		next.ServeHTTP(w, r)
	})
}

// docsCSP lets the Swagger UI page load.
func docsCSP(next http.Handler) http.Handler {
	return withCSP(docsCSPPolicy, next)
}
