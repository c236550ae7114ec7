package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/jmcleod/gatehouse/audit"
)

const (
	adminUIPrefix  = "/admin"
	adminAPIPrefix = "/api/admin"
	loginPath      = "/admin/login"
)

// exemptPaths stay reachable without a session: the login page and the two
// endpoints a session is first obtained through.
var exemptPaths = map[string]bool{
	loginPath:                    true,
	adminAPIPrefix + "/session":   true,
	adminAPIPrefix + "/mfa/setup": true,
}

func underPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func isAdminAPIPath(p string) bool {
	return underPrefix(p, adminAPIPrefix)
}

func isAdminPath(p string) bool {
	return underPrefix(p, adminUIPrefix) || isAdminAPIPath(p)
}

// protected reports whether p, raw or cleaned, falls under an admin tree.
// Checking both stops "/x/../admin" style paths from slipping past.
func protected(p string) bool {
	return isAdminPath(p) || isAdminPath(path.Clean("/"+p))
}

func exempt(p string) bool {
	return exemptPaths[p] || (len(p) > 1 && strings.HasSuffix(p, "/") && exemptPaths[strings.TrimSuffix(p, "/")])
}

// Gateway enforces the session cookie on every admin UI and admin API path.
// It fails closed: a missing signing key or any unreadable cookie denies.
func (a *API) Gateway(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if protected(p) && a.redirectToCanonicalHost(w, r) {
			return
		}

		if exempt(p) || !protected(p) {
			next.ServeHTTP(w, r)
			return
		}

		if a.edge.Valid(sessionToken(r)) {
			next.ServeHTTP(w, r)
			return
		}

		_, cookieErr := r.Cookie(SessionCookieName)
		a.audit.Failure(r.Context(), audit.GatewayDenied, "no valid session",
			slog.String("path", p),
			slog.Bool("cookie_provided", cookieErr == nil),
		)

		if isAdminAPIPath(p) || isAdminAPIPath(path.Clean("/"+p)) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		http.Redirect(w, r, loginRedirectURL(r), http.StatusTemporaryRedirect)
	})
}

// loginRedirectURL points at the login page carrying the original path and
// query as returnUrl.
func loginRedirectURL(r *http.Request) string {
	ret := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		ret += "?" + r.URL.RawQuery
	}
	return loginPath + "?" + url.Values{"returnUrl": {ret}}.Encode()
}

// redirectToCanonicalHost sends a 308 to the canonical host when an admin
// request arrived on another one. It runs before any auth decision. A
// canonical host without a port matches any port and keeps the request's.
func (a *API) redirectToCanonicalHost(w http.ResponseWriter, r *http.Request) bool {
	canonical := a.cfg.Server.CanonicalHost
	if canonical == "" {
		return false
	}
	host, port := splitHostPort(r.Host)
	target := canonical
	if canonicalHost, canonicalPort := splitHostPort(canonical); canonicalPort == "" {
		if strings.EqualFold(host, canonicalHost) {
			return false
		}
		if port != "" {
			target = net.JoinHostPort(canonicalHost, port)
		}
	} else if strings.EqualFold(r.Host, canonical) {
		return false
	}

	scheme := "http"
	if a.cfg.Cookie.Secure || requestIsSecure(r) {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     target,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	http.Redirect(w, r, u.String(), http.StatusPermanentRedirect)
	return true
}

// splitHostPort is net.SplitHostPort that tolerates a missing port.
func splitHostPort(hostport string) (host, port string) {
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		return h, p
	}
	return strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]"), ""
}
