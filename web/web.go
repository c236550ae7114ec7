// Package web serves the embedded admin UI: the login page, the dashboard
// shell and their static assets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
)

//go:embed dist/*
var content embed.FS

const (
	// DefaultReturnURL is where the login page sends the browser when no
	// usable returnUrl was given.
	DefaultReturnURL = "/admin"
	loginPath        = "/admin/login"
)

// SafeReturnURL returns raw when it is a same-origin absolute path and
// DefaultReturnURL otherwise, so the login page cannot be turned into an
// open redirect.
func SafeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n\t") {
		return DefaultReturnURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DefaultReturnURL
	}
	if u.Path == loginPath {
		return DefaultReturnURL
	}
	return raw
}

type loginData struct {
	ReturnURL string
}

// Handler returns an http.Handler for /admin/login, /admin, /admin/* and
// /assets/*. Anything else is 404.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}

	login, err := template.ParseFS(fsys, "login.html")
	if err != nil {
		return nil, fmt.Errorf("parsing embedded login.html: %w", err)
	}
	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded index.html: %w", err)
	}

	static := http.FileServer(http.FS(fsys))

	serveLogin := func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		data := loginData{ReturnURL: SafeReturnURL(r.URL.Query().Get("returnUrl"))}
		if err := login.Execute(&buf, data); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(buf.Bytes())
	}

	serveIndex := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(indexBytes)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		switch {
		case p == loginPath || p == loginPath+"/":
			serveLogin(w, r)
		case p == "/admin" || strings.HasPrefix(p, "/admin/"):
			// Dashboard deep links all load the same shell.
			serveIndex(w, r)
		case strings.HasPrefix(p, "/assets/") && !strings.HasSuffix(p, "/"):
			static.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	}), nil
}
