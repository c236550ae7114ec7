// Package api serves the admin session endpoints and the gateway that
// guards every admin route.
package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/gatehouse/audit"
	"github.com/jmcleod/gatehouse/auth"
	"github.com/jmcleod/gatehouse/config"
	"github.com/jmcleod/gatehouse/otp"
	"github.com/jmcleod/gatehouse/storage"
	"github.com/jmcleod/gatehouse/token"
	"github.com/jmcleod/gatehouse/web"
)

// API holds the dependencies needed by the REST handlers and the gateway.
type API struct {
	cfg  config.Config
	repo storage.Repository
	gate *auth.Gate
	// mint signs tokens on the login path. edge verifies them in the
	// gateway. They share a key and differ only in HMAC backend.
	mint *token.Codec
	edge *token.Codec

	audit    *audit.Logger
	logger   *slog.Logger
	recorder audit.Recorder
	now      func() time.Time

	ipLimiter     *ipRateLimiter
	globalLimiter *globalRateLimiter
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithRecorder receives every audit event, typically for metrics.
func WithRecorder(rec audit.Recorder) Option {
	return func(a *API) {
		a.recorder = rec
	}
}

// WithClock overrides time.Now for OTP checks and token lifetimes.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// New creates a new API instance.
func New(cfg config.Config, repo storage.Repository, opts ...Option) (*API, error) {
	a := &API{
		cfg:           cfg,
		repo:          repo,
		now:           time.Now,
		ipLimiter:     newIPRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = audit.New(a.logger, a.recorder)

	mintSigner, err := token.SignerByName(cfg.Server.MintSigner)
	if err != nil {
		return nil, fmt.Errorf("mint signer: %w", err)
	}
	edgeSigner, err := token.SignerByName(cfg.Server.GatewaySigner)
	if err != nil {
		return nil, fmt.Errorf("gateway signer: %w", err)
	}
	a.mint = token.New(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL,
		token.WithSigner(mintSigner), token.WithClock(a.now))
	a.edge = token.New(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL,
		token.WithSigner(edgeSigner), token.WithClock(a.now))

	a.gate = auth.New(cfg.Auth, a.audit, otp.NewVerifier(a.now))
	return a, nil
}

// Router returns the admin API routes, to be mounted at /api/admin.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/session", a.CreateSession)
	r.Get("/session", a.SessionStatus)
	r.Delete("/session", a.DeleteSession)
	r.Post("/logout", a.DeleteSession)
	r.Post("/mfa/setup", a.SetupMFA)

	r.Route("/documents/{collection}", func(r chi.Router) {
		r.Get("/", a.ListDocuments)
		r.Get("/{slug}", a.GetDocument)
		r.Put("/{slug}", a.PutDocument)
		r.Delete("/{slug}", a.DeleteDocument)
		r.Post("/{slug}/publish", a.PublishDocument)
	})

	r.Get("/devices", a.ListDevices)
	r.Post("/devices", a.RegisterDevice)

	return r
}

// Handler returns the complete application: security headers, the gateway,
// the admin API, API docs and the admin UI.
func (a *API) Handler() (http.Handler, error) {
	ui, err := web.Handler()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.AuditContext)
	r.Use(a.Gateway)

	r.Mount(adminAPIPrefix, a.Router())

	r.Get("/api/docs/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/api/docs", docsCSP(middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/docs/openapi.yaml",
		Path:    "api/docs",
		Title:   "gatehouse admin API",
	}, nil)))

	r.Handle("/*", ui)
	return r, nil
}
