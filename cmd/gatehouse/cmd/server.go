package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/gatehouse/api"
	"github.com/jmcleod/gatehouse/config"
	"github.com/jmcleod/gatehouse/metrics"
	"github.com/jmcleod/gatehouse/storage"
	bboltstorage "github.com/jmcleod/gatehouse/storage/bbolt"
	"github.com/jmcleod/gatehouse/storage/memory"
)

const (
	databaseFile    = "gatehouse.db"
	sweepInterval   = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the admin gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		warnMissingSecrets(logger, cfg)

		repo, closeRepo, err := openRepository(cfg.Server)
		if err != nil {
			return err
		}
		defer closeRepo()

		alert := func(e metrics.AlertEvent) {
			logger.Warn("security alert",
				slog.String("type", string(e.Type)),
				slog.String("message", e.Message),
				slog.Int("count", e.Count),
				slog.Int("threshold", e.Threshold),
			)
		}
		if cfg.Alerts.WebhookURL != "" {
			wh := metrics.NewWebhook(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookHeader, logger)
			defer wh.Close()
			logAlert := alert
			alert = func(e metrics.AlertEvent) {
				logAlert(e)
				wh.Notify(e)
			}
		}
		m := metrics.New(metrics.WithAlertFunc(alert))

		a, err := api.New(cfg, repo, api.WithLogger(logger), api.WithRecorder(m))
		if err != nil {
			return err
		}
		app, err := a.Handler()
		if err != nil {
			return err
		}
		handler := newRootRouter(app, m)

		var tlsConfig *tls.Config
		if cfg.Server.TLSCert != "" || cfg.Server.TLSKey != "" {
			cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else if cfg.IsProduction() {
			logger.Warn("serving plain HTTP in production; terminate TLS at the proxy")
		}

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go a.RunSweeper(ctx, sweepInterval)

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server started",
			slog.String("addr", cfg.Server.Addr),
			slog.String("store", cfg.Server.Store),
			slog.String("env", cfg.Env),
			slog.Bool("tls", tlsConfig != nil),
		)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.String(config.KeyAddr, "", `Address to listen on (default ":8080")`)
	f.String(config.KeyDataDir, "", `Directory for persistent data (default "./data")`)
	f.String(config.KeyStore, "", `Document store backend: memory or bbolt (default "bbolt")`)
	f.String(config.KeyCanonicalHost, "", "Host that admin requests are redirected to")
	f.String(config.KeyCookieDomain, "", "Domain attribute of the session cookie")
	f.Int(config.KeySessionTTL, 0, "Session lifetime in seconds (default 3600)")
	f.String(config.KeyMintSigner, "", `Signer used to mint session tokens: std or simd (default "std")`)
	f.String(config.KeyGatewaySigner, "", `Signer used by the gateway to verify tokens: std or simd (default "simd")`)
	f.String(config.KeyTrustedProxies, "", "Comma separated CIDRs whose X-Forwarded-For is trusted")
	f.String(config.KeyTLSCert, "", "Path to TLS certificate file")
	f.String(config.KeyTLSKey, "", "Path to TLS key file")
	f.String(config.KeyLogLevel, "", `Log level: debug, info, warn or error (default "info")`)
	f.String(config.KeyLogFormat, "", "Log format: text or json (default text)")
	f.String(config.KeyAlertWebhook, "", "URL that security alerts are POSTed to")
}

// newRootRouter wraps the application with process level routes.
func newRootRouter(app http.Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "OK")
	})
	r.Handle("/metrics", m.Handler())
	r.Handle("/*", app)
	return r
}

func openRepository(cfg config.Server) (storage.Repository, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.NewRepository(), func() {}, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, databaseFile), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open document storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	}
}

func warnMissingSecrets(logger *slog.Logger, cfg config.Config) {
	if !cfg.Auth.SharedSecret.IsSet() {
		logger.Warn("ADMIN_SECRET is not set; every admin login will be refused")
	}
	if !cfg.Auth.MFASecret.IsSet() {
		logger.Warn("ADMIN_MFA_SECRET is not set; run 'gatehouse otp secret' to create one")
	}
	if !cfg.Auth.SessionSecret.IsSet() {
		logger.Warn("no session signing secret is set; sessions cannot be issued")
	}
}
