// Package config loads the immutable process configuration. It is read once
// at startup and passed by value into every component that needs it.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jmcleod/gatehouse/internal/secret"
	"github.com/jmcleod/gatehouse/otp"
	"github.com/jmcleod/gatehouse/token"
)

// Keys shared by viper, cobra flags and environment bindings.
const (
	KeyEnv            = "env"
	KeySecret         = "secret"
	KeyMFASecret      = "mfa-secret"
	KeySessionSecret  = "session-secret"
	KeySessionTTL     = "session-ttl-seconds"
	KeyMFAIssuer      = "mfa-issuer"
	KeyMFAAccount     = "mfa-account"
	KeyCookieDomain   = "cookie-domain"
	KeyCanonicalHost  = "canonical-host"
	KeyAddr           = "addr"
	KeyDataDir        = "data-dir"
	KeyStore          = "store"
	KeyMintSigner     = "mint-signer"
	KeyGatewaySigner  = "gateway-signer"
	KeyTrustedProxies = "trusted-proxies"
	KeyTLSCert        = "tls-cert"
	KeyTLSKey         = "tls-key"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyAlertWebhook   = "alert-webhook-url"
	KeyAlertHeader    = "alert-webhook-header"
)

// EnvPrefix namespaces every key in the environment, e.g. GATEHOUSE_ADDR.
const EnvPrefix = "GATEHOUSE"

// legacyEnv maps keys to the unprefixed variable names existing
// deployments already set.
var legacyEnv = map[string]string{
	KeyEnv:           "APP_ENV",
	KeySecret:        "ADMIN_SECRET",
	KeyMFASecret:     "ADMIN_MFA_SECRET",
	KeySessionSecret: "ADMIN_SESSION_SECRET",
	KeySessionTTL:    "ADMIN_SESSION_TTL_SECONDS",
	KeyCookieDomain:  "ADMIN_COOKIE_DOMAIN",
	KeyCanonicalHost: "ADMIN_CANONICAL_HOST",
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreBolt   = "bbolt"
)

const Production = "production"

type Config struct {
	Env    string
	Auth   Auth
	Cookie Cookie
	Server Server
	Log    Log
	Alerts Alerts
}

type Auth struct {
	SharedSecret secret.Value
	// MFASecret is already normalized to the Base32 alphabet.
	MFASecret secret.Value
	// SessionSecret falls back to SharedSecret when not configured.
	SessionSecret secret.Value
	SessionTTL    time.Duration
	MFAIssuer     string
	MFAAccount    string
}

type Cookie struct {
	Domain string
	Secure bool
}

type Server struct {
	Addr           string
	CanonicalHost  string
	DataDir        string
	Store          string
	MintSigner     string
	GatewaySigner  string
	TrustedProxies []netip.Prefix
	TLSCert        string
	TLSKey         string
}

type Log struct {
	Level  string
	Format string
}

// Alerts configures delivery of security alerts to an external endpoint.
type Alerts struct {
	WebhookURL    string
	// WebhookHeader is sent with every delivery, in "Name: value" form.
	WebhookHeader secret.Value
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Env == Production
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyEnv, "development")
	v.SetDefault(KeySessionTTL, int(token.DefaultTTL/time.Second))
	v.SetDefault(KeyMFAIssuer, "Admin")
	v.SetDefault(KeyMFAAccount, "admin")
	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyDataDir, "./data")
	v.SetDefault(KeyStore, StoreBolt)
	v.SetDefault(KeyMintSigner, token.StdSigner.Name())
	v.SetDefault(KeyGatewaySigner, token.SIMDSigner.Name())
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "")
}

// BindEnv binds every key to GATEHOUSE_<KEY> and, where one exists, to its
// legacy variable. The prefixed name wins when both are set.
func BindEnv(v *viper.Viper) error {
	keys := []string{
		KeyEnv, KeySecret, KeyMFASecret, KeySessionSecret, KeySessionTTL,
		KeyMFAIssuer, KeyMFAAccount, KeyCookieDomain, KeyCanonicalHost,
		KeyAddr, KeyDataDir, KeyStore, KeyMintSigner, KeyGatewaySigner,
		KeyTrustedProxies, KeyTLSCert, KeyTLSKey, KeyLogLevel, KeyLogFormat,
		KeyAlertWebhook, KeyAlertHeader,
	}
	for _, key := range keys {
		names := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("binding env for %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load resolves the configuration from v. Missing secrets are not an error:
// the auth components fail closed at request time instead.
func Load(v *viper.Viper) (Config, error) {
	ttlSeconds := v.GetInt(KeySessionTTL)
	if ttlSeconds <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", KeySessionTTL, ttlSeconds)
	}

	store := strings.ToLower(v.GetString(KeyStore))
	if store != StoreMemory && store != StoreBolt {
		return Config{}, fmt.Errorf("%s must be %q or %q, got %q", KeyStore, StoreMemory, StoreBolt, store)
	}

	mintSigner := v.GetString(KeyMintSigner)
	gatewaySigner := v.GetString(KeyGatewaySigner)
	for _, name := range []string{mintSigner, gatewaySigner} {
		if !slices.Contains(token.SignerNames, name) {
			return Config{}, fmt.Errorf("unknown signer %q (want one of %v)", name, token.SignerNames)
		}
	}

	proxies, err := parsePrefixes(v.GetString(KeyTrustedProxies))
	if err != nil {
		return Config{}, err
	}

	webhookURL := strings.TrimSpace(v.GetString(KeyAlertWebhook))
	if webhookURL != "" {
		u, err := url.Parse(webhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("%s must be an absolute http(s) URL", KeyAlertWebhook)
		}
	}
	webhookHeader := strings.TrimSpace(v.GetString(KeyAlertHeader))
	if webhookHeader != "" && !strings.Contains(webhookHeader, ":") {
		return Config{}, fmt.Errorf("%s must have the form \"Name: value\"", KeyAlertHeader)
	}

	shared := secret.New(v.GetString(KeySecret))
	env := strings.ToLower(strings.TrimSpace(v.GetString(KeyEnv)))

	cfg := Config{
		Env: env,
		Auth: Auth{
			SharedSecret:  shared,
			MFASecret:     secret.New(otp.NormalizeSecret(v.GetString(KeyMFASecret))),
			SessionSecret: secret.New(v.GetString(KeySessionSecret)).Or(shared),
			SessionTTL:    time.Duration(ttlSeconds) * time.Second,
			MFAIssuer:     v.GetString(KeyMFAIssuer),
			MFAAccount:    v.GetString(KeyMFAAccount),
		},
		Cookie: Cookie{
			Domain: v.GetString(KeyCookieDomain),
			Secure: env == Production,
		},
		Server: Server{
			Addr:           v.GetString(KeyAddr),
			CanonicalHost:  strings.ToLower(strings.TrimSpace(v.GetString(KeyCanonicalHost))),
			DataDir:        v.GetString(KeyDataDir),
			Store:          store,
			MintSigner:     mintSigner,
			GatewaySigner:  gatewaySigner,
			TrustedProxies: proxies,
			TLSCert:        v.GetString(KeyTLSCert),
			TLSKey:         v.GetString(KeyTLSKey),
		},
		Log: Log{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		Alerts: Alerts{
			WebhookURL:    webhookURL,
			WebhookHeader: secret.New(webhookHeader),
		},
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
		if cfg.IsProduction() {
			cfg.Log.Format = "json"
		}
	}
	return cfg, nil
}

func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}
