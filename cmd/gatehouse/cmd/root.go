package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/gatehouse/config"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

var (
	envFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse guards a content site's admin panel",
	Long: `Gatehouse protects an admin UI and API with a shared secret, a TOTP
second factor and a signed session cookie.

Secrets are read from the environment (ADMIN_SECRET, ADMIN_MFA_SECRET,
ADMIN_SESSION_SECRET or their GATEHOUSE_ prefixed forms) or a .env file,
never from flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		var err error
		if v, err = config.New(); err != nil {
			return err
		}
		return v.BindPFlags(cmd.Flags())
	},
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String(config.KeyEnv, "", `Runtime environment; "production" enables secure cookies (default "development")`)
	rootCmd.PersistentFlags().String(config.KeyMFAIssuer, "", `Issuer shown in authenticator apps (default "Admin")`)
	rootCmd.PersistentFlags().String(config.KeyMFAAccount, "", `Account name shown in authenticator apps (default "admin")`)
}

// loadConfig resolves the configuration for the running command.
func loadConfig() (config.Config, error) {
	return config.Load(v)
}

func newLogger(cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", cfg.Format)
	}
}
