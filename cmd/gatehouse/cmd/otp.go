package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gatehouse/otp"
)

var (
	otpAt     int64
	otpQRFile string
)

var otpCmd = &cobra.Command{
	Use:   "otp",
	Short: "Manage the admin TOTP second factor",
}

var otpSecretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a new Base32 TOTP secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := otp.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s)
		fmt.Fprintf(cmd.ErrOrStderr(), "Store it as ADMIN_MFA_SECRET=%s and enroll it with 'gatehouse otp uri'.\n", s)
		return nil
	},
}

var otpCodeCmd = &cobra.Command{
	Use:   "code",
	Short: "Print the current code for the configured MFA secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := configuredMFASecret()
		if err != nil {
			return err
		}
		at := time.Now()
		if otpAt != 0 {
			at = time.Unix(otpAt, 0)
		}
		fmt.Fprintln(cmd.OutOrStdout(), otp.CodeAt(s, at))
		return nil
	},
}

var otpURICmd = &cobra.Command{
	Use:   "uri",
	Short: "Print the otpauth:// provisioning URI for the configured MFA secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := configuredMFASecret()
		if err != nil {
			return err
		}
		uri := otp.ProvisioningURI(s, cfg.Auth.MFAIssuer, cfg.Auth.MFAAccount)
		fmt.Fprintln(cmd.OutOrStdout(), uri)
		if otpQRFile == "" {
			return nil
		}
		png, err := otp.QRCodePNG(uri, otp.QRSize)
		if err != nil {
			return err
		}
		if err := os.WriteFile(otpQRFile, png, 0o600); err != nil {
			return fmt.Errorf("failed to write QR code: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "QR code written to %s\n", otpQRFile)
		return nil
	},
}

func configuredMFASecret() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if !cfg.Auth.MFASecret.IsSet() {
		return "", errors.New("ADMIN_MFA_SECRET is not set")
	}
	return cfg.Auth.MFASecret.Reveal()
}

func init() {
	rootCmd.AddCommand(otpCmd)
	otpCmd.AddCommand(otpSecretCmd, otpCodeCmd, otpURICmd)
	otpCodeCmd.Flags().Int64Var(&otpAt, "at", 0, "Unix time to compute the code for (default now)")
	otpURICmd.Flags().StringVar(&otpQRFile, "qr", "", "Also write the URI as a PNG QR code to this file")
}
