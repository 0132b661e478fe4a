package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/internal/cli/output"
	"github.com/marmos91/negotiate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the negotiate configuration file.

Checks for syntax errors, missing required fields, and invalid values, and
warns about settings that are valid but likely to break authentication.

Examples:
  # Validate default config
  negotiate config validate

  # Validate specific config file
  negotiate config validate --config /etc/negotiate/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	displayPath := cmdutil.Flags.ConfigFile
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	for _, w := range configWarnings(cfg) {
		cmdutil.PrintWarning("Warning: " + w)
	}

	var summary output.KeyValues
	summary.Add("Listen address", fmt.Sprintf("%s (tls: %s)", cfg.Server.ListenAddr(), cmdutil.BoolToYesNo(cfg.Server.TLSEnabled())))
	summary.Add("Service principal", cfg.Negotiate.ServicePrincipal)
	summary.Add("Kerberos", cmdutil.BoolToYesNo(cfg.Negotiate.Kerberos.Enabled))
	summary.Add("NTLM", cmdutil.BoolToYesNo(cfg.Negotiate.NTLM.Enabled))
	summary.Add("Account database", string(cfg.Accounts.Database.Type))
	summary.Add("Upstream", cmdutil.EmptyOr(cfg.Upstream.URL, "-"))
	summary.Add("Log level", cfg.Logging.Level)

	_, _ = fmt.Fprintln(out)
	if err := output.PrintKeyValues(out, summary); err != nil {
		return err
	}

	return nil
}

func configWarnings(cfg *config.Config) []string {
	var warnings []string

	krb := cfg.Negotiate.Kerberos
	if krb.Enabled {
		if krb.KeytabPath == "" {
			warnings = append(warnings, "Kerberos is enabled but keytab_path is empty (NEGOTIATE_KERBEROS_KEYTAB must be set)")
		} else if _, err := os.Stat(krb.KeytabPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("Keytab not readable: %v", err))
		}
	}

	if cfg.Negotiate.NTLM.Enabled && !cfg.Server.TLSEnabled() {
		warnings = append(warnings, "NTLM without TLS exposes the handshake to relay attacks")
	}

	if cfg.Server.IdleTimeout > 0 && cfg.Server.IdleTimeout < cfg.Server.ReadTimeout {
		warnings = append(warnings, "idle_timeout is shorter than read_timeout; authenticated connections will be dropped early")
	}

	for _, a := range cfg.Accounts.Static {
		if a.Password != "" {
			warnings = append(warnings, fmt.Sprintf("Static account %q stores a plaintext password; prefer nt_hash", a.Username))
		}
	}

	return warnings
}
