package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample configuration file",
	Long: `Create a sample negotiate configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/negotiate/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  negotiate config init

  # Initialize with custom path
  negotiate config init --config /etc/negotiate/config.yaml

  # Force overwrite existing config
  negotiate config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cmdutil.Flags.ConfigFile

	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set negotiate.service_principal to the SPN clients request (HTTP/<fqdn>)")
	_, _ = fmt.Fprintln(out, "  2. For Kerberos, enable negotiate.kerberos and point keytab_path at the service keytab")
	_, _ = fmt.Fprintln(out, "  3. For NTLM, add accounts with: negotiate account add <username>")
	_, _ = fmt.Fprintf(out, "  4. Start the server with: negotiate start --config %s\n", configPath)

	return nil
}
