// Package commands implements the negotiate CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/cmd/negotiate/commands/account"
	"github.com/marmos91/negotiate/cmd/negotiate/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "negotiate",
	Short: "HTTP Negotiate (Kerberos/NTLM) authentication server",
	Long: `negotiate authenticates HTTP clients with SPNEGO/Kerberos and NTLM.

Authentication is bound to the TCP connection: once a client completes the
Negotiate handshake, later requests on the same keep-alive connection are
served without re-authenticating. Authenticated requests can be handled
locally (/api/v1/whoami) or proxied to an upstream service.

Use "negotiate [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cmdutil.Flags.ConfigFile, "config", "", "config file (default: $XDG_CONFIG_HOME/negotiate/config.yaml)")
	flags.StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	flags.BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(account.Cmd)
	rootCmd.AddCommand(completionCmd)
}
