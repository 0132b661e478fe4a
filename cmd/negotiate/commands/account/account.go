// Package account implements NTLM account management commands.
package account

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/internal/cli/output"
	"github.com/marmos91/negotiate/pkg/accounts"
)

// Cmd is the parent command for account management.
var Cmd = &cobra.Command{
	Use:   "account",
	Short: "NTLM account management",
	Long: `Manage the NTLM accounts stored in the account database.

Accounts are addressed as "user" or "DOMAIN\user". An account without a
domain authenticates in any domain the client names. Static accounts from
the configuration file are not listed here.

Examples:
  # Add an account interactively
  negotiate account add alice

  # Add a domain-bound account
  negotiate account add 'CORP\alice'

  # List accounts
  negotiate account list

  # Disable an account
  negotiate account disable alice`,
}

var domainFlag string

func init() {
	Cmd.PersistentFlags().StringVarP(&domainFlag, "domain", "d", "", "NTLM domain of the account (overrides DOMAIN\\ in the name)")

	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(passwdCmd)
	Cmd.AddCommand(enableCmd)
	Cmd.AddCommand(disableCmd)
}

// parseAccountName splits "DOMAIN\user" and applies the --domain flag.
func parseAccountName(arg, domain string) (string, string) {
	user := arg
	if d, u, ok := strings.Cut(arg, `\`); ok {
		user = u
		if domain == "" {
			domain = d
		}
	}
	return user, domain
}

// accountList renders accounts as a table.
type accountList []*accounts.Account

func (l accountList) Headers() []string {
	return []string{"PRINCIPAL", "ENABLED", "CREATED", "UPDATED"}
}

func (l accountList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, a := range l {
		enabled := "yes"
		if !a.Enabled {
			enabled = "no"
		}
		rows = append(rows, []string{
			a.Principal(),
			enabled,
			a.CreatedAt.Local().Format("2006-01-02 15:04"),
			a.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

var _ output.TableRenderer = accountList(nil)
