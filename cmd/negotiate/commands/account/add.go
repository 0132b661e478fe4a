package account

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/internal/cli/output"
	"github.com/marmos91/negotiate/internal/cli/prompt"
	"github.com/marmos91/negotiate/pkg/accounts"
)

var addPassword string

var addCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add an account",
	Long: `Add an NTLM account to the account database.

Only the NT hash of the password is stored.

Examples:
  # Prompt for the password
  negotiate account add alice

  # Bind the account to a domain
  negotiate account add alice --domain CORP

  # Password from a flag (less secure)
  negotiate account add alice --password secret`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addPassword, "password", "p", "", "Password (prompts if not provided)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	user, domain := parseAccountName(args[0], domainFlag)

	password := addPassword
	if password == "" {
		var err error
		password, err = prompt.PasswordWithConfirmation("Password", "Confirm password")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	store, err := cmdutil.OpenAccountDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	acct, err := store.CreateAccount(context.Background(), user, domain, password)
	if errors.Is(err, accounts.ErrDuplicateAccount) {
		return fmt.Errorf("account %q already exists", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to add account: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintOutput(os.Stdout, acct, false, "", accountList{acct})
	}
	cmdutil.PrintSuccess(fmt.Sprintf("Account '%s' added", acct.Principal()))
	return nil
}
