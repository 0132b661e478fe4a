package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/internal/cli/prompt"
	"github.com/marmos91/negotiate/pkg/accounts"
)

var newPassword string

var passwdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change an account's password",
	Long: `Replace the stored NT hash of an account.

Examples:
  # Change password interactively
  negotiate account passwd alice

  # Change password with flag (less secure)
  negotiate account passwd alice --password newsecret`,
	Args: cobra.ExactArgs(1),
	RunE: runPasswd,
}

func init() {
	passwdCmd.Flags().StringVarP(&newPassword, "password", "p", "", "New password (prompts if not provided)")
}

func runPasswd(cmd *cobra.Command, args []string) error {
	user, domain := parseAccountName(args[0], domainFlag)

	password := newPassword
	if password == "" {
		var err error
		password, err = prompt.PasswordWithConfirmation("New password", "Confirm password")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	store, err := cmdutil.OpenAccountDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.SetPassword(context.Background(), user, domain, password)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("account %q not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Password changed for account '%s'", args[0]))
	return nil
}
