package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/pkg/accounts"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete an account",
	Long: `Delete an account from the account database.

Connections already authenticated as the account stay authenticated until
they close.

Examples:
  # Delete with confirmation
  negotiate account delete alice

  # Delete without confirmation
  negotiate account delete 'CORP\alice' --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
	user, domain := parseAccountName(args[0], domainFlag)

	store, err := cmdutil.OpenAccountDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	return cmdutil.RunDeleteWithConfirmation("Account", args[0], deleteForce, func() error {
		err := store.DeleteAccount(context.Background(), user, domain)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return fmt.Errorf("account %q not found", args[0])
		}
		return err
	})
}
