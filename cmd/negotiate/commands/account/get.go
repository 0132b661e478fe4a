package account

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/pkg/accounts"
)

var getCmd = &cobra.Command{
	Use:   "get <username>",
	Short: "Show an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	user, domain := parseAccountName(args[0], domainFlag)

	store, err := cmdutil.OpenAccountDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	acct, err := store.GetAccount(context.Background(), user, domain)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("account %q not found", args[0])
	}
	if err != nil {
		return err
	}

	return cmdutil.PrintOutput(os.Stdout, acct, false, "", accountList{acct})
}
