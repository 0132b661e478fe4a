package account

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := cmdutil.OpenAccountDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListAccounts(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, list, len(list) == 0, "No accounts found.", accountList(list))
}
