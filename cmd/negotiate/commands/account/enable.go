package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/negotiate/cmd/negotiate/cmdutil"
	"github.com/marmos91/negotiate/pkg/accounts"
)

var enableCmd = &cobra.Command{
	Use:   "enable <username>",
	Short: "Enable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Disable an account",
	Long: `Disable an account without deleting it.

Disabled accounts fail NTLM authentication as if they did not exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], false)
	},
}

func setEnabled(name string, enabled bool) error {
	user, domain := parseAccountName(name, domainFlag)

	store, err := cmdutil.OpenAccountDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.SetEnabled(context.Background(), user, domain, enabled)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("account %q not found", name)
	}
	if err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	cmdutil.PrintSuccess(fmt.Sprintf("Account '%s' %s", name, state))
	return nil
}
