// Package cmdutil provides shared utilities for negotiate commands.
package cmdutil

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/negotiate/internal/cli/output"
	"github.com/marmos91/negotiate/internal/cli/prompt"
	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/accounts"
	"github.com/marmos91/negotiate/pkg/config"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	NoColor    bool
}

// LoadConfig loads the configuration selected by --config.
func LoadConfig() (*config.Config, error) {
	return config.MustLoad(Flags.ConfigFile)
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// OpenAccountDatabase opens the account database named in the
// configuration. Static accounts live in the config file and cannot be
// managed from the command line.
func OpenAccountDatabase() (*accounts.GORMStore, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Accounts.Database.Type == config.DatabaseTypeNone {
		return nil, fmt.Errorf("no account database configured (accounts.database.type is %q)", config.DatabaseTypeNone)
	}

	// Keep gorm and store logs out of command output.
	logger.SetLevel("ERROR")

	store, err := accounts.Open(&cfg.Accounts.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open account database: %w", err)
	}
	return store, nil
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintOutput prints data in the --output format. Tables show emptyMsg
// instead of an empty table.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	if format == output.FormatTable && isEmpty {
		_, _ = fmt.Fprintln(w, emptyMsg)
		return nil
	}
	return output.Render(w, format, data, tableRenderer)
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, !Flags.NoColor).Success(msg)
}

// PrintWarning prints a warning to stderr.
func PrintWarning(msg string) {
	output.NewPrinter(os.Stderr, !Flags.NoColor).Warning(msg)
}

// RunDeleteWithConfirmation prompts for confirmation (unless force is true) and runs deleteFn.
func RunDeleteWithConfirmation(resourceType, name string, force bool, deleteFn func() error) error {
	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete %s '%s'?", resourceType, name), force)
	if err != nil {
		return HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	if err := deleteFn(); err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("%s '%s' deleted successfully", resourceType, name))
	return nil
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// HandleAbort checks if error is an abort (Ctrl+C) and prints a message.
// Returns nil for abort (user cancelled), otherwise returns the original error.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}
