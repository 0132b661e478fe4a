package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running negotiate server",
	Long: `Stop a negotiate server started with --pid-file.

By default SIGTERM is sent and the server drains in-flight requests within
server.shutdown_timeout. Use --force for SIGKILL.

Examples:
  negotiate stop --pid-file /run/negotiate.pid
  negotiate stop --pid-file /run/negotiate.pid --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to the PID file written by start (required)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill (SIGKILL) instead of graceful shutdown (SIGTERM)")
	_ = stopCmd.MarkFlagRequired("pid-file")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidData, err := os.ReadFile(stopPidFile)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("PID file not found: %s\n\nIs the server running?", stopPidFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid PID in file: %q", strings.TrimSpace(string(pidData)))
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	sig, name := syscall.SIGTERM, "SIGTERM"
	if stopForce {
		sig, name = syscall.SIGKILL, "SIGKILL"
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Sending %s to process %d...\n", name, pid)

	err = process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		_, _ = fmt.Fprintln(out, "Server already stopped")
		_ = os.Remove(stopPidFile)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}

	if stopForce {
		_, _ = fmt.Fprintln(out, "Server terminated")
	} else {
		_, _ = fmt.Fprintln(out, "Shutdown signal sent. Server will stop gracefully.")
	}
	return nil
}
