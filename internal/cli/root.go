package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Craig-0219/potato-autoA/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Persistent flag values shared by every command.
var (
	configPath string
	dataDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "autoa",
	Short: "Screen-driven automation for desktop messaging workflows",
	Long: `autoa runs declarative task files against a desktop application by
locating template images on screen and driving the mouse and keyboard.

A task greets every recipient of a CSV list, pacing itself with humanized
delays, honoring per-run and daily caps, and checkpointing after every
step so an interrupted campaign resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("autoa version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "data directory for checkpoints, reports and counters (default: logs.dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context, which stops a run at the next step boundary.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// Exit codes returned by the autoa binary.
const (
	ExitOK         = 0
	ExitFailed     = 1 // a run failed or ended on a fatal condition
	ExitDefinition = 2 // malformed task, recipients or configuration
	ExitLocked     = 3 // another run is active
	ExitCancelled  = 130
)

// ExitError carries a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if config.IsValidationError(err) {
		return ExitDefinition
	}
	return ExitFailed
}
