// Package cmd wires the spotrun command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidelinehq/spotrun/internal/observability"
)

var (
	cfgFile  string
	jobFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "spotrun",
	Short: "Run a batch job on interruptible cloud capacity",
	Long: `spotrun runs one computational job on a disposable (typically spot)
host: it fetches inputs from object storage, fans the work out across a
bounded pool of worker processes, uploads the results, and tears the host
down cleanly whether the run ends in success, failure, an operator signal,
or a cloud interruption notice.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&jobFile, "job", "job.yaml", "job definition file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level (debug|info|warn|error)")
}

// exitCode lets the run command report the job's own status without
// abusing the error return; cobra errors stay reserved for usage and
// setup failures.
var exitCode int

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		_ = observability.CLILogger.Sync()
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}
