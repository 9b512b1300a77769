package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// metricsAddr is the target daemon's metrics HTTP address (host:port),
	// used by the health command.
	metricsAddr string

	// outputFormat controls the output format for commands that print
	// structured data (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for spdmctl.
var rootCmd = &cobra.Command{
	Use:   "spdmctl",
	Short: "Operator CLI for the spdm-core reference requester and responder binaries",
	Long:  "spdmctl reports build version information and checks reachability of a running daemon's metrics endpoint. It does not participate in the SPDM protocol itself.",
	// Silence cobra's built-in usage/error printing so Execute controls it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "localhost:9100",
		"daemon metrics address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(healthCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
