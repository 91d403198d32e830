// Command circuitd hosts interactive circuits over WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "circuitd",
		Short: "Circuit host server",
		Long: `circuitd hosts long-lived interactive sessions ("circuits") driven
by remote clients over WebSocket. Each circuit runs its own serialized
execution loop, survives transport disconnects, and is evicted after a
configurable resume window.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
