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
		Use:   "devpulse",
		Short: "Real-time work session synchronization server",
		Long: `DevPulse keeps every device a developer has open in sync with one
authoritative view of their work sessions: start, pause, resume and
stop flow in over WebSocket, elapsed-time ticks flow out every second,
and abandoned sessions are purged in the background.`,
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
