// Proctord
//
// Workspace provisioning and screenshot-based proctoring for browser
// coding assessments. Start an editor container per candidate, capture
// evidence on a schedule and on every submission.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "proctord",
	Short: "Proctord - Assessment Workspace Proctoring",
	Long: `Proctord provisions per-candidate editor workspaces and captures
screenshot evidence during browser coding assessments.

  proctord serve                                 Start the server
  proctord workspace start alice --lang python   Provision a workspace
  proctord workspace stop alice                  Release a workspace
  proctord workspace list                        List active workspaces
  proctord capture alice                         Capture one screenshot now
  proctord capture --all                         Capture every active workspace
  proctord artifacts alice                       List a candidate's artifacts
  proctord stats                                 Storage statistics`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PROCTORD_SERVER", "http://localhost:7090"), "Proctord server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
