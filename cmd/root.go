// Package cmd provides command-line interface commands for hackforge
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dimasma0305/hackforge/internal/log"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hackforge",
	Short: "Campaign server for vulnerable training machines",
	Long: `hackforge - Campaign and container orchestration backend

Generates intentionally vulnerable practice machines from blueprints,
runs them as containers, and validates captured flags.

Features:
  • Campaign lifecycle with asynchronous provisioning
  • Blueprint catalog with hot reload
  • Flag validation with attempt-discounted scoring
  • Bulk container orchestration with per-item results
  • Discord and email solve notifications`,
	Example: `  # Scaffold a configuration file
  hackforge init

  # Start the API server
  hackforge serve

  # List available blueprints
  hackforge blueprints

  # Follow the server log
  hackforge logs -f`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		// Enable debug mode if flag is set
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			log.SetDebugMode(true)
			log.Debug("Debug mode enabled")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to hackforge.yaml")
}
