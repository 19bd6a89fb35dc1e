package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dimasma0305/hackforge/internal/hackforge/blueprint"
	"github.com/dimasma0305/hackforge/internal/hackforge/config"
	"github.com/dimasma0305/hackforge/internal/log"
)

var blueprintsCmd = &cobra.Command{
	Use:   "blueprints",
	Short: "List available machine blueprints",
	Long: `Load the blueprint catalog and print every valid blueprint.

Invalid blueprint files are reported and skipped, matching the server's
loading behavior.`,
	Example: `  # List blueprints from the configured directory
  hackforge blueprints

  # Use a different configuration
  hackforge blueprints --config staging.yaml`,
	RunE: func(_ *cobra.Command, _ []string) error {
		conf, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}

		registry := blueprint.NewRegistry(conf.Blueprints.Dir)
		if err := registry.Load(); err != nil {
			return err
		}

		for _, bp := range registry.List() {
			log.Info("%s — %s", bp.ID, bp.Name)
			log.InfoH2("category: %s, difficulty %d-%d, %d variant(s)",
				bp.Category, bp.DifficultyRange[0], bp.DifficultyRange[1], len(bp.Variants))
			for _, v := range bp.Variants {
				log.InfoH3("%s (difficulty %d)", v.Name, v.Difficulty)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(blueprintsCmd)
}
