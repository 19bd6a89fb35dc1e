package cmd

import (
	"fmt"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/dimasma0305/hackforge/internal/hackforge/config"
	"github.com/dimasma0305/hackforge/internal/log"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a hackforge configuration file",
	Long: `Interactively scaffold a hackforge.yaml configuration file.

Prompts for the server bind address, blueprint directory, database driver,
flag prefix, and optional Discord webhook, then writes the configuration
next to the current working directory.`,
	Example: `  # Create hackforge.yaml in the current directory
  hackforge init

  # Write to a custom location
  hackforge init --config /etc/hackforge/hackforge.yaml`,
	RunE: func(_ *cobra.Command, _ []string) error {
		conf := config.Default()

		prompts := []*survey.Question{
			{
				Name:   "host",
				Prompt: &survey.Input{Message: "Server host:", Default: conf.Server.Host},
			},
			{
				Name:   "port",
				Prompt: &survey.Input{Message: "Server port:", Default: strconv.Itoa(conf.Server.Port)},
			},
			{
				Name: "driver",
				Prompt: &survey.Select{
					Message: "Database driver:",
					Options: []string{"sqlite", "postgres"},
					Default: conf.Database.Driver,
				},
			},
			{
				Name:   "blueprints",
				Prompt: &survey.Input{Message: "Blueprint directory:", Default: conf.Blueprints.Dir},
			},
			{
				Name:   "prefix",
				Prompt: &survey.Input{Message: "Flag prefix:", Default: conf.Flags.Prefix},
			},
			{
				Name:   "webhook",
				Prompt: &survey.Input{Message: "Discord webhook URL (optional):"},
			},
		}

		answers := struct {
			Host       string `survey:"host"`
			Port       string `survey:"port"`
			Driver     string `survey:"driver"`
			Blueprints string `survey:"blueprints"`
			Prefix     string `survey:"prefix"`
			Webhook    string `survey:"webhook"`
		}{}

		if err := survey.Ask(prompts, &answers); err != nil {
			return fmt.Errorf("init canceled: %w", err)
		}

		port, err := strconv.Atoi(answers.Port)
		if err != nil {
			return fmt.Errorf("invalid port %q", answers.Port)
		}

		conf.Server.Host = answers.Host
		conf.Server.Port = port
		conf.Database.Driver = answers.Driver
		conf.Blueprints.Dir = answers.Blueprints
		conf.Flags.Prefix = answers.Prefix
		conf.Notify.DiscordWebhook = answers.Webhook

		if answers.Driver == "postgres" {
			dsnPrompt := &survey.Input{Message: "Postgres DSN:"}
			if err := survey.AskOne(dsnPrompt, &conf.Database.DSN); err != nil {
				return fmt.Errorf("init canceled: %w", err)
			}
		}

		if err := conf.Validate(); err != nil {
			return err
		}

		path := config.ResolvePath(configPath)
		if err := conf.Save(path); err != nil {
			return err
		}

		log.Info("Configuration written to %s", path)
		log.InfoH2("Start the server with: hackforge serve")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
