package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/taskpilot/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage TaskPilot configuration",
		Long: `Create, view, and validate the TaskPilot configuration.

Subcommands:
  init         Write a config file with default values
  show         Show current configuration
  validate     Validate configuration
  path         Show config file path

Configuration File Location:
  Default: ~/.taskpilot/config.yaml
  Override with --config flag

Secrets can reference environment variables:
  telegram:
    token: ${TELEGRAM_BOT_TOKEN}`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Telegram.Token = "${TELEGRAM_BOT_TOKEN}"
			cfg.Notion.Token = "${NOTION_TOKEN}"
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, successStyle.Render("✓ Config written to "+path))
			fmt.Fprintln(out, dimStyle.Render("  Fill in partitions.primary and run 'taskpilot config validate'"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long: `Display the configuration loaded from the config file, with defaults
applied. Tokens are masked.

Examples:
  taskpilot config show
  taskpilot config show --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), maskSecrets(cfg), outputJSON)
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	return cmd
}

func writeConfig(w io.Writer, cfg *config.Config, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// maskSecrets returns a copy of cfg with tokens replaced.
func maskSecrets(cfg *config.Config) *config.Config {
	masked := *cfg
	if cfg.Telegram != nil {
		t := *cfg.Telegram
		t.Token = maskToken(t.Token)
		masked.Telegram = &t
	}
	if cfg.Notion != nil {
		n := *cfg.Notion
		n.Token = maskToken(n.Token)
		masked.Notion = &n
	}
	return &masked
}

func maskToken(token string) string {
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return "****"
	default:
		return token[:4] + "****"
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long: `Check the configuration file for syntax errors and missing settings.

Every problem found is reported, not just the first.

Exit Codes:
  0    Configuration is valid
  1    Syntax errors or validation failures`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return fmt.Errorf("config file does not exist: %s", path)
			}

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("invalid YAML syntax: %w", err)
			}

			out := cmd.OutOrStdout()
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(out, failStyle.Render("✗ Configuration is invalid:"))
				fmt.Fprintln(out, err)
				return fmt.Errorf("validation failed")
			}

			fmt.Fprintln(out, successStyle.Render("✓ Configuration is valid"))
			fmt.Fprintln(out, field("sink", cfg.Sink))
			fmt.Fprintln(out, field("classifier", cfg.Classifier.Mode))
			fmt.Fprintln(out, field("recurring", cfg.Recurring.Storage+" "+cfg.Recurring.Path))
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	}
}
