package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CommonRoad/sandra/internal/config"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigShowCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}

func buildConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			// Keys never leave the process.
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = "[REDACTED]"
			}
			if cfg.LLM.AnthropicAPIKey != "" {
				cfg.LLM.AnthropicAPIKey = "[REDACTED]"
			}
			rendered, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(rendered))
			return nil
		},
	}
}
