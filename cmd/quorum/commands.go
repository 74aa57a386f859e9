package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quorumchat/quorum/internal/config"
	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/internal/tools"
	"github.com/quorumchat/quorum/internal/tools/builtin"
)

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quorum %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildModelsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show configured model participants and their availability",
		Long: `List every configured participant with its concrete model id and whether
a credential is present. A participant without a credential stays registered
but never speaks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARTICIPANT\tNAME\tMODEL\tAVAILABLE")
			for _, id := range registry.IDs() {
				client, _ := registry.Get(id)
				available := "no"
				if client.Available() {
					available = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					client.ID(), client.DisplayName(), client.ModelID(), available)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildToolsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show the built-in tool set with permission levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			registry := tools.NewRegistry()
			if err := builtin.Register(registry, builtin.Config{
				Workspace:       cfg.Tools.Workspace,
				BlockedPaths:    cfg.Tools.BlockedPaths,
				BlockedCommands: cfg.Tools.BlockedCommands,
			}); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tCATEGORY\tPERMISSION\tPARALLEL")
			for _, name := range registry.Names() {
				tool, _ := registry.Get(name)
				parallel := "no"
				if tool.ParallelSafe {
					parallel = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					name, tool.Category, tool.Permission, parallel)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Example: `  # Validate the default quorum.yaml
  quorum config validate

  # Validate a specific file
  quorum config validate --config /etc/quorum/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s is valid\n  storage backend: %s\n  first responder strategy: %s\n  silence threshold: %.2f\n",
				path, cfg.Storage.Backend,
				cfg.Orchestration.FirstResponderStrategy,
				cfg.Orchestration.SilenceThreshold)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// loadConfig reads the resolved config file, falling back to defaults when
// the implicit path does not exist. An explicitly passed path must exist.
func loadConfig(flagValue string) (*config.Config, error) {
	path := resolveConfigPath(flagValue)
	if _, err := os.Stat(path); err != nil {
		if flagValue == "" && os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return config.Load(path)
}

// buildRegistry constructs the participant clients the configuration
// enables. Credentials are resolved inside each constructor.
func buildRegistry(cfg *config.Config) (*providers.Registry, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	registry := providers.NewRegistry()
	if m := cfg.Models.Claude; m.IsEnabled() {
		if err := registry.Register(providers.NewClaudeClient(providers.ClaudeConfig{
			APIKey:      m.APIKey,
			ModelID:     m.ModelID,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
			Logger:      logger,
		})); err != nil {
			return nil, err
		}
	}
	if m := cfg.Models.GPT; m.IsEnabled() {
		if err := registry.Register(providers.NewGPTClient(providers.GPTConfig{
			APIKey:      m.APIKey,
			ModelID:     m.ModelID,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
			Logger:      logger,
		})); err != nil {
			return nil, err
		}
	}
	if m := cfg.Models.Gemini; m.IsEnabled() {
		if err := registry.Register(providers.NewGeminiClient(providers.GeminiConfig{
			APIKey:      m.APIKey,
			ModelID:     m.ModelID,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
			Logger:      logger,
		})); err != nil {
			return nil, err
		}
	}
	if m := cfg.Models.Grok; m.IsEnabled() {
		if err := registry.Register(providers.NewGrokClient(providers.GrokConfig{
			APIKey:      m.APIKey,
			ModelID:     m.ModelID,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
			Logger:      logger,
		})); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
