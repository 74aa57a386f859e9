// Package main provides the CLI entry point for the quorum orchestration
// core.
//
// Quorum coordinates a group chat of LLM participants (Claude, GPT, Gemini,
// Grok): who speaks, in what order, with which slice of the shared
// transcript, and which tools they may run. The CLI is an operator surface,
// not a chat frontend; it inspects configuration and participant
// availability.
//
// # Basic Usage
//
// Check the configured participants:
//
//	quorum models
//
// Validate a configuration file:
//
//	quorum config validate --config quorum.yaml
//
// # Environment Variables
//
//   - QUORUM_CONFIG: Path to configuration file (default: quorum.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude
//   - OPENAI_API_KEY: OpenAI API key for GPT
//   - GEMINI_API_KEY: Google AI API key for Gemini
//   - XAI_API_KEY: xAI API key for Grok
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quorum",
		Short: "Multi-model LLM orchestration core",
		Long: `Quorum coordinates a collaborative coding chat between multiple LLM
participants: mention parsing, speaking evaluation, turn ordering, context
budgeting, tool execution, and session persistence.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildVersionCmd(),
		buildModelsCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies the flag > environment > default precedence.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("QUORUM_CONFIG"); env != "" {
		return env
	}
	return "quorum.yaml"
}
