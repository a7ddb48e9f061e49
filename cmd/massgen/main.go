// Package main provides the massgen CLI: multi-agent coordination in
// which agents answer a task in parallel, vote on each other's answers,
// and the winner presents the final result.
//
// # Basic Usage
//
// Run a task with the configured agents:
//
//	massgen run --config massgen.yaml "compare these two designs"
//
// Resume a prior session with its conversation history:
//
//	massgen run --session 20260824T101500-3f2a "now add error handling"
//
// List stored sessions:
//
//	massgen sessions list
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: default key for anthropic agents
//   - OPENAI_API_KEY: default key for openai agents
//
// Per-agent keys can name their own variable via api_key_env.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "massgen",
		Short: "massgen - multi-agent answer/vote coordination",
		Long: `massgen runs a task against several LLM agents in parallel. Agents
see each other's candidate answers, vote, and may restart the attempt;
the winning agent presents the final answer.

Supported providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildSessionsCmd(),
	)
	return rootCmd
}
