// commands.go contains the cobra command definitions. Each builder
// creates a command and wires it to its handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigName = "massgen.yaml"

// buildRunCmd creates the "run" command, the primary entry point: it
// runs one coordination turn per invocation.
func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a task through multi-agent coordination",
		Long: `Run one coordination turn: all configured agents work the task in
parallel, vote on the candidate answers, and the winner presents the
final result. The turn is persisted so the session can be resumed
later with --session.`,
		Example: `  # Fresh session
  massgen run "design a rate limiter"

  # Continue an earlier session
  massgen run --session 20260824T101500-3f2a "make it distributed"

  # Read the task from stdin
  echo "summarize this" | massgen run -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "",
		"Resume an existing session by id")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging")
	cmd.Flags().BoolVar(&opts.showReasoning, "show-reasoning", false,
		"Stream chain-of-thought output to the terminal")
	return cmd
}

// buildResumeCmd creates the "resume" command, shorthand for
// run --session.
func buildResumeCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "resume <session-id> [task]",
		Short: "Continue an existing session with a new task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.sessionID = args[0]
			return runRun(cmd, opts, args[1])
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging")
	cmd.Flags().BoolVar(&opts.showReasoning, "show-reasoning", false,
		"Stream chain-of-thought output to the terminal")
	return cmd
}

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsShowCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored session ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the turn history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	return cmd
}
