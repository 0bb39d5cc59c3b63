package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "companion",
		Short: "Context-aware desktop feedback server",
		Long: `companion receives desktop activity captures, keeps a sliding window of
recent context, and periodically asks a local reasoning model for short,
persona-flavored feedback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newKeygenCmd(), newCheckCmd(), newWatchCmd())
	return root
}

// setupLogger installs the default slog handler.
func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)
}

// configPath returns the --config flag value, falling back to COMPANION_CONFIG.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return os.Getenv("COMPANION_CONFIG")
}
