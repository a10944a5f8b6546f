// Package cmd contains the ragpal CLI commands.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ragpal/ragpal/internal/log"
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "ragpal",
	Short: "RAG-powered chat assistant with a pluggable knowledge base",
	Long: `ragpal serves a retrieval-augmented chat assistant.

Submitted documents are chunked, embedded, and stored in a vector store.
Chat queries retrieve the most relevant chunks and ground the streamed
model response in them.

Run "ragpal serve" to start the HTTP API, or "ragpal ask" for a one-shot
question from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "log in JSON format")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLog})
}
