// Package main provides the peanutchat CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/laundryguy77/PeanutChat-sub000/cli"
)

var (
	// Global flags
	provider string
	verbose  bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "peanutchat",
		Short: "Streaming LLM chat with automatic context compaction",
		Long: `A chat service that keeps long conversations inside the model's
context window by folding older history into a running summary.

Turns stream thinking and content tokens as they arrive, dispatch tool
calls, and persist everything to a per-owner conversation ledger.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "openai", "LLM provider (openai, anthropic, deepseek)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat server",
		Long: `Run the HTTP server exposing the streaming chat endpoint (SSE) and
conversation management routes. Configuration comes from environment
variables (NUM_CTX, COMPACTION_*, THINKING_TOKEN_LIMIT_*, provider keys).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(context.Background(), cli.Options{
				Provider: provider,
				Verbose:  verbose,
			})
		},
	}
}

func chatCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(context.Background(), conversationID, cli.Options{
				Provider: provider,
				Verbose:  verbose,
			})
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue an existing conversation")
	return cmd
}
