// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lsppoold runs a persistent pool of language server subprocesses
// and exposes editor-facing operations over HTTP, or as one-shot CLI
// subcommands for scripting.
package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aleutian-tools/lsppool/internal/fallback"
	"github.com/aleutian-tools/lsppool/internal/lsp"
)

var (
	workspaceRoot string
	idleTimeout   time.Duration
	logLevel      string

	rootCmd = &cobra.Command{
		Use:   "lsppoold",
		Short: "Persistent pool manager for Language Server Protocol subprocesses",
		Long: `lsppoold owns a pool of language server subprocesses (gopls, pyright,
typescript-language-server, and any other server registered in lspconfig),
multiplexing requests from many callers over each server's stdio pipe.

Run "lsppoold serve" to expose the pool over HTTP, or use the one-shot
subcommands (hover, definition, references, rename, diagnostics) to drive
it directly from a script.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
)

func init() {
	cwd, _ := os.Getwd()
	rootCmd.PersistentFlags().StringVar(&workspaceRoot, "root", cwd, "workspace root the pool's servers operate on")
	rootCmd.PersistentFlags().DurationVar(&idleTimeout, "idle-timeout", 10*time.Minute, "shut down a language server after this much inactivity")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(shutdownCmd)
}

func newOperations() *lsp.Operations {
	cfg := lsp.DefaultManagerConfig()
	cfg.IdleTimeout = idleTimeout
	mgr := lsp.NewManager(workspaceRoot, cfg)
	ops := lsp.NewOperations(mgr)
	ops.Fallback = fallback.NewChain(workspaceRoot)
	return ops
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("lsppoold: %v", err)
	}
}
