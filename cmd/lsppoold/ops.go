// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Flags shared by the position-addressed one-shot subcommands below.
var (
	opFile     string
	opLine     int
	opColumn   int
	opNewName  string
	opApply    bool
	opIncludeD bool
	opTimeout  time.Duration
)

func addPositionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&opFile, "file", "", "absolute path to the file")
	cmd.Flags().IntVar(&opLine, "line", 1, "one-based line number")
	cmd.Flags().IntVar(&opColumn, "column", 0, "zero-based UTF-16 column")
	cmd.MarkFlagRequired("file")
	cmd.Flags().DurationVar(&opTimeout, "timeout", 30*time.Second, "operation timeout")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var hoverCmd = &cobra.Command{
	Use:   "hover",
	Short: "Print hover information at a position",
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := newOperations()
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		defer ops.Manager().ShutdownAll(context.Background())

		info, err := ops.Hover(ctx, opFile, opLine, opColumn)
		if err != nil {
			return fmt.Errorf("hover: %w", err)
		}
		return printJSON(info)
	},
}

var definitionCmd = &cobra.Command{
	Use:   "definition",
	Short: "Print the definition location(s) of the symbol at a position",
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := newOperations()
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		defer ops.Manager().ShutdownAll(context.Background())

		locs, err := ops.Definition(ctx, opFile, opLine, opColumn)
		if err != nil {
			return fmt.Errorf("definition: %w", err)
		}
		return printJSON(locs)
	},
}

var referencesCmd = &cobra.Command{
	Use:   "references",
	Short: "Print every reference to the symbol at a position",
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := newOperations()
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		defer ops.Manager().ShutdownAll(context.Background())

		locs, err := ops.References(ctx, opFile, opLine, opColumn, opIncludeD)
		if err != nil {
			return fmt.Errorf("references: %w", err)
		}
		return printJSON(locs)
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename",
	Short: "Compute (and optionally apply) a rename of the symbol at a position",
	Long: `Computes the WorkspaceEdit that renaming the symbol at --file/--line/--column
to --new-name would produce and prints a unified diff preview.

Pass --apply to write the edit to disk; otherwise the files are left
untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if opNewName == "" {
			return fmt.Errorf("--new-name is required")
		}
		ops := newOperations()
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		defer ops.Manager().ShutdownAll(context.Background())

		edit, err := ops.Rename(ctx, opFile, opLine, opColumn, opNewName)
		if err != nil {
			return fmt.Errorf("rename: %w", err)
		}

		preview, err := ops.PreviewWorkspaceEdit(edit)
		if err != nil {
			return fmt.Errorf("preview rename: %w", err)
		}
		fmt.Fprint(os.Stdout, preview)

		if opApply {
			if err := ops.ApplyWorkspaceEdit(edit); err != nil {
				return fmt.Errorf("apply rename: %w", err)
			}
			fmt.Fprintln(os.Stderr, "applied.")
		}
		return nil
	},
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Print the current diagnostics for a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := newOperations()
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		defer ops.Manager().ShutdownAll(context.Background())

		diags, err := ops.Diagnostics(ctx, opFile)
		if err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
		return printJSON(diags)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop every language server this process has spawned",
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := newOperations()
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return ops.Manager().ShutdownAll(ctx)
	},
}

func init() {
	addPositionFlags(hoverCmd)
	addPositionFlags(definitionCmd)
	addPositionFlags(referencesCmd)
	referencesCmd.Flags().BoolVar(&opIncludeD, "include-declaration", true, "include the declaration itself in the results")
	addPositionFlags(renameCmd)
	renameCmd.Flags().StringVar(&opNewName, "new-name", "", "replacement name")
	renameCmd.Flags().BoolVar(&opApply, "apply", false, "write the computed edit to disk")
	diagnosticsCmd.Flags().StringVar(&opFile, "file", "", "absolute path to the file")
	diagnosticsCmd.MarkFlagRequired("file")
	diagnosticsCmd.Flags().DurationVar(&opTimeout, "timeout", 30*time.Second, "operation timeout")
}
