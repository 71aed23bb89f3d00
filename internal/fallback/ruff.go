// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/aleutian-tools/lsppool/internal/lsp"
)

// ruffMessage is one entry of `ruff check --output-format=json`'s output.
type ruffMessage struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
	EndLocation struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"end_location"`
	Fix *struct {
		Message string `json:"message"`
	} `json:"fix"`
}

// RuffFallback answers Python diagnostics and code-action-fix queries via
// the `ruff` linter's JSON output and `--fix` mode, for use when no LSP
// diagnostics have been published for a file or a code-action-resolve call
// cannot be satisfied by the server.
//
// Thread Safety: safe for concurrent use; each call spawns its own process.
type RuffFallback struct {
	// RuffPath is the binary to invoke. Defaults to "ruff".
	RuffPath string

	// Timeout bounds a single invocation. Defaults to 15s.
	Timeout time.Duration
}

// NewRuffFallback creates a fallback using the system ruff binary.
func NewRuffFallback() *RuffFallback {
	return &RuffFallback{RuffPath: "ruff", Timeout: 15 * time.Second}
}

func (r *RuffFallback) binary() string {
	if r.RuffPath == "" {
		return "ruff"
	}
	return r.RuffPath
}

func (r *RuffFallback) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 15 * time.Second
	}
	return r.Timeout
}

// Diagnostics runs `ruff check --output-format=json` on filePath and
// converts its findings to Diagnostic values.
func (r *RuffFallback) Diagnostics(ctx context.Context, filePath string) ([]lsp.Diagnostic, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.binary(), "check", "--output-format=json", filePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// ruff exits non-zero when it finds issues; that is expected and not a
	// failure as long as it produced JSON on stdout.
	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("ruff: timed out after %s", r.timeout())
	}
	if err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("ruff: %w: %s", err, stderr.String())
	}

	var messages []ruffMessage
	if err := json.Unmarshal(stdout.Bytes(), &messages); err != nil {
		return nil, fmt.Errorf("ruff: parse output: %w", err)
	}

	diags := make([]lsp.Diagnostic, 0, len(messages))
	for _, m := range messages {
		diags = append(diags, lsp.Diagnostic{
			Range: lsp.Range{
				Start: lsp.Position{Line: m.Location.Row - 1, Character: m.Location.Column - 1},
				End:   lsp.Position{Line: m.EndLocation.Row - 1, Character: m.EndLocation.Column - 1},
			},
			Severity: lsp.DiagnosticSeverityWarning,
			Code:     m.Code,
			Source:   "ruff",
			Message:  m.Message,
		})
	}
	return diags, nil
}

// Fix runs `ruff check --fix` on filePath, applying every automatically
// fixable issue in place, and returns the diagnostics that remain.
func (r *RuffFallback) Fix(ctx context.Context, filePath string) ([]lsp.Diagnostic, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.binary(), "check", "--fix", filePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("ruff: timed out after %s", r.timeout())
	}
	// A non-zero exit after --fix just means issues remain; only a stderr
	// complaint with no recognizable exit status indicates real failure.
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("ruff --fix: %w: %s", err, stderr.String())
		}
	}

	return r.Diagnostics(ctx, filePath)
}

// IsAvailable reports whether the ruff binary can be found on PATH.
func (r *RuffFallback) IsAvailable() bool {
	_, err := exec.LookPath(r.binary())
	return err == nil
}
