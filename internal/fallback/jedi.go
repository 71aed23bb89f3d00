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

// jediDriver is a small embedded Python program, passed to the interpreter
// as the argument of `python3 -c`, that drives the `jedi` package the way `jedi-language-server` does
// internally but without speaking LSP: one call in, one JSON object out.
// Reading args from argv keeps this free of any shell-quoting concerns.
const jediDriver = `
import sys, json
import jedi

mode, path, line, col = sys.argv[1], sys.argv[2], int(sys.argv[3]), int(sys.argv[4])
with open(path, "r", encoding="utf-8") as f:
    source = f.read()

script = jedi.Script(code=source, path=path)

def emit(obj):
    sys.stdout.write(json.dumps(obj))
    sys.stdout.flush()

try:
    if mode == "goto":
        results = script.goto(line, col, follow_imports=True)
    elif mode == "references":
        results = script.get_references(line, col)
    elif mode == "hover":
        results = script.help(line, col)
    else:
        emit({"error": "unknown mode"})
        sys.exit(1)

    out = []
    for r in results:
        if r.module_path is None:
            continue
        out.append({
            "path": str(r.module_path),
            "line": r.line,
            "column": r.column,
            "name": r.name or "",
            "description": r.description or "",
            "docstring": r.docstring() if mode == "hover" else "",
        })
    emit({"results": out})
except Exception as e:
    emit({"error": str(e)})
    sys.exit(1)
`

type jediResult struct {
	Path        string `json:"path"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Docstring   string `json:"docstring"`
}

type jediOutput struct {
	Results []jediResult `json:"results"`
	Error   string       `json:"error"`
}

// JediFallback answers Python hover/definition/reference queries by shelling
// out to the `jedi` static-analysis library, for use when no `python` LSP
// server is registered or the primary request fails.
//
// Thread Safety: safe for concurrent use; each call spawns its own process.
type JediFallback struct {
	// PythonPath is the interpreter to invoke. Defaults to "python3".
	PythonPath string

	// Timeout bounds a single invocation. Defaults to 10s.
	Timeout time.Duration
}

// NewJediFallback creates a fallback using the system python3 interpreter.
func NewJediFallback() *JediFallback {
	return &JediFallback{PythonPath: "python3", Timeout: 10 * time.Second}
}

func (j *JediFallback) run(ctx context.Context, mode, filePath string, line, col int) (jediOutput, error) {
	interp := j.PythonPath
	if interp == "" {
		interp = "python3"
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, interp, "-c", jediDriver, mode, filePath, fmt.Sprint(line), fmt.Sprint(col))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return jediOutput{}, fmt.Errorf("jedi: timed out after %s", timeout)
		}
		if stdout.Len() == 0 {
			return jediOutput{}, fmt.Errorf("jedi: %w: %s", err, stderr.String())
		}
	}

	var out jediOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return jediOutput{}, fmt.Errorf("jedi: parse output: %w", err)
	}
	if out.Error != "" {
		return jediOutput{}, fmt.Errorf("jedi: %s", out.Error)
	}
	return out, nil
}

// Definition implements lsp.FallbackChain.
func (j *JediFallback) Definition(ctx context.Context, filePath string, line, col int) ([]lsp.Location, error) {
	out, err := j.run(ctx, "goto", filePath, line, col)
	if err != nil {
		return nil, err
	}
	return jediResultsToLocations(out.Results), nil
}

// References implements lsp.FallbackChain. includeDecl is accepted for
// interface compatibility; jedi's get_references always includes the
// declaration, so narrower behavior is not currently offered.
func (j *JediFallback) References(ctx context.Context, filePath string, line, col int, includeDecl bool) ([]lsp.Location, error) {
	out, err := j.run(ctx, "references", filePath, line, col)
	if err != nil {
		return nil, err
	}
	return jediResultsToLocations(out.Results), nil
}

// Hover implements lsp.FallbackChain.
func (j *JediFallback) Hover(ctx context.Context, filePath string, line, col int) (*lsp.HoverInfo, error) {
	out, err := j.run(ctx, "hover", filePath, line, col)
	if err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	r := out.Results[0]
	content := r.Description
	if r.Docstring != "" {
		content += "\n\n" + r.Docstring
	}
	return &lsp.HoverInfo{Content: content, Kind: "plaintext"}, nil
}

func jediResultsToLocations(results []jediResult) []lsp.Location {
	locs := make([]lsp.Location, 0, len(results))
	for _, r := range results {
		locs = append(locs, lsp.Location{
			URI: "file://" + r.Path,
			Range: lsp.Range{
				Start: lsp.Position{Line: r.Line - 1, Character: r.Column},
				End:   lsp.Position{Line: r.Line - 1, Character: r.Column},
			},
		})
	}
	return locs
}

var _ lsp.FallbackChain = (*JediFallback)(nil)
