// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fallback implements the non-LSP strategies Operations falls back
// to when a language server is unavailable or a request to it fails:
// jedi for Python static analysis, ruff for Python linting, a tree-sitter
// tag indexer for document symbols, and a plain-text recursive search as
// the final tier for workspace symbols. Chain composes all of them: it
// implements lsp.FallbackChain (definition, references, hover) plus the
// optional document-symbols, workspace-symbols and diagnostics-fix methods
// that Operations detects by type assertion.
package fallback

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/aleutian-tools/lsppool/internal/lsp"
)

// skipIndexDirs is the same map as defaultSkipDirs, so Chain's workspace
// walk skips exactly the directories TextSearchFallback skips.
var skipIndexDirs = defaultSkipDirs

// Chain is the default fallback implementation wired into
// lsp.Operations.Fallback. It tries, per operation, a tiered sequence of
// non-LSP strategies and aggregates every failure into an
// lsp.UnavailableError if none succeed.
//
// Thread Safety: safe for concurrent use; holds no mutable state of its own.
type Chain struct {
	Jedi          *JediFallback
	Ruff          *RuffFallback
	Indexer       *Indexer
	TextSearch    *TextSearchFallback
	WorkspaceRoot string
}

// NewChain builds a Chain with every strategy enabled using its default
// configuration, rooted at workspaceRoot for workspace-wide searches.
func NewChain(workspaceRoot string) *Chain {
	return &Chain{
		Jedi:          NewJediFallback(),
		Ruff:          NewRuffFallback(),
		Indexer:       NewIndexer(),
		TextSearch:    NewTextSearchFallback(),
		WorkspaceRoot: workspaceRoot,
	}
}

func languageFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".pyi":
		return "python"
	default:
		return ""
	}
}

// Definition implements lsp.FallbackChain. Only Python is currently backed
// by a static-analysis fallback (jedi); every other language reports
// unavailable, naming jedi as skipped.
func (c *Chain) Definition(ctx context.Context, filePath string, line, col int) ([]lsp.Location, error) {
	log := newAttemptLog("definition")
	if languageFromPath(filePath) != "python" {
		log.skip("jedi")
		return nil, log.unavailable()
	}
	locs, err := c.Jedi.Definition(ctx, filePath, line, col)
	if err != nil {
		log.record("jedi", err)
		return nil, log.unavailable()
	}
	return locs, nil
}

// References implements lsp.FallbackChain.
func (c *Chain) References(ctx context.Context, filePath string, line, col int, includeDecl bool) ([]lsp.Location, error) {
	log := newAttemptLog("references")
	if languageFromPath(filePath) != "python" {
		log.skip("jedi")
		return nil, log.unavailable()
	}
	locs, err := c.Jedi.References(ctx, filePath, line, col, includeDecl)
	if err != nil {
		log.record("jedi", err)
		return nil, log.unavailable()
	}
	return locs, nil
}

// Hover implements lsp.FallbackChain.
func (c *Chain) Hover(ctx context.Context, filePath string, line, col int) (*lsp.HoverInfo, error) {
	log := newAttemptLog("hover")
	if languageFromPath(filePath) != "python" {
		log.skip("jedi")
		return nil, log.unavailable()
	}
	info, err := c.Jedi.Hover(ctx, filePath, line, col)
	if err != nil {
		log.record("jedi", err)
		return nil, log.unavailable()
	}
	return info, nil
}

// DocumentSymbols tries the tree-sitter indexer. Unlike
// Definition/References/Hover this is not part of lsp.FallbackChain; it is
// consulted through an optional-capability type assertion in
// Operations.DocumentSymbols instead of the core interface.
func (c *Chain) DocumentSymbols(ctx context.Context, filePath string) ([]lsp.SymbolInformation, error) {
	log := newAttemptLog("document_symbols")
	symbols, err := c.Indexer.DocumentSymbols(ctx, filePath)
	if err != nil {
		log.record("indexer", err)
		return nil, log.unavailable()
	}
	return symbols, nil
}

// WorkspaceSymbols tries the tree-sitter indexer across the workspace root
// first, falling back to a plain recursive text search when indexing finds
// nothing (unrecognized files, no matches) or fails outright.
func (c *Chain) WorkspaceSymbols(ctx context.Context, query string) ([]lsp.SymbolInformation, error) {
	log := newAttemptLog("workspace_symbols")
	if c.WorkspaceRoot == "" {
		log.skip("indexer")
		log.skip("textsearch")
		return nil, log.unavailable()
	}

	symbols, err := c.indexWorkspace(ctx, query)
	if err == nil && len(symbols) > 0 {
		return symbols, nil
	}
	if err != nil {
		log.record("indexer", err)
	} else {
		log.skip("indexer")
	}

	symbols, err = c.TextSearch.WorkspaceSymbols(ctx, c.WorkspaceRoot, query)
	if err != nil {
		log.record("textsearch", err)
		return nil, log.unavailable()
	}
	if len(symbols) == 0 {
		log.skip("textsearch")
		return nil, log.unavailable()
	}
	return symbols, nil
}

// indexWorkspace walks WorkspaceRoot, indexing every file the tree-sitter
// grammars recognize and keeping the symbols whose name contains query.
func (c *Chain) indexWorkspace(ctx context.Context, query string) ([]lsp.SymbolInformation, error) {
	max := c.TextSearch.MaxResults
	if max <= 0 {
		max = 100
	}
	queryLower := strings.ToLower(query)

	var symbols []lsp.SymbolInformation
	walkErr := filepath.WalkDir(c.WorkspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipIndexDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(symbols) >= max {
			return nil
		}
		if _, ok := indexerLanguages[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		found, err := c.Indexer.DocumentSymbols(ctx, path)
		if err != nil {
			return nil
		}
		for _, s := range found {
			if strings.Contains(strings.ToLower(s.Name), queryLower) {
				symbols = append(symbols, s)
				if len(symbols) >= max {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return symbols, walkErr
	}
	return symbols, ctx.Err()
}

// DiagnosticsFix applies ruff's automatic fixes to filePath and returns the
// diagnostics that remain. Only meaningful for Python files; other
// languages report unavailable.
func (c *Chain) DiagnosticsFix(ctx context.Context, filePath string) ([]lsp.Diagnostic, error) {
	log := newAttemptLog("diagnostics_fix")
	if languageFromPath(filePath) != "python" {
		log.skip("ruff")
		return nil, log.unavailable()
	}
	if !c.Ruff.IsAvailable() {
		log.skip("ruff")
		return nil, log.unavailable()
	}
	diags, err := c.Ruff.Fix(ctx, filePath)
	if err != nil {
		log.record("ruff", err)
		return nil, log.unavailable()
	}
	return diags, nil
}

var _ lsp.FallbackChain = (*Chain)(nil)
