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
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aleutian-tools/lsppool/internal/lsp"
)

// declKeywordPattern matches a line that plausibly declares something named like
// the search query, across the C-family/Python/JS/TS/Go declaration
// keywords this indexer cares about. It is deliberately permissive: a false
// positive here is a spurious extra result, not a wrong answer, since this
// is the last tier of the fallback chain.
var declKeywordPattern = regexp.MustCompile(`\b(func|def|class|interface|struct|type|const|let|var|function)\s+([A-Za-z_][A-Za-z0-9_]*)`)

var defaultSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".venv": true, "__pycache__": true, "dist": true, "build": true,
}

// TextSearchFallback is the last-resort workspace-symbols strategy: a
// recursive line-oriented scan for declaration-shaped lines whose name
// contains the query, with no external dependency beyond the standard
// library. Used when the Indexer's walk of the workspace matched nothing or
// failed. Like the Indexer, it scans only files whose extension appears in
// indexerLanguages; files with other extensions are not searched.
//
// Thread Safety: safe for concurrent use; holds no state between calls.
type TextSearchFallback struct {
	// MaxResults bounds how many matches are returned. Defaults to 100.
	MaxResults int
}

// NewTextSearchFallback creates a fallback with default result limits.
func NewTextSearchFallback() *TextSearchFallback {
	return &TextSearchFallback{MaxResults: 100}
}

// WorkspaceSymbols walks root recursively and returns every declaration
// whose name contains query (case-insensitive), up to MaxResults.
func (t *TextSearchFallback) WorkspaceSymbols(ctx context.Context, root, query string) ([]lsp.SymbolInformation, error) {
	max := t.MaxResults
	if max <= 0 {
		max = 100
	}
	queryLower := strings.ToLower(query)

	var symbols []lsp.SymbolInformation
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if defaultSkipDirs[d.Name()] {
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

		found, err := grepDeclarations(path, queryLower, max-len(symbols))
		if err != nil {
			return nil
		}
		symbols = append(symbols, found...)
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return symbols, walkErr
	}
	return symbols, ctx.Err()
}

func grepDeclarations(path, queryLower string, limit int) ([]lsp.SymbolInformation, error) {
	if limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	uri := "file://" + path
	var found []lsp.SymbolInformation

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		for _, m := range declKeywordPattern.FindAllStringSubmatch(line, -1) {
			name := m[2]
			if !strings.Contains(strings.ToLower(name), queryLower) {
				continue
			}
			col := strings.Index(line, name)
			found = append(found, lsp.SymbolInformation{
				Name: name,
				Kind: lsp.SymbolKindVariable,
				Location: lsp.Location{
					URI: uri,
					Range: lsp.Range{
						Start: lsp.Position{Line: lineNo - 1, Character: col},
						End:   lsp.Position{Line: lineNo - 1, Character: col + len(name)},
					},
				},
			})
			if len(found) >= limit {
				return found, nil
			}
		}
	}
	return found, scanner.Err()
}
