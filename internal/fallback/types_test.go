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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aleutian-tools/lsppool/internal/lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguageFromPath(t *testing.T) {
	assert.Equal(t, "python", languageFromPath("/a/b/c.py"))
	assert.Equal(t, "python", languageFromPath("/a/b/c.pyi"))
	assert.Empty(t, languageFromPath("/a/b/c.go"))
	assert.Empty(t, languageFromPath("/a/b/c"))
}

func TestChain_Definition_NonPythonReturnsUnavailable(t *testing.T) {
	c := NewChain(t.TempDir())

	_, err := c.Definition(context.Background(), "/tmp/a.go", 1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)

	var unavail *lsp.UnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.Equal(t, "definition", unavail.Operation)
}

func TestChain_Definition_PythonDelegatesToJediAndPropagatesFailure(t *testing.T) {
	c := NewChain(t.TempDir())
	c.Jedi = &JediFallback{PythonPath: "definitely-not-a-real-python-xyz"}

	_, err := c.Definition(context.Background(), "/tmp/a.py", 1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)
}

func TestChain_References_NonPythonReturnsUnavailable(t *testing.T) {
	c := NewChain(t.TempDir())
	_, err := c.References(context.Background(), "/tmp/a.go", 1, 0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)
}

func TestChain_Hover_NonPythonReturnsUnavailable(t *testing.T) {
	c := NewChain(t.TempDir())
	_, err := c.Hover(context.Background(), "/tmp/a.go", 1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)
}

func TestChain_DocumentSymbols_DelegatesToIndexer(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc helperOne() {}\n"), 0o644))

	c := NewChain(root)
	symbols, err := c.DocumentSymbols(context.Background(), path)
	require.NoError(t, err)
	require.NotEmpty(t, symbols)
	assert.Equal(t, "helperOne", symbols[0].Name)
}

func TestChain_WorkspaceSymbols_EmptyRootIsUnavailable(t *testing.T) {
	c := NewChain("")
	_, err := c.WorkspaceSymbols(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)
}

func TestChain_WorkspaceSymbols_PrefersIndexerResultsOverTextSearch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n\nfunc uniqueTargetFn() {}\n"), 0o644))

	c := NewChain(root)
	symbols, err := c.WorkspaceSymbols(context.Background(), "uniqueTargetFn")
	require.NoError(t, err)
	require.NotEmpty(t, symbols)

	found := false
	for _, s := range symbols {
		if s.Name == "uniqueTargetFn" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestChain_WorkspaceSymbols_FallsBackToTextSearchWhenIndexerFindsNothing(t *testing.T) {
	root := t.TempDir()
	// A package-level var uses tree-sitter-go's "var_declaration" node,
	// which namedDeclNodeTypes doesn't recognize, so the indexer tier
	// finds nothing here and the plain keyword-regex text search is what
	// actually surfaces it.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n\nvar GlobalCounter = 0\n"), 0o644))

	c := NewChain(root)
	symbols, err := c.WorkspaceSymbols(context.Background(), "GlobalCounter")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "GlobalCounter", symbols[0].Name)
}

func TestChain_WorkspaceSymbols_NoMatchAnywhereIsUnavailable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n\nfunc foo() {}\n"), 0o644))

	c := NewChain(root)
	_, err := c.WorkspaceSymbols(context.Background(), "nonexistentSymbolNowhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)
}

func TestChain_DiagnosticsFix_NonPythonReturnsUnavailable(t *testing.T) {
	c := NewChain(t.TempDir())
	_, err := c.DiagnosticsFix(context.Background(), "/tmp/a.go")
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)
}

func TestChain_DiagnosticsFix_RuffUnavailableReturnsUnavailable(t *testing.T) {
	c := NewChain(t.TempDir())
	c.Ruff = &RuffFallback{RuffPath: "definitely-not-a-real-ruff-binary-xyz"}

	_, err := c.DiagnosticsFix(context.Background(), "/tmp/a.py")
	require.Error(t, err)
	assert.ErrorIs(t, err, lsp.ErrUnavailable)
}

func TestAttemptLog_RecordAndSkipBuildUnavailableError(t *testing.T) {
	log := newAttemptLog("hover")
	log.skip("jedi")
	log.record("indexer", errors.New("boom"))

	err := log.unavailable()
	require.Len(t, err.Strategies, 2)
	assert.Equal(t, "jedi", err.Strategies[0].Strategy)
	assert.Nil(t, err.Strategies[0].Err)
	assert.Equal(t, "indexer", err.Strategies[1].Strategy)
	assert.EqualError(t, err.Strategies[1].Err, "boom")
}
