// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentSymbols_UnsupportedExtension(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.rb", "puts 1\n")

	_, err := ops.DocumentSymbols(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestDocumentSymbols_FlatShapeRoundTrips(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n\nfunc main() {}\n")
	fp := newFakeReadyServer(t, ops, "go", ServerCapabilities{})

	resultCh := make(chan []SymbolInformation, 1)
	errCh := make(chan error, 1)
	go func() {
		syms, err := ops.DocumentSymbols(context.Background(), path)
		resultCh <- syms
		errCh <- err
	}()

	req := fp.nextRequest(t)
	require.Equal(t, "textDocument/documentSymbol", req["method"])

	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result": []map[string]interface{}{
			{
				"name": "main",
				"kind": 12,
				"location": map[string]interface{}{
					"uri": pathToURI(path),
					"range": map[string]interface{}{
						"start": map[string]int{"line": 2, "character": 5},
						"end":   map[string]int{"line": 2, "character": 9},
					},
				},
			},
		},
	})

	syms := <-resultCh
	require.NoError(t, <-errCh)
	require.Len(t, syms, 1)
	assert.Equal(t, "main", syms[0].Name)
	assert.Equal(t, pathToURI(path), syms[0].Location.URI)
}

func TestDocumentSymbols_HierarchicalShapeIsFlattenedWithContainerNames(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n\ntype T struct{}\n\nfunc (T) M() {}\n")
	fp := newFakeReadyServer(t, ops, "go", ServerCapabilities{})

	resultCh := make(chan []SymbolInformation, 1)
	errCh := make(chan error, 1)
	go func() {
		syms, err := ops.DocumentSymbols(context.Background(), path)
		resultCh <- syms
		errCh <- err
	}()

	req := fp.nextRequest(t)

	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result": []map[string]interface{}{
			{
				"name": "T",
				"kind": 23,
				"range": map[string]interface{}{
					"start": map[string]int{"line": 2, "character": 0},
					"end":   map[string]int{"line": 2, "character": 15},
				},
				"selectionRange": map[string]interface{}{
					"start": map[string]int{"line": 2, "character": 5},
					"end":   map[string]int{"line": 2, "character": 6},
				},
				"children": []map[string]interface{}{
					{
						"name": "M",
						"kind": 6,
						"range": map[string]interface{}{
							"start": map[string]int{"line": 4, "character": 0},
							"end":   map[string]int{"line": 4, "character": 16},
						},
						"selectionRange": map[string]interface{}{
							"start": map[string]int{"line": 4, "character": 9},
							"end":   map[string]int{"line": 4, "character": 10},
						},
					},
				},
			},
		},
	})

	syms := <-resultCh
	require.NoError(t, <-errCh)
	require.Len(t, syms, 2)

	assert.Equal(t, "T", syms[0].Name)
	assert.Empty(t, syms[0].ContainerName)

	assert.Equal(t, "M", syms[1].Name)
	assert.Equal(t, "T", syms[1].ContainerName)
	assert.Equal(t, pathToURI(path), syms[1].Location.URI)
}

func TestDocumentSymbols_NullResultIsNilNotError(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n")
	fp := newFakeReadyServer(t, ops, "go", ServerCapabilities{})

	resultCh := make(chan []SymbolInformation, 1)
	errCh := make(chan error, 1)
	go func() {
		syms, err := ops.DocumentSymbols(context.Background(), path)
		resultCh <- syms
		errCh <- err
	}()

	req := fp.nextRequest(t)
	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result":  nil,
	})

	syms := <-resultCh
	require.NoError(t, <-errCh)
	assert.Nil(t, syms)
}

// stubDocumentSymbolsFallback is a minimal documentSymbolsFallback
// implementation for exercising Operations.fallbackDocumentSymbols without a
// real tag indexer.
type stubDocumentSymbolsFallback struct {
	symbols []SymbolInformation
	err     error
}

func (s *stubDocumentSymbolsFallback) DocumentSymbols(ctx context.Context, filePath string) ([]SymbolInformation, error) {
	return s.symbols, s.err
}

func TestDocumentSymbols_NoFallbackConfiguredReturnsGetServerError(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n")

	_, err := ops.DocumentSymbols(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get server")
}

func TestDocumentSymbols_FallbackUsedWhenNoServerReachable(t *testing.T) {
	ops := newTestOperations(t)
	ops.Fallback = &stubDocumentSymbolsFallback{
		symbols: []SymbolInformation{{Name: "fallbackSym"}},
	}
	path := writeTempNamed(t, "sample.go", "package main\n")

	syms, err := ops.DocumentSymbols(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "fallbackSym", syms[0].Name)
}

func TestDocumentSymbols_FallbackErrorPropagatesGetServerError(t *testing.T) {
	ops := newTestOperations(t)
	ops.Fallback = &stubDocumentSymbolsFallback{err: errors.New("indexer unavailable")}
	path := writeTempNamed(t, "sample.go", "package main\n")

	_, err := ops.DocumentSymbols(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get server")
}
