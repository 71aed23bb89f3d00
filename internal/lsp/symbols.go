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
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// DocumentSymbols returns every symbol declared in a file.
//
// Description:
//
//	Sends a textDocument/documentSymbol request. Servers may answer with
//	either the flat SymbolInformation shape or the hierarchical
//	DocumentSymbol shape; this always returns the flat shape, flattening a
//	hierarchical response via DocumentSymbol.Flatten so callers don't need
//	to handle both forms.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	filePath - Absolute path to the file
//
// Outputs:
//
//	[]SymbolInformation - Symbols declared in the file, may be empty
//	error - Non-nil on failure
func (o *Operations) DocumentSymbols(ctx context.Context, filePath string) ([]SymbolInformation, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	language := o.languageFromPath(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: no language for %s", ErrUnsupportedLanguage, filepath.Ext(filePath))
	}

	ctx, span := startOperationSpan(ctx, "DocumentSymbols", language, filePath)
	defer span.End()
	start := time.Now()

	server, err := o.manager.GetOrSpawn(ctx, language)
	if err != nil {
		if symbols, fbErr := o.fallbackDocumentSymbols(ctx, filePath); fbErr == nil {
			setOperationSpanResult(span, len(symbols), true)
			recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), len(symbols), true)
			return symbols, nil
		}
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("get server: %w", err)
	}

	if err := o.ensureSynced(server, language, filePath); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	uri := pathToURI(filePath)
	resp, err := server.Request(ctx, "textDocument/documentSymbol", DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
	if err != nil {
		if symbols, fbErr := o.fallbackDocumentSymbols(ctx, filePath); fbErr == nil {
			setOperationSpanResult(span, len(symbols), true)
			recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), len(symbols), true)
			return symbols, nil
		}
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("documentSymbol request: %w", err)
	}

	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		setOperationSpanResult(span, 0, true)
		recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), 0, true)
		return nil, nil
	}

	symbols, err := parseDocumentSymbolResponse(resp.Result, uri)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), 0, false)
		return nil, err
	}

	setOperationSpanResult(span, len(symbols), true)
	recordOperationMetrics(ctx, "document_symbol", language, time.Since(start), len(symbols), true)
	return symbols, nil
}

// fallbackDocumentSymbols tries o.Fallback's optional DocumentSymbols
// capability (the tree-sitter tag indexer), returning ErrUnavailable if
// Fallback is nil or does not implement it.
func (o *Operations) fallbackDocumentSymbols(ctx context.Context, filePath string) ([]SymbolInformation, error) {
	fb, ok := o.Fallback.(documentSymbolsFallback)
	if !ok {
		return nil, ErrUnavailable
	}
	return fb.DocumentSymbols(ctx, filePath)
}

// parseDocumentSymbolResponse accepts either shape a server may return for
// textDocument/documentSymbol and normalizes to flat SymbolInformation. The
// two shapes are distinguished by their first element's fields: a
// SymbolInformation carries "location", a DocumentSymbol carries
// "selectionRange" instead.
func parseDocumentSymbolResponse(data json.RawMessage, uri string) ([]SymbolInformation, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("parse documentSymbol result: %w", err)
	}
	if len(elements) == 0 {
		return nil, nil
	}

	var probe struct {
		SelectionRange json.RawMessage `json:"selectionRange"`
		Location       json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(elements[0], &probe); err != nil {
		return nil, fmt.Errorf("parse documentSymbol result: %w", err)
	}

	if probe.SelectionRange != nil {
		var hierarchical []DocumentSymbol
		if err := json.Unmarshal(data, &hierarchical); err != nil {
			return nil, fmt.Errorf("parse documentSymbol result: %w", err)
		}
		flat := make([]SymbolInformation, 0, len(hierarchical))
		for _, sym := range hierarchical {
			flat = append(flat, sym.Flatten(uri, "")...)
		}
		return flat, nil
	}

	var flat []SymbolInformation
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse documentSymbol result: %w", err)
	}
	return flat, nil
}
