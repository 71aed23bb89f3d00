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
	"sync"
	"time"
)

// diagnosticsEntry is the last publishDiagnostics payload seen for a URI,
// timestamped so Diagnostics can tell a fresh push from a stale cache hit.
type diagnosticsEntry struct {
	params    PublishDiagnosticsParams
	updatedAt time.Time
}

// diagnosticsStore caches each server's most recent diagnostics per URI,
// fed by textDocument/publishDiagnostics notifications registered on the
// server's Protocol in Server.Start.
//
// Thread Safety: safe for concurrent use.
type diagnosticsStore struct {
	mu   sync.RWMutex
	byURI map[string]diagnosticsEntry
}

func newDiagnosticsStore() *diagnosticsStore {
	return &diagnosticsStore{byURI: make(map[string]diagnosticsEntry)}
}

// handle is the Protocol.OnNotification callback for publishDiagnostics.
func (d *diagnosticsStore) handle(raw json.RawMessage) {
	var params PublishDiagnosticsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return
	}
	d.mu.Lock()
	d.byURI[params.URI] = diagnosticsEntry{params: params, updatedAt: time.Now()}
	d.mu.Unlock()
}

// get returns the cached entry for uri, if any.
func (d *diagnosticsStore) get(uri string) (diagnosticsEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.byURI[uri]
	return entry, ok
}

// Diagnostics returns the most recently published diagnostics for filePath.
//
// Description:
//
//	Diagnostics are pushed by the language server asynchronously, not
//	returned from a request/response pair, so this ensures the document is
//	open and synced (which triggers analysis on most servers) and then
//	waits up to the manager's DiagnosticsWaitWindow for a fresh push,
//	polling the cache. If the window elapses with no push newer than the
//	sync, whatever was already cached is returned (possibly none, which is
//	not an error: a clean file produces zero diagnostics).
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	filePath - Absolute path to the file
//
// Outputs:
//
//	[]Diagnostic - Current diagnostics for the file, may be empty
//	error - Non-nil on failure to reach a server at all
func (o *Operations) Diagnostics(ctx context.Context, filePath string) ([]Diagnostic, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	language := o.languageFromPath(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: no language for %s", ErrUnsupportedLanguage, filepath.Ext(filePath))
	}

	ctx, span := startOperationSpan(ctx, "Diagnostics", language, filePath)
	defer span.End()
	start := time.Now()

	server, err := o.manager.GetOrSpawn(ctx, language)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "diagnostics", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("get server: %w", err)
	}

	uri := pathToURI(filePath)
	syncedAt := time.Now()
	if err := o.ensureSynced(server, language, filePath); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "diagnostics", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	window := o.manager.Config().DiagnosticsWaitWindow
	if window <= 0 {
		window = 2 * time.Second
	}
	deadline := time.Now().Add(window)

	const pollInterval = 50 * time.Millisecond
	for {
		if entry, ok := server.Diagnostics().get(uri); ok && !entry.updatedAt.Before(syncedAt) {
			setOperationSpanResult(span, len(entry.params.Diagnostics), true)
			recordOperationMetrics(ctx, "diagnostics", language, time.Since(start), len(entry.params.Diagnostics), true)
			return entry.params.Diagnostics, nil
		}

		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			setOperationSpanResult(span, 0, false)
			recordOperationMetrics(ctx, "diagnostics", language, time.Since(start), 0, false)
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	// Window elapsed with nothing newer than our sync: fall back to
	// whatever is cached, even if stale, rather than erroring on a clean
	// file that simply has no diagnostics to report.
	if entry, ok := server.Diagnostics().get(uri); ok {
		setOperationSpanResult(span, len(entry.params.Diagnostics), true)
		recordOperationMetrics(ctx, "diagnostics", language, time.Since(start), len(entry.params.Diagnostics), true)
		return entry.params.Diagnostics, nil
	}

	setOperationSpanResult(span, 0, true)
	recordOperationMetrics(ctx, "diagnostics", language, time.Since(start), 0, true)
	return nil, nil
}
