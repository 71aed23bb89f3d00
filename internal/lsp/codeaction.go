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

// CodeActions returns the fixes and refactors a server offers for a range.
//
// Description:
//
//	Sends a textDocument/codeAction request. Some servers return actions
//	with Edit/Command already populated; others return a partial action
//	(only Title/Kind/Data) that must be resolved via ResolveCodeAction
//	before it can be applied. Check CodeAction.Edit and CodeAction.Command:
//	if both are nil, call ResolveCodeAction first.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	filePath - Absolute path to the file
//	rng - The range to request actions for
//	diagnostics - Diagnostics currently known for the range, if any
//
// Outputs:
//
//	[]CodeAction - Available actions, may be empty
//	error - Non-nil on failure
func (o *Operations) CodeActions(ctx context.Context, filePath string, rng Range, diagnostics []Diagnostic) ([]CodeAction, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	language := o.languageFromPath(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: no language for %s", ErrUnsupportedLanguage, filepath.Ext(filePath))
	}

	ctx, span := startOperationSpan(ctx, "CodeActions", language, filePath)
	defer span.End()
	start := time.Now()

	server, err := o.manager.GetOrSpawn(ctx, language)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "code_action", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("get server: %w", err)
	}

	if err := o.ensureSynced(server, language, filePath); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "code_action", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("sync document: %w", err)
	}

	if diagnostics == nil {
		diagnostics = []Diagnostic{}
	}

	resp, err := server.Request(ctx, "textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: pathToURI(filePath)},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: diagnostics},
	})
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "code_action", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("codeAction request: %w", err)
	}

	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		setOperationSpanResult(span, 0, true)
		recordOperationMetrics(ctx, "code_action", language, time.Since(start), 0, true)
		return nil, nil
	}

	// Results may mix Command (a bare reference) and CodeAction (the
	// richer literal) entries. Normalize Command-only entries into a
	// CodeAction so callers have one shape to inspect.
	var rawActions []json.RawMessage
	if err := json.Unmarshal(resp.Result, &rawActions); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "code_action", language, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse codeAction result: %w", err)
	}

	actions := make([]CodeAction, 0, len(rawActions))
	for _, raw := range rawActions {
		var action CodeAction
		if err := json.Unmarshal(raw, &action); err == nil && action.Title != "" {
			actions = append(actions, action)
			continue
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err == nil && cmd.Title != "" {
			actions = append(actions, CodeAction{Title: cmd.Title, Command: &cmd})
		}
	}

	setOperationSpanResult(span, len(actions), true)
	recordOperationMetrics(ctx, "code_action", language, time.Since(start), len(actions), true)
	return actions, nil
}

// ResolveCodeAction fills in the Edit (and/or Command) of a partial
// CodeAction returned by CodeActions.
//
// Description:
//
//	An action that already carries an Edit or Command (the common case for
//	servers that resolve actions eagerly) is returned unchanged, without
//	contacting the server. Otherwise codeAction/resolve is sent if the
//	server's ServerCapabilities advertise resolveProvider support; without
//	that support the action is reported as unresolved. The resolved edit
//	is returned, not written to disk.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	filePath - Absolute path the action applies to (used to pick a server)
//	action - The partial action, as returned by CodeActions
//
// Outputs:
//
//	*CodeAction - The resolved action
//	error - Non-nil if resolution failed or is unsupported and the action
//	        was already unresolved
func (o *Operations) ResolveCodeAction(ctx context.Context, filePath string, action CodeAction) (*CodeAction, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	if action.Edit != nil || action.Command != nil {
		return &action, nil
	}

	language := o.languageFromPath(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: no language for %s", ErrUnsupportedLanguage, filepath.Ext(filePath))
	}

	server, err := o.manager.GetOrSpawn(ctx, language)
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}

	if !server.Capabilities().CodeActionResolveSupported() {
		return nil, fmt.Errorf("%w: server does not support codeAction/resolve and action carries no edit", ErrUnavailable)
	}

	resp, err := server.Request(ctx, "codeAction/resolve", action)
	if err != nil {
		return nil, fmt.Errorf("codeAction/resolve request: %w", err)
	}

	var resolved CodeAction
	if err := json.Unmarshal(resp.Result, &resolved); err != nil {
		return nil, fmt.Errorf("parse codeAction/resolve result: %w", err)
	}
	return &resolved, nil
}
