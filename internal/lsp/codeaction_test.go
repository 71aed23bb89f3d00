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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleutian-tools/lsppool/internal/lspconfig"
)

// nextRequest drains notifications until it finds a message with both a
// "method" and an "id" (i.e. a request, not a push notification), mirroring
// how a real server interleaves didOpen/didChange notifications with the
// request it is actually being asked to answer.
func (fp *fakePeer) nextRequest(t *testing.T) map[string]interface{} {
	t.Helper()
	for {
		msg := fp.readServerMessage(t)
		if _, hasID := msg["id"]; hasID {
			if _, hasMethod := msg["method"]; hasMethod {
				return msg
			}
		}
	}
}

// newFakeReadyServer builds a Server backed by a fakePeer, already in
// ServerStateReady, and registers it with ops' manager under language so
// Operations.* calls route to it via GetOrSpawn's fast path instead of
// spawning a real subprocess.
func newFakeReadyServer(t *testing.T, ops *Operations, language string, caps ServerCapabilities) *fakePeer {
	t.Helper()
	fp := newFakePeer(t)

	srv := NewServer(lspconfig.LanguageConfig{Language: language}, t.TempDir())
	srv.protocol = fp.proto
	srv.capabilities = caps
	srv.state = ServerStateReady

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go fp.proto.ReadLoop(ctx)

	ops.manager.serversMu.Lock()
	ops.manager.servers[language] = srv
	ops.manager.serversMu.Unlock()

	return fp
}

func TestCodeActions_NormalizesCommandAndCodeActionEntries(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n\nfunc main() {}\n")
	fp := newFakeReadyServer(t, ops, "go", ServerCapabilities{})

	resultCh := make(chan []CodeAction, 1)
	errCh := make(chan error, 1)
	go func() {
		actions, err := ops.CodeActions(context.Background(), path, Range{}, nil)
		resultCh <- actions
		errCh <- err
	}()

	req := fp.nextRequest(t) // skips over the didOpen notification sent first
	require.Equal(t, "textDocument/codeAction", req["method"])

	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result": []map[string]interface{}{
			{"title": "Organize imports", "kind": "source.organizeImports"},
			{"title": "gofmt", "command": "gofmt", "arguments": []string{}},
		},
	})

	actions := <-resultCh
	require.NoError(t, <-errCh)
	require.Len(t, actions, 2)
	require.Equal(t, "Organize imports", actions[0].Title)
	require.Equal(t, "gofmt", actions[1].Title)
	require.NotNil(t, actions[1].Command)
	require.Equal(t, "gofmt", actions[1].Command.Title)
}

func TestCodeActions_NullResultIsEmptyNotError(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n")
	fp := newFakeReadyServer(t, ops, "go", ServerCapabilities{})

	resultCh := make(chan []CodeAction, 1)
	errCh := make(chan error, 1)
	go func() {
		actions, err := ops.CodeActions(context.Background(), path, Range{}, nil)
		resultCh <- actions
		errCh <- err
	}()

	req := fp.nextRequest(t)
	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result":  nil,
	})

	actions := <-resultCh
	require.NoError(t, <-errCh)
	require.Nil(t, actions)
}

func TestCodeActions_UnsupportedExtension(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.rb", "puts 1\n")

	_, err := ops.CodeActions(context.Background(), path, Range{}, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestResolveCodeAction_AlreadyResolvedIsReturnedUnchanged(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n")

	action := CodeAction{
		Title: "Add import",
		Edit:  &WorkspaceEdit{Changes: map[string][]TextEdit{}},
	}
	resolved, err := ops.ResolveCodeAction(context.Background(), path, action)
	require.NoError(t, err)
	require.Same(t, action.Edit, resolved.Edit)
}

func TestResolveCodeAction_UnsupportedByServerReturnsUnavailable(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n")
	newFakeReadyServer(t, ops, "go", ServerCapabilities{})

	action := CodeAction{Title: "Extract variable"}
	_, err := ops.ResolveCodeAction(context.Background(), path, action)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveCodeAction_RoundTripsThroughResolveRequest(t *testing.T) {
	ops := newTestOperations(t)
	path := writeTempNamed(t, "sample.go", "package main\n")
	fp := newFakeReadyServer(t, ops, "go", ServerCapabilities{
		CodeActionProvider: []byte(`{"resolveProvider":true}`),
	})

	action := CodeAction{Title: "Extract variable", Data: []byte(`{"range":{}}`)}

	resultCh := make(chan *CodeAction, 1)
	errCh := make(chan error, 1)
	go func() {
		resolved, err := ops.ResolveCodeAction(context.Background(), path, action)
		resultCh <- resolved
		errCh <- err
	}()

	req := fp.nextRequest(t)
	require.Equal(t, "codeAction/resolve", req["method"])

	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result": map[string]interface{}{
			"title": "Extract variable",
			"edit": map[string]interface{}{
				"changes": map[string]interface{}{},
			},
		},
	})

	resolved := <-resultCh
	require.NoError(t, <-errCh)
	require.NotNil(t, resolved.Edit)
	require.Equal(t, "Extract variable", resolved.Title)
}
