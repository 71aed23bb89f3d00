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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-tools/lsppool/internal/lspconfig"
)

func newSyncedFakeServer(t *testing.T) (*Server, *fakePeer) {
	t.Helper()
	srv := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	fp := newFakePeer(t)
	srv.protocol = fp.proto
	srv.setState(ServerStateReady)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go fp.proto.ReadLoop(ctx)

	return srv, fp
}

func TestDocumentTracker_EnsureSynced_FirstSyncSendsDidOpen(t *testing.T) {
	srv, fp := newSyncedFakeServer(t)
	path := writeTempNamed(t, "a.go", "package main\n")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Documents().EnsureSynced(srv, "go", path) }()

	msg := fp.readServerMessage(t)
	assert.Equal(t, "textDocument/didOpen", msg["method"])
	params := msg["params"].(map[string]interface{})
	textDoc := params["textDocument"].(map[string]interface{})
	assert.Equal(t, pathToURI(path), textDoc["uri"])
	assert.Equal(t, "package main\n", textDoc["text"])
	assert.Equal(t, float64(1), textDoc["version"])

	require.NoError(t, <-errCh)
	assert.Contains(t, srv.Documents().OpenURIs(), pathToURI(path))
}

func TestDocumentTracker_EnsureSynced_UnchangedContentIsNoop(t *testing.T) {
	srv, fp := newSyncedFakeServer(t)
	path := writeTempNamed(t, "a.go", "package main\n")

	go func() { _ = srv.Documents().EnsureSynced(srv, "go", path) }()
	fp.readServerMessage(t) // didOpen

	// Second sync with identical on-disk content must not send anything.
	require.NoError(t, srv.Documents().EnsureSynced(srv, "go", path))
}

func TestDocumentTracker_EnsureSynced_ChangedContentSendsDidChangeWithBumpedVersion(t *testing.T) {
	srv, fp := newSyncedFakeServer(t)
	path := writeTempNamed(t, "a.go", "package main\n")

	go func() { _ = srv.Documents().EnsureSynced(srv, "go", path) }()
	fp.readServerMessage(t) // didOpen

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc f() {}\n"), 0o644))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Documents().EnsureSynced(srv, "go", path) }()

	msg := fp.readServerMessage(t)
	assert.Equal(t, "textDocument/didChange", msg["method"])
	params := msg["params"].(map[string]interface{})
	textDoc := params["textDocument"].(map[string]interface{})
	assert.Equal(t, float64(2), textDoc["version"])

	require.NoError(t, <-errCh)
}

func TestDocumentTracker_MarkDirty_ForcesResyncEvenWithoutContentChange(t *testing.T) {
	srv, fp := newSyncedFakeServer(t)
	path := writeTempNamed(t, "a.go", "package main\n")

	go func() { _ = srv.Documents().EnsureSynced(srv, "go", path) }()
	fp.readServerMessage(t) // didOpen

	srv.Documents().MarkDirty(pathToURI(path))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Documents().EnsureSynced(srv, "go", path) }()

	msg := fp.readServerMessage(t)
	assert.Equal(t, "textDocument/didChange", msg["method"])
	require.NoError(t, <-errCh)
}

func TestDocumentTracker_Close_SendsDidCloseAndStopsTracking(t *testing.T) {
	srv, fp := newSyncedFakeServer(t)
	path := writeTempNamed(t, "a.go", "package main\n")

	go func() { _ = srv.Documents().EnsureSynced(srv, "go", path) }()
	fp.readServerMessage(t) // didOpen

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Documents().Close(srv, path) }()

	msg := fp.readServerMessage(t)
	assert.Equal(t, "textDocument/didClose", msg["method"])
	require.NoError(t, <-errCh)

	assert.NotContains(t, srv.Documents().OpenURIs(), pathToURI(path))
}

func TestDocumentTracker_Close_UntrackedPathIsNoop(t *testing.T) {
	tracker := NewDocumentTracker()
	srv := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	require.NoError(t, tracker.Close(srv, "/never/opened.go"))
}

func TestDocumentTracker_WatchRoot_MarksChangedFileDirty(t *testing.T) {
	tracker := NewDocumentTracker()
	root := t.TempDir()
	path := filepath.Join(root, "watched.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	require.NoError(t, tracker.WatchRoot(root))
	defer tracker.StopWatch()

	uri := pathToURI(path)
	tracker.mu.Lock()
	tracker.docs[uri] = &trackedDoc{version: 1, text: "package main\n"}
	tracker.mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc f() {}\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		tracker.mu.Lock()
		dirty := tracker.docs[uri].dirty
		tracker.mu.Unlock()
		if dirty {
			break
		}
		select {
		case <-deadline:
			t.Fatal("file change was never observed by the watcher")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
