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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// trackedDoc is the last snapshot of a document pushed to a server.
type trackedDoc struct {
	version int
	text    string
	dirty   bool
}

// DocumentTracker keeps one Server's view of open documents synchronized
// with the filesystem. Every positional operation calls EnsureSynced before
// sending its request, so the server never answers against stale bytes.
//
// Thread Safety: safe for concurrent use.
type DocumentTracker struct {
	mu   sync.Mutex
	docs map[string]*trackedDoc // uri -> doc

	watcher   *fsnotify.Watcher
	watchRoot string
	watchDone chan struct{}
}

// NewDocumentTracker creates an empty tracker with no filesystem watch.
func NewDocumentTracker() *DocumentTracker {
	return &DocumentTracker{
		docs: make(map[string]*trackedDoc),
	}
}

// EnsureSynced guarantees the server has an open, up-to-date copy of path.
// It reads the file from disk, and sends didOpen (first sight of this URI)
// or didChange (content differs from the last pushed snapshot, or the file
// was marked dirty by the filesystem watcher) with a monotonically
// increasing version. A no-op when the tracked snapshot already matches.
func (t *DocumentTracker) EnsureSynced(server *Server, language, path string) error {
	uri := pathToURI(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)

	t.mu.Lock()
	doc, ok := t.docs[uri]
	if !ok {
		doc = &trackedDoc{version: 1, text: text}
		t.docs[uri] = doc
		t.mu.Unlock()

		if err := server.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
			TextDocument: TextDocumentItem{
				URI:        uri,
				LanguageID: language,
				Version:    1,
				Text:       text,
			},
		}); err != nil {
			return err
		}
		documentsSyncedTotal.WithLabelValues(language, "didOpen").Inc()
		return nil
	}

	if doc.text == text && !doc.dirty {
		t.mu.Unlock()
		return nil
	}

	doc.version++
	doc.text = text
	doc.dirty = false
	version := doc.version
	t.mu.Unlock()

	if err := server.Notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []TextDocumentContentChangeEvent{
			{Text: text},
		},
	}); err != nil {
		return err
	}
	documentsSyncedTotal.WithLabelValues(language, "didChange").Inc()
	return nil
}

// MarkDirty flags a tracked URI as having an out-of-date snapshot, forcing
// the next EnsureSynced call to re-push it even if an in-memory comparison
// would otherwise short-circuit. Used by the optional filesystem watcher.
func (t *DocumentTracker) MarkDirty(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if doc, ok := t.docs[uri]; ok {
		doc.dirty = true
	}
}

// Close notifies the server that path is no longer open and stops tracking
// its snapshot. No-op if the path was never opened.
func (t *DocumentTracker) Close(server *Server, path string) error {
	uri := pathToURI(path)

	t.mu.Lock()
	_, ok := t.docs[uri]
	delete(t.docs, uri)
	t.mu.Unlock()

	if !ok {
		return nil
	}

	return server.Notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// OpenURIs returns the URIs currently tracked as open, for diagnostics and tests.
func (t *DocumentTracker) OpenURIs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	uris := make([]string, 0, len(t.docs))
	for uri := range t.docs {
		uris = append(uris, uri)
	}
	return uris
}

// WatchRoot starts an fsnotify watch on the directory root itself (its
// subdirectories are not watched), marking a tracked file dirty when a
// write or create event arrives for it, so the next EnsureSynced re-sends
// it even if its bytes match the last snapshot. EnsureSynced reads and
// compares the file on every call whether or not a watch is running.
func (t *DocumentTracker) WatchRoot(root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", root, err)
	}

	t.mu.Lock()
	t.watcher = watcher
	t.watchRoot = root
	t.watchDone = make(chan struct{})
	done := t.watchDone
	t.mu.Unlock()

	go t.watchLoop(watcher, done)
	return nil
}

func (t *DocumentTracker) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			t.MarkDirty(pathToURI(abs))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("document tracker watch error", slog.Any("error", err))
		}
	}
}

// StopWatch tears down the filesystem watch started by WatchRoot, if any.
func (t *DocumentTracker) StopWatch() {
	t.mu.Lock()
	watcher := t.watcher
	done := t.watchDone
	t.watcher = nil
	t.watchDone = nil
	t.mu.Unlock()

	if done != nil {
		close(done)
	}
	if watcher != nil {
		watcher.Close()
	}
}
