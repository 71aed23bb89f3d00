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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-tools/lsppool/internal/lspconfig"
)

func TestNewServer_StartsInRegisteredState(t *testing.T) {
	srv := NewServer(lspconfig.LanguageConfig{Language: "go", Command: "gopls"}, t.TempDir())
	assert.Equal(t, ServerStateRegistered, srv.State())
	assert.Equal(t, "go", srv.Language())
	assert.Equal(t, 0, srv.PID())
	assert.Equal(t, "gopls", srv.Command())
	assert.Zero(t, srv.Uptime())
}

func TestNewServer_InstanceIDsAreUnique(t *testing.T) {
	a := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	b := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	assert.NotEmpty(t, a.InstanceID())
	assert.NotEmpty(t, b.InstanceID())
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
}

func TestServer_Start_MissingBinaryReturnsNotInstalled(t *testing.T) {
	srv := NewServer(lspconfig.LanguageConfig{
		Language: "go",
		Command:  "definitely-not-a-real-lsp-binary-xyz",
	}, t.TempDir())

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerNotInstalled)
	assert.Equal(t, ServerStateTerminated, srv.State())
}

func TestServer_Start_AlreadyStartedRejectsSecondCall(t *testing.T) {
	srv := NewServer(lspconfig.LanguageConfig{Language: "go", Command: "gopls"}, t.TempDir())
	srv.setState(ServerStateReady)

	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerAlreadyStarted)
}

func TestServer_Request_NotReadyReturnsServerNotRunning(t *testing.T) {
	srv := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	_, err := srv.Request(context.Background(), "textDocument/hover", nil)
	assert.ErrorIs(t, err, ErrServerNotRunning)
}

func TestServer_Notify_NotReadyReturnsServerNotRunning(t *testing.T) {
	srv := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	err := srv.Notify("textDocument/didOpen", nil)
	assert.ErrorIs(t, err, ErrServerNotRunning)
}

func TestServer_RestartAttempts_IncrementAndReset(t *testing.T) {
	srv := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	assert.Equal(t, 0, srv.RestartAttempts())

	assert.Equal(t, 1, srv.incRestartAttempts())
	assert.Equal(t, 2, srv.incRestartAttempts())
	assert.Equal(t, 2, srv.RestartAttempts())

	srv.resetRestartAttempts()
	assert.Equal(t, 0, srv.RestartAttempts())
}

func TestServer_Request_RoundTripsThroughFakePeer(t *testing.T) {
	srv := NewServer(lspconfig.LanguageConfig{Language: "go"}, t.TempDir())
	fp := newFakePeer(t)
	srv.protocol = fp.proto
	srv.setState(ServerStateReady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fp.proto.ReadLoop(ctx)

	respCh := make(chan *Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := srv.Request(context.Background(), "textDocument/hover", nil)
		respCh <- resp
		errCh <- err
	}()

	req := fp.readServerMessage(t)
	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result":  map[string]string{"contents": "doc"},
	})

	require.NoError(t, <-errCh)
	resp := <-respCh
	require.NotNil(t, resp)
}
