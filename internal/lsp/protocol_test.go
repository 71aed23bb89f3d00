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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer wires a Protocol to an in-process "server" via two pipes, so
// tests can script responses without spawning a real subprocess.
type fakePeer struct {
	proto     *Protocol
	serverIn  *bufio.Reader // what the fake server reads (client's stdin)
	serverOut io.WriteCloser
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	proto := NewProtocol(clientRead, clientWrite)

	fp := &fakePeer{
		proto:     proto,
		serverIn:  bufio.NewReader(serverRead),
		serverOut: serverWrite,
	}
	return fp
}

// readServerMessage reads one Content-Length framed message as the fake
// server, mirroring Protocol.readMessage's own framing.
func (fp *fakePeer) readServerMessage(t *testing.T) map[string]interface{} {
	t.Helper()
	var contentLength int
	for {
		line, err := fp.serverIn.ReadString('\n')
		require.NoError(t, err)
		trimmed := trimCRLF(line)
		if trimmed == "" {
			break
		}
		if n, ok := parseContentLength(trimmed); ok {
			contentLength = n
		}
	}
	body := make([]byte, contentLength)
	_, err := io.ReadFull(fp.serverIn, body)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

// sendServerMessage writes a Content-Length framed message as the fake
// server would.
func (fp *fakePeer) sendServerMessage(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	_, err = fp.serverOut.Write([]byte(header))
	require.NoError(t, err)
	_, err = fp.serverOut.Write(data)
	require.NoError(t, err)
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func parseContentLength(line string) (int, bool) {
	const prefix = "Content-Length:"
	if len(line) <= len(prefix) || line[:len(prefix)] != prefix {
		return 0, false
	}
	var n int
	_, err := fmt.Sscanf(line[len(prefix):], "%d", &n)
	return n, err == nil
}

func TestProtocol_SendRequest_MatchesResponseByID(t *testing.T) {
	fp := newFakePeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fp.proto.ReadLoop(ctx)

	respCh := make(chan *Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := fp.proto.SendRequest(context.Background(), "textDocument/hover", map[string]string{"uri": "file:///a.go"})
		respCh <- resp
		errCh <- err
	}()

	req := fp.readServerMessage(t)
	assert.Equal(t, "textDocument/hover", req["method"])
	id := req["id"]

	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  map[string]string{"contents": "hello"},
	})

	resp := <-respCh
	require.NoError(t, <-errCh)
	require.NotNil(t, resp)

	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "hello", result["contents"])
}

func TestProtocol_SendRequest_ServerError(t *testing.T) {
	fp := newFakePeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fp.proto.ReadLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := fp.proto.SendRequest(context.Background(), "textDocument/definition", nil)
		errCh <- err
	}()

	req := fp.readServerMessage(t)
	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"error": map[string]interface{}{
			"code":    -32601,
			"message": "method not found",
		},
	})

	err := <-errCh
	require.Error(t, err)
	var lspErr *LSPError
	require.ErrorAs(t, err, &lspErr)
	assert.Equal(t, -32601, lspErr.Code)
	assert.True(t, lspErr.IsMethodNotFound())
}

func TestProtocol_SendRequest_ContextCancelSendsCancelNotification(t *testing.T) {
	fp := newFakePeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fp.proto.ReadLoop(ctx)

	reqCtx, reqCancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := fp.proto.SendRequest(reqCtx, "textDocument/references", nil)
		errCh <- err
	}()

	fp.readServerMessage(t) // the original request
	reqCancel()

	err := <-errCh
	require.ErrorIs(t, err, ErrRequestTimeout)

	cancelMsg := fp.readServerMessage(t)
	assert.Equal(t, "$/cancelRequest", cancelMsg["method"])
}

func TestProtocol_OnNotification_DispatchesToHandler(t *testing.T) {
	fp := newFakePeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan json.RawMessage, 1)
	fp.proto.OnNotification("textDocument/publishDiagnostics", func(params json.RawMessage) {
		received <- params
	})

	go fp.proto.ReadLoop(ctx)

	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params":  map[string]string{"uri": "file:///b.go"},
	})

	select {
	case params := <-received:
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(params, &decoded))
		assert.Equal(t, "file:///b.go", decoded["uri"])
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler never ran")
	}
}

func TestProtocol_OnRequest_UnhandledMethodRepliesMethodNotFound(t *testing.T) {
	fp := newFakePeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fp.proto.ReadLoop(ctx)

	fp.sendServerMessage(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "workspace/applyEdit",
		"params":  map[string]string{},
	})

	resp := fp.readServerMessage(t)
	errField, ok := resp["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(-32601), errField["code"])
}

func TestProtocol_Close_FailsPendingRequests(t *testing.T) {
	fp := newFakePeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fp.proto.ReadLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := fp.proto.SendRequest(context.Background(), "initialize", nil)
		errCh <- err
	}()

	fp.readServerMessage(t)
	fp.proto.Close()

	err := <-errCh
	require.Error(t, err)

	_, err = fp.proto.SendRequest(context.Background(), "shutdown", nil)
	assert.ErrorIs(t, err, ErrServerNotRunning)
}
