// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp implements a persistent pool of Language Server Protocol
// subprocesses, multiplexing JSON-RPC requests from many callers over each
// server's stdio pipe.
//
// A Manager owns one Server per language, spawning it lazily on first use,
// health-checking and restarting it with backoff, and shutting it down after
// an idle timeout. Operations exposes the editor-facing surface (hover,
// definition, references, document symbols, rename, code actions,
// diagnostics) on top of whatever servers the Manager currently holds,
// falling back to a secondary strategy (see FallbackChain) when the primary
// LSP path is unavailable or fails.
//
// # Components
//
//   - Manager: owns server lifecycle per language, including spawn
//     collapsing, idle shutdown, and restart-with-backoff
//   - Server: a single LSP subprocess plus its initialize/shutdown handshake
//   - Protocol: JSON-RPC request/response correlation and notification
//     dispatch over the base LSP framing
//   - DocumentTracker: keeps a server's view of open files synchronized with
//     disk via didOpen/didChange/didClose
//   - Operations: the high-level API consumed outside this package
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	mgr := lsp.NewManager("/path/to/project", lsp.DefaultManagerConfig())
//	defer mgr.ShutdownAll(context.Background())
//
//	ops := lsp.NewOperations(mgr)
//	locs, err := ops.Definition(ctx, "/path/to/file.go", 10, 5)
package lsp
