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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-tools/lsppool/internal/lspconfig"
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of an LSP server.
type ServerState int

const (
	// ServerStateRegistered means a configuration is known for the language
	// but Start has never been called (fresh NewServer, or a server that
	// was explicitly reset). Distinct from Terminated, which means a
	// process ran and exited.
	ServerStateRegistered ServerState = iota

	// ServerStateStarting means the server process is starting: binary
	// resolved, process spawned, initialize handshake in flight.
	ServerStateStarting

	// ServerStateReady means the server is initialized and ready for requests.
	ServerStateReady

	// ServerStateDraining means a graceful shutdown has been requested
	// (shutdown/exit sent) but the process has not
	// yet been confirmed dead.
	ServerStateDraining

	// ServerStateTerminated means the process has exited, whether via
	// graceful shutdown, a forced kill, or a crash.
	ServerStateTerminated
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"registered", "starting", "ready", "draining", "terminated"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// SERVER
// =============================================================================

// stderrRingSize bounds the captured tail of a server's stderr stream, used
// to surface a diagnostic snippet when the process exits during spawn.
const stderrRingSize = 4096

// spawnGraceWindow is how long Start waits after cmd.Start() returns before
// re-checking that the process is still alive, catching launchers that
// exit immediately (missing shared library, bad args) rather than blocking
// forever on the initialize handshake.
const spawnGraceWindow = 200 * time.Millisecond

// Server represents a running LSP server process.
//
// Description:
//
//	Manages the lifecycle of an LSP server process, including starting,
//	initializing, and shutting down. Provides methods for sending requests
//	and notifications to the server.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully.
type Server struct {
	instanceID string
	config     lspconfig.LanguageConfig
	rootPath   string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *ringBuffer

	protocol     *Protocol
	capabilities ServerCapabilities

	state   ServerState
	stateMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}

	lastUsed   time.Time
	lastUsedMu sync.Mutex

	startTime time.Time

	restartAttempts int
	restartMu       sync.Mutex

	docs        *DocumentTracker
	diagnostics *diagnosticsStore

	waitOnce sync.Once
	waitDone chan struct{}
	exitErr  error
}

// startWaiter arranges for cmd.Wait() to be called exactly once, on a
// background goroutine, regardless of how many call sites (the spawn grace
// window, Shutdown) need to observe the process's exit. Safe to call
// concurrently and more than once.
func (s *Server) startWaiter() {
	s.waitOnce.Do(func() {
		s.waitDone = make(chan struct{})
		go func() {
			s.exitErr = s.cmd.Wait()
			close(s.waitDone)
		}()
	})
}

// ringBuffer is a bounded, concurrency-safe tail buffer used to capture the
// last N bytes written to it, so a crashed process's final stderr output can
// be surfaced without holding the whole stream in memory.
type ringBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	cap int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(p)
	if extra := r.buf.Len() - r.cap; extra > 0 {
		r.buf.Next(extra)
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// NewServer creates a new server instance (not started).
//
// Description:
//
//	Creates a server instance configured for the given language.
//	The server is not started; call Start to begin the process.
//
// Inputs:
//
//	config - Language configuration for the server
//	rootPath - Absolute path to the workspace root
//
// Outputs:
//
//	*Server - The configured (but not started) server
func NewServer(config lspconfig.LanguageConfig, rootPath string) *Server {
	return &Server{
		instanceID:  uuid.NewString(),
		config:      config,
		rootPath:    rootPath,
		state:       ServerStateRegistered,
		readDone:    make(chan struct{}),
		lastUsed:    time.Now(),
		docs:        NewDocumentTracker(),
		diagnostics: newDiagnosticsStore(),
	}
}

// InstanceID uniquely identifies this server process across restarts,
// distinguishing log lines and spans from one spawn attempt to the next
// even though the language and PID may repeat.
func (s *Server) InstanceID() string {
	return s.instanceID
}

// Diagnostics returns the server's cached diagnostics store, populated from
// textDocument/publishDiagnostics notifications.
func (s *Server) Diagnostics() *diagnosticsStore {
	return s.diagnostics
}

// RestartAttempts returns the restart-attempt count recorded on this server.
// Start resets it to 0 when the server becomes ready, so a server that
// started successfully reports 0.
func (s *Server) RestartAttempts() int {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	return s.restartAttempts
}

func (s *Server) incRestartAttempts() int {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	s.restartAttempts++
	return s.restartAttempts
}

func (s *Server) resetRestartAttempts() {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	s.restartAttempts = 0
}

// Documents returns the server's document tracker, used by operations to
// ensure a file is opened/synced before a positional request is sent.
func (s *Server) Documents() *DocumentTracker {
	return s.docs
}

// PID returns the server process's OS PID, or 0 if it has not started.
func (s *Server) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Command returns the full launch command (binary plus args) used to spawn
// the server process.
func (s *Server) Command() string {
	parts := append([]string{s.config.Command}, s.config.Args...)
	return strings.Join(parts, " ")
}

// Start starts the LSP server process and initializes it.
//
// Description:
//
//	Starts the server process, establishes communication, and performs
//	the LSP initialize handshake. On success, the server is ready to
//	receive requests.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//
// Outputs:
//
//	error - Non-nil if the server failed to start or initialize
//
// Errors:
//
//	ErrServerNotInstalled - Server binary not found
//	ErrServerAlreadyStarted - Start called on a non-uninitialized server
//	ErrInitializeFailed - LSP initialize handshake failed
//
// Thread Safety:
//
//	Safe for concurrent use, but only the first caller will start the server.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state != ServerStateRegistered && s.state != ServerStateTerminated {
		s.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	// Check binary exists
	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.setState(ServerStateTerminated)
		slog.Warn("LSP server not installed",
			slog.String("language", s.config.Language),
			slog.String("command", s.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	slog.Info("Starting LSP server",
		slog.String("language", s.config.Language),
		slog.String("command", path),
		slog.String("root_path", s.rootPath),
	)

	// Create server context (independent of caller's context)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Create command
	s.cmd = exec.CommandContext(s.ctx, path, s.config.Args...)
	s.cmd.Dir = s.rootPath
	s.stderr = newRingBuffer(stderrRingSize)
	s.cmd.Stderr = s.stderr

	// Setup pipes
	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}

	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		s.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	// Start process
	if err := s.cmd.Start(); err != nil {
		s.cleanup()
		return fmt.Errorf("start process: %w", err)
	}

	// Grace window: re-check the process is still alive before committing to
	// the initialize handshake, so a launcher that exits immediately (bad
	// args, missing shared library) fails fast with its stderr tail instead
	// of hanging until the initialize request times out.
	s.startWaiter()

	select {
	case <-s.waitDone:
		s.cleanup()
		stderrTail := s.stderr.String()
		if stderrTail != "" {
			return fmt.Errorf("%w: %s: exited immediately: %v: %s", ErrServerNotInstalled, s.config.Command, s.exitErr, stderrTail)
		}
		return fmt.Errorf("%w: %s: exited immediately: %v", ErrServerNotInstalled, s.config.Command, s.exitErr)
	case <-time.After(spawnGraceWindow):
		// Still alive past the grace window; the waiter goroutine keeps
		// running and will be observed by Shutdown.
	}

	// Setup protocol
	s.protocol = NewProtocol(s.stdout, s.stdin)
	s.protocol.OnNotification("textDocument/publishDiagnostics", s.diagnostics.handle)

	// Start read loop in background
	go func() {
		defer close(s.readDone)
		_ = s.protocol.ReadLoop(s.ctx)
	}()

	// Perform initialize handshake
	if err := s.initialize(ctx); err != nil {
		s.Shutdown(ctx)
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.startTime = time.Now()
	s.setState(ServerStateReady)
	s.resetRestartAttempts()
	s.touchLastUsed()

	slog.Info("LSP server ready",
		slog.String("language", s.config.Language),
		slog.Bool("definition", s.capabilities.HasDefinitionProvider()),
		slog.Bool("references", s.capabilities.HasReferencesProvider()),
		slog.Bool("hover", s.capabilities.HasHoverProvider()),
		slog.Bool("rename", s.capabilities.HasRenameProvider()),
	)

	return nil
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context) error {
	codeActionLiteral := &CodeActionLiteralSupport{}
	codeActionLiteral.CodeActionKind.ValueSet = []string{"quickfix", "refactor", "refactor.extract", "source.fixAll"}

	params := InitializeParams{
		ProcessID: nil,
		RootURI:   "file://" + s.rootPath,
		RootPath:  s.rootPath,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{
					DidSave: true,
				},
				Definition: &DefinitionCapabilities{},
				References: &ReferencesCapabilities{},
				Hover: &HoverCapabilities{
					ContentFormat: []string{"markdown", "plaintext"},
				},
				Rename: &RenameCapabilities{
					PrepareSupport: true,
				},
				CodeAction: &CodeActionCapabilities{
					CodeActionLiteralSupport: codeActionLiteral,
				},
			},
			Workspace: WorkspaceClientCapabilities{
				ApplyEdit: true,
				WorkspaceEdit: &WorkspaceEditClientCapabilities{
					DocumentChanges: true,
				},
				Symbol: &WorkspaceSymbolClientCapabilities{},
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{
				URI:  "file://" + s.rootPath,
				Name: "workspace",
			},
		},
	}

	// Add initialization options if configured
	if s.config.InitializationOptions != nil {
		params.InitializationOptions = s.config.InitializationOptions
	}

	resp, err := s.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	s.capabilities = result.Capabilities

	// Send initialized notification
	if err := s.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
//
// Description:
//
//	Sends shutdown and exit messages to the server, then waits for the
//	process to terminate. If the server doesn't respond, it is killed.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//
// Outputs:
//
//	error - Always nil; shutdown failures are handled by killing the
//	        process, and the server ends terminated either way
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == ServerStateTerminated || s.state == ServerStateDraining {
		s.stateMu.Unlock()
		return nil
	}
	s.state = ServerStateDraining
	s.stateMu.Unlock()

	slog.Info("Shutting down LSP server",
		slog.String("language", s.config.Language),
	)

	defer s.cleanup()

	// Try graceful shutdown
	if s.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		// Send shutdown request (ignoring errors)
		_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)

		// Send exit notification
		_ = s.protocol.SendNotification("exit", nil)

		// Mark protocol as closed
		s.protocol.Close()
	}

	// Close stdin to signal EOF to server
	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	// Wait for process with timeout
	if s.cmd != nil && s.cmd.Process != nil {
		s.startWaiter()

		select {
		case <-time.After(5 * time.Second):
			// Force kill
			_ = s.cmd.Process.Kill()
			<-s.waitDone
		case <-s.waitDone:
		}
	}

	// Wait for read loop to finish
	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-s.readDone:
	case <-time.After(time.Second):
	}

	return nil
}

// cleanup releases resources and sets state to stopped.
func (s *Server) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	s.setState(ServerStateTerminated)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Language returns the language this server handles.
func (s *Server) Language() string {
	return s.config.Language
}

// RootPath returns the workspace root path.
func (s *Server) RootPath() string {
	return s.rootPath
}

// Capabilities returns the server's capabilities.
//
// Description:
//
//	Returns the capabilities reported by the server during initialization.
//	Returns zero value if the server hasn't been initialized.
func (s *Server) Capabilities() ServerCapabilities {
	return s.capabilities
}

// LastUsed returns when the server was last used.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) LastUsed() time.Time {
	s.lastUsedMu.Lock()
	defer s.lastUsedMu.Unlock()
	return s.lastUsed
}

// Uptime returns how long the server has been in the ready state since its
// most recent successful Start, or 0 if it has never reached ready.
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends an LSP request and waits for the response.
//
// Description:
//
//	Sends a request to the server and blocks until a response is received
//	or the context is cancelled. Updates the last-used timestamp.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The LSP method to invoke
//	params - Method parameters
//
// Outputs:
//
//	*Response - The server's response
//	error - Non-nil if server not ready, send failed, or timeout
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	s.touchLastUsed()
	return s.protocol.SendRequest(ctx, method, params)
}

// Notify sends an LSP notification.
//
// Description:
//
//	Sends a notification to the server. Notifications do not expect a
//	response. Updates the last-used timestamp.
//
// Inputs:
//
//	method - The LSP method to invoke
//	params - Method parameters
//
// Outputs:
//
//	error - Non-nil if server not ready or send failed
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	s.touchLastUsed()
	return s.protocol.SendNotification(method, params)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Server) touchLastUsed() {
	s.lastUsedMu.Lock()
	s.lastUsed = time.Now()
	s.lastUsedMu.Unlock()
}
