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
	"log/slog"
	"time"
)

// HealthMonitorConfig tunes the periodic liveness check run against every
// ready server.
type HealthMonitorConfig struct {
	// CheckInterval is how often every ready server is pinged.
	CheckInterval time.Duration

	// CheckTimeout bounds a single ping; exceeding it counts as a failure.
	CheckTimeout time.Duration
}

// DefaultHealthMonitorConfig matches the pool's documented defaults: a
// check every five minutes, each one aborted after five seconds.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval: 5 * time.Minute,
		CheckTimeout:  5 * time.Second,
	}
}

// HealthMonitor periodically pings every ready server in a Manager and
// restarts (with backoff) any that fail to respond.
//
// Description:
//
//	A server is considered live if it answers a textDocument/documentSymbol
//	probe against a throwaway URI within CheckTimeout. Any spec-compliant
//	server rejects that URI with a normal JSON-RPC error rather than going
//	silent, which is exactly the signal a liveness probe needs: a response
//	(success or error) means the process is still servicing its stdio loop.
//
// Thread Safety:
//
//	Safe for concurrent use; intended to be started once via Start.
type HealthMonitor struct {
	manager *Manager
	config  HealthMonitorConfig

	stopped chan struct{}
}

// NewHealthMonitor creates a monitor for manager using config.
func NewHealthMonitor(manager *Manager, config HealthMonitorConfig) *HealthMonitor {
	return &HealthMonitor{
		manager: manager,
		config:  config,
		stopped: make(chan struct{}),
	}
}

// Start launches the background check loop. Call Stop to end it.
func (h *HealthMonitor) Start() {
	go func() {
		ticker := time.NewTicker(h.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-h.stopped:
				return
			case <-ticker.C:
				h.checkAll()
			}
		}
	}()
}

// Stop ends the check loop. Idempotent.
func (h *HealthMonitor) Stop() {
	select {
	case <-h.stopped:
	default:
		close(h.stopped)
	}
}

func (h *HealthMonitor) checkAll() {
	for _, lang := range h.manager.RunningServers() {
		server := h.manager.Get(lang)
		if server == nil {
			continue
		}
		if err := h.ping(server); err != nil {
			healthCheckFailuresTotal.WithLabelValues(lang).Inc()
			slog.Warn("LSP server failed health check",
				slog.String("language", lang),
				slog.Any("error", err),
			)
			ctx, cancel := context.WithTimeout(context.Background(), h.manager.config.StartupTimeout)
			restartErr := h.manager.restartWithBackoff(ctx, lang)
			cancel()
			if restartErr == nil {
				serverRestartsTotal.WithLabelValues(lang).Inc()
			}
			if restartErr != nil {
				slog.Error("failed to restart unhealthy LSP server",
					slog.String("language", lang),
					slog.Any("error", restartErr),
				)
			}
		}
	}
}

// ping sends a throwaway request the server must answer to be considered
// alive. textDocument/documentSymbol against an empty/unknown URI is
// rejected by spec-compliant servers with a normal JSON-RPC error rather
// than silence, which is exactly the signal a liveness probe needs: any
// response (success or error) means the process is still processing
// messages on its stdio loop.
func (h *HealthMonitor) ping(server *Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.CheckTimeout)
	defer cancel()

	_, err := server.Request(ctx, "textDocument/documentSymbol", DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: "file:///__lsppool_health_check__"},
	})
	if err == nil {
		return nil
	}
	// A well-formed JSON-RPC error response (server rejected the bogus URI)
	// still proves the process answered; only a transport-level failure
	// (timeout, closed connection) indicates the server is unresponsive.
	if _, ok := err.(*LSPError); ok {
		return nil
	}
	return err
}
