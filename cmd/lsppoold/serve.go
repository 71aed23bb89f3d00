// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aleutian-tools/lsppool/internal/lsp"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool manager as an HTTP service",
	Long: `Starts an HTTP server exposing the pool's status and editor operations
(hover, definition, references, rename, diagnostics) as JSON
endpoints, plus a Prometheus /metrics scrape target.

Blocks until SIGINT or SIGTERM, then shuts down every managed language
server before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8737, "HTTP listen port")
}

// requestBody is the shared JSON shape for position-addressed operations.
type requestBody struct {
	File    string `json:"file" binding:"required"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	NewName string `json:"new_name,omitempty"`
}

func runServe(cmd *cobra.Command, args []string) error {
	ops := newOperations()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("lsppoold"))

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ops.Manager().Status())
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/hover", handleHover(ops))
		v1.POST("/definition", handleDefinition(ops))
		v1.POST("/references", handleReferences(ops))
		v1.POST("/rename", handleRename(ops))
		v1.POST("/diagnostics", handleDiagnostics(ops))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", servePort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("lsppoold serving", "port", servePort, "root", workspaceRoot)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case <-sigCh:
		slog.Info("lsppoold shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}
	return ops.Manager().ShutdownAll(shutdownCtx)
}

func handleHover(ops *lsp.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body requestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		info, err := ops.Hover(c.Request.Context(), body.File, body.Line, body.Column)
		if err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func handleDefinition(ops *lsp.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body requestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		locs, err := ops.Definition(c.Request.Context(), body.File, body.Line, body.Column)
		if err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, locs)
	}
}

func handleReferences(ops *lsp.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			requestBody
			IncludeDeclaration bool `json:"include_declaration"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		locs, err := ops.References(c.Request.Context(), body.File, body.Line, body.Column, body.IncludeDeclaration)
		if err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, locs)
	}
}

func handleRename(ops *lsp.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body requestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		edit, err := ops.Rename(c.Request.Context(), body.File, body.Line, body.Column, body.NewName)
		if err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, edit)
	}
}

func handleDiagnostics(ops *lsp.Operations) gin.HandlerFunc {
	return func(c *gin.Context) {
		file := c.Query("file")
		if file == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file query parameter is required"})
			return
		}
		diags, err := ops.Diagnostics(c.Request.Context(), file)
		if err != nil {
			writeOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, diags)
	}
}

// writeOpError maps an Operations error to a status code. An
// *lsp.UnavailableError (every fallback strategy declined or failed) is
// reported as 503 so a caller can tell "nothing answered" apart from a
// malformed request or a genuine server-side bug.
func writeOpError(c *gin.Context, err error) {
	var unavailable *lsp.UnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavailable.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
