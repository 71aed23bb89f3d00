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
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-tools/lsppool/internal/lsp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestWriteOpError_UnavailableMapsTo503(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeOpError(c, &lsp.UnavailableError{
		Operation:  "hover",
		Strategies: []lsp.StrategyFailure{{Strategy: "jedi"}},
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "hover")
}

func TestWriteOpError_GenericErrorMapsTo500(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeOpError(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "boom", body["error"])
}

func newTestOps(t *testing.T) *lsp.Operations {
	t.Helper()
	return lsp.NewOperations(lsp.NewManager(t.TempDir(), lsp.DefaultManagerConfig()))
}

func TestHandleDiagnostics_MissingFileQueryReturns400(t *testing.T) {
	ops := newTestOps(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/diagnostics", nil)

	handleDiagnostics(ops)(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHover_InvalidJSONReturns400(t *testing.T) {
	ops := newTestOps(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/hover", bytes.NewBufferString("not json"))
	c.Request.Header.Set("Content-Type", "application/json")

	handleHover(ops)(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHover_MissingRequiredFileReturns400(t *testing.T) {
	ops := newTestOps(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/hover", bytes.NewBufferString(`{"line":1,"column":0}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handleHover(ops)(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDefinition_UnsupportedLanguageMapsTo500(t *testing.T) {
	ops := newTestOps(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/definition", bytes.NewBufferString(`{"file":"/tmp/a.rb","line":1,"column":0}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handleDefinition(ops)(c)

	// ErrUnsupportedLanguage isn't an *lsp.UnavailableError, so it falls
	// through writeOpError's generic branch rather than the 503 one.
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "no lsp configuration")
}
