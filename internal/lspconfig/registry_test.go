// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lspconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigRegistry_PopulatesDefaults(t *testing.T) {
	r := NewConfigRegistry()

	cfg, ok := r.Get("go")
	require.True(t, ok)
	assert.Equal(t, "gopls", cfg.Command)
	assert.Contains(t, cfg.Extensions, ".go")

	assert.Contains(t, r.Languages(), "python")
	assert.Contains(t, r.Languages(), "rust")
	assert.Contains(t, r.Extensions(), ".tsx")
}

func TestConfigRegistry_GetByExtension(t *testing.T) {
	r := NewConfigRegistry()

	cfg, ok := r.GetByExtension(".py")
	require.True(t, ok)
	assert.Equal(t, "python", cfg.Language)

	_, ok = r.GetByExtension(".unknown")
	assert.False(t, ok)
}

func TestConfigRegistry_LanguageForExtension(t *testing.T) {
	r := NewConfigRegistry()

	lang, ok := r.LanguageForExtension(".jsx")
	require.True(t, ok)
	assert.Equal(t, "javascript", lang)

	_, ok = r.LanguageForExtension(".cobol")
	assert.False(t, ok)
}

func TestConfigRegistry_Register_AddsNewLanguageAndExtensions(t *testing.T) {
	r := NewConfigRegistry()

	r.Register(LanguageConfig{
		Language:   "ruby",
		Command:    "solargraph",
		Args:       []string{"stdio"},
		Extensions: []string{".rb"},
	})

	cfg, ok := r.Get("ruby")
	require.True(t, ok)
	assert.Equal(t, "solargraph", cfg.Command)

	lang, ok := r.LanguageForExtension(".rb")
	require.True(t, ok)
	assert.Equal(t, "ruby", lang)
}

func TestConfigRegistry_Register_ReplacesExistingLanguage(t *testing.T) {
	r := NewConfigRegistry()

	r.Register(LanguageConfig{
		Language:   "go",
		Command:    "custom-gopls",
		Extensions: []string{".go"},
	})

	cfg, ok := r.Get("go")
	require.True(t, ok)
	assert.Equal(t, "custom-gopls", cfg.Command)
}

func TestConfigRegistry_OperationTimeout_UnsetReturnsFalse(t *testing.T) {
	r := NewConfigRegistry()
	_, ok := r.OperationTimeout("go", "definition")
	assert.False(t, ok)

	_, ok = r.OperationTimeout("cobol", "definition")
	assert.False(t, ok)
}

func TestConfigRegistry_LoadYAML_ParsesOperationTimeouts(t *testing.T) {
	r := NewConfigRegistry()

	doc := []byte(`
server_specs:
  - language: go
    command: gopls
    args: ["serve"]
    extensions: [".go"]
    operation_timeouts:
      definition: "15s"
      hover: "2s"
`)
	require.NoError(t, r.LoadYAML(doc))

	timeout, ok := r.OperationTimeout("go", "definition")
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, timeout)

	timeout, ok = r.OperationTimeout("go", "hover")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, timeout)
}

func TestConfigRegistry_LoadYAML_RejectsMissingRequiredFields(t *testing.T) {
	r := NewConfigRegistry()

	doc := []byte(`
server_specs:
  - language: broken
    extensions: [".broken"]
`)
	err := r.LoadYAML(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	_, ok := r.Get("broken")
	assert.False(t, ok)
}

func TestConfigRegistry_LoadYAML_RejectsEmptyExtensions(t *testing.T) {
	r := NewConfigRegistry()

	doc := []byte(`
server_specs:
  - language: broken
    command: broken-lsp
    extensions: []
`)
	require.Error(t, r.LoadYAML(doc))
}

func TestConfigRegistry_LoadYAML_RejectsMalformedDuration(t *testing.T) {
	r := NewConfigRegistry()

	doc := []byte(`
server_specs:
  - language: go
    command: gopls
    extensions: [".go"]
    operation_timeouts:
      definition: "not-a-duration"
`)
	err := r.LoadYAML(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation_timeouts")
}

func TestConfigRegistry_LoadYAML_InvalidYAMLErrors(t *testing.T) {
	r := NewConfigRegistry()
	require.Error(t, r.LoadYAML([]byte("not: [valid: yaml")))
}
