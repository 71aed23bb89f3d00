// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lspconfig holds the per-language server specifications the pool
// manager spawns against, loadable from YAML and validated at load time.
package lspconfig

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// LanguageConfig contains configuration for an LSP server.
type LanguageConfig struct {
	// Language is the language identifier (e.g., "go", "python").
	Language string `yaml:"language" validate:"required"`

	// Command is the executable name or path.
	Command string `yaml:"command" validate:"required"`

	// Args are command-line arguments to pass to the server.
	Args []string `yaml:"args"`

	// Extensions are file extensions this server handles (e.g., ".go").
	Extensions []string `yaml:"extensions" validate:"required,min=1"`

	// RootFiles are files that indicate a project root (e.g., "go.mod").
	RootFiles []string `yaml:"root_files"`

	// InitializationOptions are custom options passed during initialize.
	InitializationOptions any `yaml:"initialization_options,omitempty"`

	// OperationTimeoutsRaw holds per-operation timeouts for this language,
	// keyed by operation name ("definition", "references", "hover",
	// "rename", "workspace_symbol", "document_symbol", "code_action",
	// "diagnostics") with a duration string ("10s"). Use OperationTimeouts
	// for the parsed form. ConfigRegistry.OperationTimeout reports them;
	// the lsp package's Manager and Operations do not apply them.
	OperationTimeoutsRaw map[string]string `yaml:"operation_timeouts,omitempty"`

	// OperationTimeouts is OperationTimeoutsRaw parsed into durations. It
	// is populated by the registry when a spec is registered or loaded
	// from YAML; callers constructing a LanguageConfig in code may set it
	// directly instead.
	OperationTimeouts map[string]time.Duration `yaml:"-"`
}

// parseOperationTimeouts fills OperationTimeouts from OperationTimeoutsRaw.
func (c *LanguageConfig) parseOperationTimeouts() error {
	if len(c.OperationTimeoutsRaw) == 0 {
		return nil
	}
	if c.OperationTimeouts == nil {
		c.OperationTimeouts = make(map[string]time.Duration, len(c.OperationTimeoutsRaw))
	}
	for op, raw := range c.OperationTimeoutsRaw {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("operation_timeouts[%s]: %w", op, err)
		}
		c.OperationTimeouts[op] = d
	}
	return nil
}

// yamlRegistryFile is the on-disk/embedded shape loaded by LoadYAML.
type yamlRegistryFile struct {
	ServerSpecs []LanguageConfig `yaml:"server_specs" validate:"dive"`
}

// ConfigRegistry manages LSP configurations for different languages.
//
// Thread Safety: Safe for concurrent use.
type ConfigRegistry struct {
	mu         sync.RWMutex
	byLanguage map[string]LanguageConfig
	byExt      map[string]string // extension -> language
	validate   *validator.Validate
}

// NewConfigRegistry creates a registry pre-populated with the embedded
// default configurations for go, python, typescript, javascript, rust,
// java, c, and cpp.
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{
		byLanguage: make(map[string]LanguageConfig),
		byExt:      make(map[string]string),
		validate:   validator.New(),
	}
	if err := r.loadYAML(defaultsYAML); err != nil {
		// The embedded defaults are part of the binary; a failure here is a
		// packaging bug, not a runtime condition callers can act on.
		panic(fmt.Sprintf("lspconfig: embedded defaults.yaml invalid: %v", err))
	}
	return r
}

// LoadYAML merges server specs from a YAML document (matching the
// `server_specs:` shape of defaults.yaml) into the registry, validating
// each entry before it replaces or adds to the existing configuration.
func (r *ConfigRegistry) LoadYAML(data []byte) error {
	return r.loadYAML(data)
}

func (r *ConfigRegistry) loadYAML(data []byte) error {
	var file yamlRegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse server spec yaml: %w", err)
	}

	if err := r.validateOrDefault(); err != nil {
		return err
	}

	for _, cfg := range file.ServerSpecs {
		if err := r.validate.Struct(cfg); err != nil {
			return fmt.Errorf("invalid server spec for %q: %w", cfg.Language, err)
		}
		if err := cfg.parseOperationTimeouts(); err != nil {
			return fmt.Errorf("server spec for %q: %w", cfg.Language, err)
		}
		r.Register(cfg)
	}
	return nil
}

func (r *ConfigRegistry) validateOrDefault() error {
	if r.validate == nil {
		r.validate = validator.New()
	}
	return nil
}

// Register adds or updates a language configuration.
//
// Description:
//
//	Registers a language server configuration. If a configuration already
//	exists for the language, it is replaced. Also updates the extension
//	mapping for quick lookups.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *ConfigRegistry) Register(config LanguageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[config.Language] = config

	for _, ext := range config.Extensions {
		r.byExt[ext] = config.Language
	}
}

// Get returns the configuration for a language.
func (r *ConfigRegistry) Get(language string) (LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.byLanguage[language]
	return config, ok
}

// GetByExtension returns the configuration for a file extension.
func (r *ConfigRegistry) GetByExtension(ext string) (LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.byExt[ext]
	if !ok {
		return LanguageConfig{}, false
	}
	config, ok := r.byLanguage[lang]
	return config, ok
}

// Languages returns all registered language names.
func (r *ConfigRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	return langs
}

// Extensions returns all file extensions mapped to a language.
func (r *ConfigRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// LanguageForExtension returns the language identifier for a file extension.
func (r *ConfigRegistry) LanguageForExtension(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.byExt[ext]
	return lang, ok
}

// OperationTimeout returns the configured timeout override for a language's
// operation, and whether one was set.
func (r *ConfigRegistry) OperationTimeout(language, operation string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byLanguage[language]
	if !ok || cfg.OperationTimeouts == nil {
		return 0, false
	}
	d, ok := cfg.OperationTimeouts[operation]
	return d, ok
}
