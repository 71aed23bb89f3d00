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

import "encoding/json"

// =============================================================================
// CORE TEXT DOCUMENT TYPES
// =============================================================================

// Position is a zero-based line/character offset within a text document.
// Character is a UTF-16 code unit offset, per the LSP specification.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans from Start up to but not including End.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location identifies a range inside a resource, such as a file.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LocationLink is a richer alternative to Location returned by servers that
// support origin-selection-aware navigation (e.g. definition of a generic
// instantiation).
type LocationLink struct {
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// TextDocumentIdentifier identifies a text document by its URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem transfers a text document's full content from client to
// server, used on didOpen.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a text document together with
// the version the identifier applies to.
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// TextDocumentPositionParams is embedded by every request that targets a
// single position in a document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// =============================================================================
// REFERENCES
// =============================================================================

// ReferenceContext controls whether the declaration itself is included in
// a textDocument/references result.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// ReferenceParams is the params object for textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// =============================================================================
// SYMBOLS
// =============================================================================

// SymbolKind enumerates the kind of a programming construct, per LSP §3.17.
type SymbolKind int

const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

var symbolKindNames = map[SymbolKind]string{
	SymbolKindFile: "File", SymbolKindModule: "Module", SymbolKindNamespace: "Namespace",
	SymbolKindPackage: "Package", SymbolKindClass: "Class", SymbolKindMethod: "Method",
	SymbolKindProperty: "Property", SymbolKindField: "Field", SymbolKindConstructor: "Constructor",
	SymbolKindEnum: "Enum", SymbolKindInterface: "Interface", SymbolKindFunction: "Function",
	SymbolKindVariable: "Variable", SymbolKindConstant: "Constant", SymbolKindString: "String",
	SymbolKindNumber: "Number", SymbolKindBoolean: "Boolean", SymbolKindArray: "Array",
	SymbolKindObject: "Object", SymbolKindKey: "Key", SymbolKindNull: "Null",
	SymbolKindEnumMember: "EnumMember", SymbolKindStruct: "Struct", SymbolKindEvent: "Event",
	SymbolKindOperator: "Operator", SymbolKindTypeParameter: "TypeParameter",
}

// SymbolKindName returns a human-readable name for a SymbolKind.
func SymbolKindName(k SymbolKind) string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// WorkspaceSymbolParams is the params object for workspace/symbol.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// DocumentSymbolParams is the params object for textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// SymbolInformation is the flat symbol shape returned by workspace/symbol
// and by servers that don't support hierarchical document symbols.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// DocumentSymbol is the hierarchical symbol shape returned by
// textDocument/documentSymbol when the server advertises hierarchicalDocumentSymbolSupport.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// Flatten converts a DocumentSymbol tree into a flat list of
// SymbolInformation, qualifying nested symbols with their parent's name as
// ContainerName. uri is stamped onto every produced Location.
func (d DocumentSymbol) Flatten(uri, containerName string) []SymbolInformation {
	out := []SymbolInformation{{
		Name:          d.Name,
		Kind:          d.Kind,
		Location:      Location{URI: uri, Range: d.Range},
		ContainerName: containerName,
	}}
	for _, child := range d.Children {
		out = append(out, child.Flatten(uri, d.Name)...)
	}
	return out
}

// =============================================================================
// HOVER
// =============================================================================

// MarkupContent is a string value tagged with its rendering kind
// ("plaintext" or "markdown").
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// HoverResult is the result of a textDocument/hover request.
type HoverResult struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// =============================================================================
// RENAME
// =============================================================================

// RenameParams is the params object for textDocument/rename.
type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

// PrepareRenameParams is the params object for textDocument/prepareRename.
type PrepareRenameParams struct {
	TextDocumentPositionParams
}

// PrepareRenameResult reports whether the symbol at a position may be
// renamed and, if so, the range to highlight and a suggested placeholder.
type PrepareRenameResult struct {
	Range       Range  `json:"range"`
	Placeholder string `json:"placeholder,omitempty"`
}

// =============================================================================
// WORKSPACE EDIT
// =============================================================================

// TextEdit replaces the text within Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// DocumentChange is the per-document shape used inside
// WorkspaceEdit.DocumentChanges, mirroring LSP's TextDocumentEdit shape.
type DocumentChange struct {
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                      `json:"edits"`
}

// WorkspaceEdit represents changes to many resources managed in the
// workspace, as produced by rename and code-action-resolve.
type WorkspaceEdit struct {
	Changes         map[string][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []DocumentChange      `json:"documentChanges,omitempty"`
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticSeverity ranks the severity of a Diagnostic.
type DiagnosticSeverity int

const (
	DiagnosticSeverityError       DiagnosticSeverity = 1
	DiagnosticSeverityWarning     DiagnosticSeverity = 2
	DiagnosticSeverityInformation DiagnosticSeverity = 3
	DiagnosticSeverityHint        DiagnosticSeverity = 4
)

// DiagnosticSeverityName returns a human-readable name for a severity level.
func DiagnosticSeverityName(s DiagnosticSeverity) string {
	switch s {
	case DiagnosticSeverityError:
		return "error"
	case DiagnosticSeverityWarning:
		return "warning"
	case DiagnosticSeverityInformation:
		return "info"
	case DiagnosticSeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic is a compiler error, lint warning, or similar finding attached
// to a range within a document.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     any                `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

// PublishDiagnosticsParams is the server-to-client notification payload
// for textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// =============================================================================
// CODE ACTIONS
// =============================================================================

// CodeActionContext carries the diagnostics the client currently has for the
// requested range, so the server can offer targeted fixes.
type CodeActionContext struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Only        []string     `json:"only,omitempty"`
}

// CodeActionParams is the params object for textDocument/codeAction.
type CodeActionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Context      CodeActionContext      `json:"context"`
}

// Command is a reference to a command identified by a string, with
// arguments the server interprets itself (as opposed to a WorkspaceEdit the
// client applies).
type Command struct {
	Title     string `json:"title"`
	Command   string `json:"command"`
	Arguments []any  `json:"arguments,omitempty"`
}

// CodeAction is a change the editor can apply to fix a diagnostic or
// perform a refactor. Either Edit or Command (or neither, pending resolve)
// is populated.
type CodeAction struct {
	Title       string          `json:"title"`
	Kind        string          `json:"kind,omitempty"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
	IsPreferred bool            `json:"isPreferred,omitempty"`
	Edit        *WorkspaceEdit  `json:"edit,omitempty"`
	Command     *Command        `json:"command,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// =============================================================================
// INITIALIZE / CAPABILITIES
// =============================================================================

// WorkspaceFolder names a root folder of the workspace being opened.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// TextDocumentSyncClientCapabilities advertises the client's text
// synchronization support.
type TextDocumentSyncClientCapabilities struct {
	DidSave bool `json:"didSave,omitempty"`
}

// DefinitionCapabilities advertises textDocument/definition support.
type DefinitionCapabilities struct {
	LinkSupport bool `json:"linkSupport,omitempty"`
}

// ReferencesCapabilities advertises textDocument/references support.
type ReferencesCapabilities struct{}

// HoverCapabilities advertises textDocument/hover support and accepted
// markup formats.
type HoverCapabilities struct {
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// RenameCapabilities advertises textDocument/rename support.
type RenameCapabilities struct {
	PrepareSupport bool `json:"prepareSupport,omitempty"`
}

// DocumentSymbolCapabilities advertises textDocument/documentSymbol support.
type DocumentSymbolCapabilities struct {
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport,omitempty"`
}

// CodeActionLiteralSupport advertises that the client understands typed
// CodeActionKind values.
type CodeActionLiteralSupport struct {
	CodeActionKind struct {
		ValueSet []string `json:"valueSet"`
	} `json:"codeActionKind"`
}

// CodeActionCapabilities advertises textDocument/codeAction support.
type CodeActionCapabilities struct {
	CodeActionLiteralSupport *CodeActionLiteralSupport `json:"codeActionLiteralSupport,omitempty"`
	ResolveSupport           *struct {
		Properties []string `json:"properties"`
	} `json:"resolveSupport,omitempty"`
}

// PublishDiagnosticsCapabilities advertises textDocument/publishDiagnostics support.
type PublishDiagnosticsCapabilities struct {
	VersionSupport bool `json:"versionSupport,omitempty"`
}

// TextDocumentClientCapabilities groups all per-feature text document
// capabilities advertised during initialize.
type TextDocumentClientCapabilities struct {
	Synchronization    *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
	Definition         *DefinitionCapabilities             `json:"definition,omitempty"`
	References         *ReferencesCapabilities              `json:"references,omitempty"`
	Hover              *HoverCapabilities                   `json:"hover,omitempty"`
	Rename             *RenameCapabilities                  `json:"rename,omitempty"`
	DocumentSymbol     *DocumentSymbolCapabilities          `json:"documentSymbol,omitempty"`
	CodeAction         *CodeActionCapabilities              `json:"codeAction,omitempty"`
	PublishDiagnostics *PublishDiagnosticsCapabilities       `json:"publishDiagnostics,omitempty"`
}

// WorkspaceEditClientCapabilities advertises support for the
// documentChanges shape of WorkspaceEdit.
type WorkspaceEditClientCapabilities struct {
	DocumentChanges bool `json:"documentChanges,omitempty"`
}

// WorkspaceSymbolClientCapabilities advertises workspace/symbol support.
type WorkspaceSymbolClientCapabilities struct{}

// WorkspaceClientCapabilities groups workspace-scoped capabilities.
type WorkspaceClientCapabilities struct {
	ApplyEdit     bool                               `json:"applyEdit,omitempty"`
	WorkspaceEdit *WorkspaceEditClientCapabilities    `json:"workspaceEdit,omitempty"`
	Symbol        *WorkspaceSymbolClientCapabilities  `json:"symbol,omitempty"`
}

// ClientCapabilities is the top-level capability set the pool manager
// advertises to every server it spawns.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument,omitempty"`
	Workspace    WorkspaceClientCapabilities     `json:"workspace,omitempty"`
}

// InitializeParams is the params object for the initialize request.
type InitializeParams struct {
	// ProcessID is always nil: the pool's own PID has no bearing on the
	// spawned server's lifetime, and sending null is the documented way
	// to tell the server not to watch a parent process.
	ProcessID             *int               `json:"processId"`
	RootURI               string             `json:"rootUri"`
	RootPath              string             `json:"rootPath,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
}

// ServerCapabilities is the set of features a server reports supporting in
// its InitializeResult. LSP allows each provider field to be either a bare
// bool or an options object, so these are typed as json.RawMessage and
// interpreted by the Has* helpers below.
type ServerCapabilities struct {
	TextDocumentSync           json.RawMessage `json:"textDocumentSync,omitempty"`
	DefinitionProvider         json.RawMessage `json:"definitionProvider,omitempty"`
	ReferencesProvider         json.RawMessage `json:"referencesProvider,omitempty"`
	HoverProvider              json.RawMessage `json:"hoverProvider,omitempty"`
	RenameProvider             json.RawMessage `json:"renameProvider,omitempty"`
	WorkspaceSymbolProvider    json.RawMessage `json:"workspaceSymbolProvider,omitempty"`
	DocumentSymbolProvider     json.RawMessage `json:"documentSymbolProvider,omitempty"`
	CodeActionProvider         json.RawMessage `json:"codeActionProvider,omitempty"`
	DocumentFormattingProvider json.RawMessage `json:"documentFormattingProvider,omitempty"`
}

// providerEnabled reports whether a raw provider field indicates support:
// absent or explicit false means no, anything else (true, or an options
// object) means yes.
func providerEnabled(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	if string(raw) == "false" {
		return false
	}
	return true
}

// HasDefinitionProvider reports whether the server supports textDocument/definition.
func (c ServerCapabilities) HasDefinitionProvider() bool { return providerEnabled(c.DefinitionProvider) }

// HasReferencesProvider reports whether the server supports textDocument/references.
func (c ServerCapabilities) HasReferencesProvider() bool { return providerEnabled(c.ReferencesProvider) }

// HasHoverProvider reports whether the server supports textDocument/hover.
func (c ServerCapabilities) HasHoverProvider() bool { return providerEnabled(c.HoverProvider) }

// HasRenameProvider reports whether the server supports textDocument/rename.
func (c ServerCapabilities) HasRenameProvider() bool { return providerEnabled(c.RenameProvider) }

// HasWorkspaceSymbolProvider reports whether the server supports workspace/symbol.
func (c ServerCapabilities) HasWorkspaceSymbolProvider() bool {
	return providerEnabled(c.WorkspaceSymbolProvider)
}

// HasDocumentSymbolProvider reports whether the server supports textDocument/documentSymbol.
func (c ServerCapabilities) HasDocumentSymbolProvider() bool {
	return providerEnabled(c.DocumentSymbolProvider)
}

// HasCodeActionProvider reports whether the server supports textDocument/codeAction.
func (c ServerCapabilities) HasCodeActionProvider() bool { return providerEnabled(c.CodeActionProvider) }

// CodeActionResolveSupported reports whether the server's codeActionProvider
// advertises a resolveProvider:true options object.
func (c ServerCapabilities) CodeActionResolveSupported() bool {
	if !c.HasCodeActionProvider() {
		return false
	}
	var opts struct {
		ResolveProvider bool `json:"resolveProvider"`
	}
	_ = json.Unmarshal(c.CodeActionProvider, &opts)
	return opts.ResolveProvider
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

// =============================================================================
// DOCUMENT SYNCHRONIZATION NOTIFICATIONS
// =============================================================================

// DidOpenTextDocumentParams is sent when a text document is opened.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams is sent when a text document is closed.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// TextDocumentContentChangeEvent describes a change to a text document. Only
// the whole-document form (Text populated, Range/RangeLength absent) is
// produced by this package, since DocumentTracker always resyncs full text.
type TextDocumentContentChangeEvent struct {
	Range       *Range `json:"range,omitempty"`
	RangeLength *int   `json:"rangeLength,omitempty"`
	Text        string `json:"text"`
}

// DidChangeTextDocumentParams is sent when the content of a text document changes.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier   `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}
