// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fallback

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/aleutian-tools/lsppool/internal/lsp"
)

var indexerLanguages = map[string]*sitter.Language{
	".go":   golang.GetLanguage(),
	".py":   python.GetLanguage(),
	".pyi":  python.GetLanguage(),
	".js":   javascript.GetLanguage(),
	".jsx":  javascript.GetLanguage(),
	".mjs":  javascript.GetLanguage(),
	".ts":   typescript.GetLanguage(),
	".tsx":  typescript.GetLanguage(),
	".java": java.GetLanguage(),
}

// namedDeclNodeTypes lists the tree-sitter node types this indexer treats as
// declarations worth indexing, across the languages above. This is
// intentionally coarse (a tag indexer, not a full parser): it is only ever
// consulted after the real LSP server and, for Python, jedi have both
// already failed or are unavailable.
var namedDeclNodeTypes = map[string]lsp.SymbolKind{
	"function_declaration":  lsp.SymbolKindFunction,
	"method_declaration":    lsp.SymbolKindMethod,
	"func_literal":          lsp.SymbolKindFunction,
	"function_definition":   lsp.SymbolKindFunction,
	"class_definition":      lsp.SymbolKindClass,
	"class_declaration":     lsp.SymbolKindClass,
	"interface_declaration": lsp.SymbolKindInterface,
	"type_declaration":      lsp.SymbolKindStruct,
	"struct_declaration":    lsp.SymbolKindStruct,
	"method_definition":     lsp.SymbolKindMethod,
	"variable_declaration":  lsp.SymbolKindVariable,
	"lexical_declaration":   lsp.SymbolKindVariable,
	"const_declaration":     lsp.SymbolKindConstant,
	"enum_declaration":      lsp.SymbolKindEnum,
}

// Indexer is a universal, approximate symbol indexer built on the
// tree-sitter grammars already vendored for AST-based code analysis. It
// serves as the document-symbols fallback when no LSP server answers, and
// as the first workspace-symbols tier; Chain hands workspace symbols to
// TextSearchFallback only when indexing the whole tree matches nothing or
// the walk itself fails. Only extensions in indexerLanguages are indexed.
//
// Thread Safety: safe for concurrent use; a fresh parser is created per call.
type Indexer struct{}

// NewIndexer creates a universal tag indexer.
func NewIndexer() *Indexer { return &Indexer{} }

// DocumentSymbols parses filePath with the tree-sitter grammar matching its
// extension and returns one SymbolInformation per recognized declaration,
// including those nested in class and function bodies.
func (ix *Indexer) DocumentSymbols(ctx context.Context, filePath string) ([]lsp.SymbolInformation, error) {
	lang, ok := indexerLanguages[strings.ToLower(filepath.Ext(filePath))]
	if !ok {
		return nil, nil
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	uri := "file://" + filePath
	var symbols []lsp.SymbolInformation
	walkNamedDecls(tree.RootNode(), content, uri, &symbols)
	return symbols, nil
}

// walkNamedDecls recursively collects symbols for every node whose type is
// in namedDeclNodeTypes. It descends into every matched declaration and
// into body/block wrapper nodes, with no depth limit, so methods inside a
// class body and declarations nested deeper are collected too.
func walkNamedDecls(node *sitter.Node, content []byte, uri string, out *[]lsp.SymbolInformation) {
	if node == nil {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		kind, ok := namedDeclNodeTypes[child.Type()]
		if ok {
			if name := firstIdentifierText(child, content); name != "" {
				*out = append(*out, lsp.SymbolInformation{
					Name: name,
					Kind: kind,
					Location: lsp.Location{
						URI: uri,
						Range: lsp.Range{
							Start: lsp.Position{Line: int(child.StartPoint().Row), Character: int(child.StartPoint().Column)},
							End:   lsp.Position{Line: int(child.EndPoint().Row), Character: int(child.EndPoint().Column)},
						},
					},
				})
			}
			walkNamedDecls(child, content, uri, out)
			continue
		}
		// Descend through wrapper/body nodes without counting them as
		// declarations themselves, so nested methods are still found.
		if strings.HasSuffix(child.Type(), "_body") || child.Type() == "block" || child.Type() == "source_file" || child.Type() == "program" {
			walkNamedDecls(child, content, uri, out)
		}
	}
}

// firstIdentifierText returns the declared name of node: the text of its
// "name" field when the grammar defines one, otherwise the first
// identifier-like child, looking inside spec/declarator children (Go
// type_spec/const_spec, JS variable_declarator) where the name is nested.
// It returns "" for nodes with no name, such as func_literal.
func firstIdentifierText(node *sitter.Node, content []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return string(content[name.StartByte():name.EndByte()])
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier", "field_identifier", "type_identifier", "property_identifier":
			return string(content[child.StartByte():child.EndByte()])
		case "type_spec", "const_spec", "variable_declarator":
			if name := firstIdentifierText(child, content); name != "" {
				return name
			}
		}
	}
	return ""
}
