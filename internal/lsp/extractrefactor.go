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
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
	"unicode/utf16"

	"github.com/sourcegraph/go-diff/diff"
)

// extractionTemplates holds one text/template per language for the
// declaration an ExtractRefactor call inserts. Each receives an
// extractionTemplateData and must produce a complete top-level
// declaration, newline-terminated.
var extractionTemplates = map[string]*template.Template{
	"go": template.Must(template.New("go").Parse(
		"\nfunc {{.Name}}() {\n{{.Body}}\n}\n")),
	"python": template.Must(template.New("python").Parse(
		"\ndef {{.Name}}():\n{{.Body}}\n")),
	"javascript": template.Must(template.New("javascript").Parse(
		"\nfunction {{.Name}}() {\n{{.Body}}\n}\n")),
	"typescript": template.Must(template.New("typescript").Parse(
		"\nfunction {{.Name}}() {\n{{.Body}}\n}\n")),
}

var callTemplates = map[string]string{
	"go":         "%s()",
	"python":     "%s()",
	"javascript": "%s()",
	"typescript": "%s()",
}

type extractionTemplateData struct {
	Name string
	Body string
}

// PreviewWorkspaceEdit renders a unified diff of the changes a WorkspaceEdit
// would make, without writing anything to disk. Callers use this to show a
// rename or code-action-resolve result to a human before calling
// ApplyWorkspaceEdit.
//
// Description:
//
//	For each file touched by edit, reads the current on-disk content,
//	computes the post-edit content using the same splicing logic
//	ApplyWorkspaceEdit uses, and renders a standard "---"/"+++" unified
//	diff via go-diff. Files are ordered by path for a stable preview.
//
// Inputs:
//
//	edit - The workspace edit to preview
//
// Outputs:
//
//	string - A unified diff covering every affected file, concatenated
//	error - Non-nil if a file could not be read or an edit was invalid
func (o *Operations) PreviewWorkspaceEdit(edit *WorkspaceEdit) (string, error) {
	if edit == nil {
		return "", nil
	}

	perFile := collectEditsByPath(edit)
	paths := make([]string, 0, len(perFile))
	for path := range perFile {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var out strings.Builder
	for _, path := range paths {
		original, edited, err := computeEditedContent(path, perFile[path])
		if err != nil {
			return "", fmt.Errorf("preview %s: %w", path, err)
		}

		fileDiff, err := diffFileContents(path, original, edited)
		if err != nil {
			return "", fmt.Errorf("build diff for %s: %w", path, err)
		}
		if fileDiff == "" {
			continue
		}
		out.WriteString(fileDiff)
	}
	return out.String(), nil
}

// ExtractRefactor proposes extracting the statements within rng into a new
// top-level declaration named newName, returning a unified diff preview of
// the change and the WorkspaceEdit that would produce it.
//
// Description:
//
//	Builds a synthetic WorkspaceEdit from a rename-shaped request (a
//	target range plus a new name) and a per-language declaration template:
//	the extracted text becomes the body of a new declaration inserted at
//	the end of the file, and the original range is replaced with a call
//	to it. This never touches disk; applying the result is always a
//	separate, deliberate ApplyWorkspaceEdit call.
//
// Inputs:
//
//	filePath - Absolute path to the file containing rng
//	rng - The range of statements to extract
//	newName - Name for the new declaration
//
// Outputs:
//
//	string - Unified diff preview of the proposed change
//	*WorkspaceEdit - The edit ApplyWorkspaceEdit would need to perform it
//	error - Non-nil if filePath could not be read or the language has no
//	        extraction template
func (o *Operations) ExtractRefactor(filePath string, rng Range, newName string) (string, *WorkspaceEdit, error) {
	language := o.languageFromPath(filePath)
	tmpl, ok := extractionTemplates[language]
	if !ok {
		return "", nil, fmt.Errorf("%w: no extraction template for %s", ErrUnsupportedLanguage, language)
	}
	callFmt, ok := callTemplates[language]
	if !ok {
		return "", nil, fmt.Errorf("%w: no call template for %s", ErrUnsupportedLanguage, language)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	lines := splitLinesKeepEnds(string(data))
	if rng.Start.Line < 0 || rng.End.Line >= len(lines) || rng.Start.Line > rng.End.Line {
		return "", nil, fmt.Errorf("extraction range out of bounds")
	}

	body := strings.Join(lines[rng.Start.Line:rng.End.Line+1], "")

	var declBuf bytes.Buffer
	if err := tmpl.Execute(&declBuf, extractionTemplateData{Name: newName, Body: body}); err != nil {
		return "", nil, fmt.Errorf("render extraction template: %w", err)
	}

	lastLine := len(lines) - 1
	endOfFile := Position{Line: lastLine, Character: len(utf16.Encode([]rune(lines[lastLine])))}
	edit := &WorkspaceEdit{
		Changes: map[string][]TextEdit{
			pathToURI(filePath): {
				{Range: rng, NewText: fmt.Sprintf(callFmt, newName)},
				{Range: Range{Start: endOfFile, End: endOfFile}, NewText: declBuf.String()},
			},
		},
	}

	original, edited, err := computeEditedContent(filePath, edit.Changes[pathToURI(filePath)])
	if err != nil {
		return "", nil, fmt.Errorf("simulate extraction: %w", err)
	}
	preview, err := diffFileContents(filePath, original, edited)
	if err != nil {
		return "", nil, fmt.Errorf("build diff: %w", err)
	}
	return preview, edit, nil
}

// diffFileContents builds a unified diff hunk covering the full before/after
// content of one file, in the style git and editors expect for a rename or
// code-action preview: names "a/"+path and "b/"+path, a single hunk
// spanning the whole file.
func diffFileContents(path string, original, edited []byte) (string, error) {
	if bytes.Equal(original, edited) {
		return "", nil
	}

	origLines := splitLinesKeepEnds(string(original))
	editedLines := splitLinesKeepEnds(string(edited))

	var body bytes.Buffer
	for _, line := range origLines {
		body.WriteString("-")
		body.WriteString(ensureNewline(line))
	}
	for _, line := range editedLines {
		body.WriteString("+")
		body.WriteString(ensureNewline(line))
	}

	fileDiff := &diff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Hunks: []*diff.Hunk{
			{
				OrigStartLine: 1,
				OrigLines:     int32(len(origLines)),
				NewStartLine:  1,
				NewLines:      int32(len(editedLines)),
				Body:          body.Bytes(),
			},
		},
	}

	rendered, err := diff.PrintFileDiff(fileDiff)
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	return string(rendered), nil
}

func ensureNewline(line string) string {
	if strings.HasSuffix(line, "\n") {
		return line
	}
	return line + "\n"
}
