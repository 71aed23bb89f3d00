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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf16"
)

// ApplyWorkspaceEdit writes every file touched by edit to disk.
//
// Description:
//
//	Per LSP, TextEdit ranges use UTF-16 code unit offsets, not bytes or
//	runes, so splicing is done on a []uint16 view of each line. Edits
//	within a file are applied from the last line to the first so that
//	earlier offsets are never invalidated by a preceding edit; this is why
//	the standard library's utf16 package, not a string-manipulation
//	library, is the right tool here: no example in this pool's dependency
//	set encodes UTF-16 directly. Each file is written via a temp file plus
//	rename so a crash mid-apply cannot leave a half-written file behind.
//
// Inputs:
//
//	edit - The workspace edit to apply, as returned by Rename or
//	       ResolveCodeAction
//
// Outputs:
//
//	error - ErrOverlappingEdits if two edits in the same file overlap,
//	        or a non-nil error on the first I/O failure
func (o *Operations) ApplyWorkspaceEdit(edit *WorkspaceEdit) error {
	if edit == nil {
		return nil
	}

	perFile := collectEditsByPath(edit)
	for path, edits := range perFile {
		if err := applyFileEdits(path, edits); err != nil {
			return fmt.Errorf("apply edits to %s: %w", path, err)
		}
	}
	return nil
}

// collectEditsByPath flattens both shapes a WorkspaceEdit can carry
// (Changes and DocumentChanges) into one map keyed by absolute file path.
func collectEditsByPath(edit *WorkspaceEdit) map[string][]TextEdit {
	perFile := make(map[string][]TextEdit)

	for uri, edits := range edit.Changes {
		path := uriToPath(uri)
		perFile[path] = append(perFile[path], edits...)
	}
	for _, dc := range edit.DocumentChanges {
		path := uriToPath(dc.TextDocument.URI)
		perFile[path] = append(perFile[path], dc.Edits...)
	}
	return perFile
}

// applyFileEdits rewrites one file with all of its edits applied.
func applyFileEdits(path string, edits []TextEdit) error {
	_, out, err := computeEditedContent(path, edits)
	if err != nil {
		return err
	}
	return atomicWriteFile(path, out)
}

// computeEditedContent reads path and returns both its original bytes and
// the bytes that result from applying edits, without writing anything.
// Shared by applyFileEdits and the diff preview path so both see identical
// splicing behavior.
func computeEditedContent(path string, edits []TextEdit) (original, edited []byte, err error) {
	if err := checkOverlaps(edits); err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read: %w", err)
	}

	lines := splitLinesKeepEnds(string(data))
	units := make([][]uint16, len(lines))
	for i, line := range lines {
		units[i] = utf16.Encode([]rune(line))
	}

	// Apply from the last edit to the first (by start position) so that
	// splicing one edit never shifts the coordinates of an edit still
	// to be applied.
	sorted := make([]TextEdit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool {
		return rangeLess(sorted[j].Range, sorted[i].Range)
	})

	for _, e := range sorted {
		if err := spliceEdit(&units, e); err != nil {
			return nil, nil, err
		}
	}

	var out []byte
	for _, u := range units {
		out = append(out, string(utf16.Decode(u))...)
	}

	return data, out, nil
}

// spliceEdit replaces the UTF-16 span [start,end) of e.Range within units
// with e.NewText, merging the affected lines into one.
func spliceEdit(units *[][]uint16, e TextEdit) error {
	lines := *units
	startLine, endLine := e.Range.Start.Line, e.Range.End.Line
	if startLine < 0 || endLine >= len(lines) || startLine > endLine {
		return fmt.Errorf("%w: edit range out of bounds", ErrInvalidPosition)
	}

	startChar := clampUnits(lines[startLine], e.Range.Start.Character)
	endChar := clampUnits(lines[endLine], e.Range.End.Character)

	var merged []uint16
	merged = append(merged, lines[startLine][:startChar]...)
	merged = append(merged, utf16.Encode([]rune(e.NewText))...)
	merged = append(merged, lines[endLine][endChar:]...)

	newLines := make([][]uint16, 0, len(lines)-(endLine-startLine))
	newLines = append(newLines, lines[:startLine]...)
	newLines = append(newLines, merged)
	newLines = append(newLines, lines[endLine+1:]...)
	*units = newLines
	return nil
}

func clampUnits(line []uint16, char int) int {
	if char < 0 {
		return 0
	}
	if char > len(line) {
		return len(line)
	}
	return char
}

// checkOverlaps reports ErrOverlappingEdits if any two edits in the same
// file's edit list touch overlapping ranges; applying both would produce
// an ambiguous result.
func checkOverlaps(edits []TextEdit) error {
	sorted := make([]TextEdit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool {
		return rangeLess(sorted[i].Range, sorted[j].Range)
	})

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1].Range, sorted[i].Range
		if positionLess(cur.Start, prev.End) {
			return fmt.Errorf("%w: %v and %v", ErrOverlappingEdits, prev, cur)
		}
	}
	return nil
}

func rangeLess(a, b Range) bool {
	return positionLess(a.Start, b.Start)
}

func positionLess(a, b Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// splitLinesKeepEnds splits text into lines, keeping the trailing newline
// (if any) attached to each line so the rejoined output round-trips
// byte-for-byte when no edit touches a given line.
func splitLinesKeepEnds(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	return lines
}

// atomicWriteFile writes data to path by first writing to a sibling temp
// file and renaming it over path, so a crash or concurrent reader never
// observes a partially written file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lsppool-edit-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	info, err := os.Stat(path)
	if err == nil {
		os.Chmod(tmpName, info.Mode())
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
