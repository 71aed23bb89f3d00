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

import "context"

// FallbackChain is consulted by Operations whenever the primary LSP path
// for an operation is unavailable or fails. Implementations typically try
// a tiered sequence of non-LSP strategies (static analysis, a universal
// tag indexer, plain text search) and return the first one that succeeds,
// aggregating every attempt's failure reason into an *UnavailableError if
// none do. See internal/fallback for the concrete implementation.
type FallbackChain interface {
	Definition(ctx context.Context, filePath string, line, col int) ([]Location, error)
	References(ctx context.Context, filePath string, line, col int, includeDecl bool) ([]Location, error)
	Hover(ctx context.Context, filePath string, line, col int) (*HoverInfo, error)
}
