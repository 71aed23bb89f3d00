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

import "github.com/aleutian-tools/lsppool/internal/lsp"

// attemptLog accumulates one StrategyFailure per fallback strategy tried
// for a single operation, so a caller that exhausts every strategy gets a
// complete picture of what was tried and why each one declined.
type attemptLog struct {
	operation string
	attempts  []lsp.StrategyFailure
}

func newAttemptLog(operation string) *attemptLog {
	return &attemptLog{operation: operation}
}

func (a *attemptLog) record(strategy string, err error) {
	a.attempts = append(a.attempts, lsp.StrategyFailure{Strategy: strategy, Err: err})
}

// skip records that a strategy did not apply at all (e.g. wrong language,
// binary not on PATH) rather than that it ran and failed.
func (a *attemptLog) skip(strategy string) {
	a.attempts = append(a.attempts, lsp.StrategyFailure{Strategy: strategy})
}

func (a *attemptLog) unavailable() *lsp.UnavailableError {
	return &lsp.UnavailableError{Operation: a.operation, Strategies: a.attempts}
}
