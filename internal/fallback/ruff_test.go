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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuffFallback_Defaults(t *testing.T) {
	r := NewRuffFallback()
	assert.Equal(t, "ruff", r.RuffPath)
	assert.Equal(t, 15*time.Second, r.Timeout)
}

func TestRuffFallback_binaryAndTimeout_FallBackWhenZero(t *testing.T) {
	r := &RuffFallback{}
	assert.Equal(t, "ruff", r.binary())
	assert.Equal(t, 15*time.Second, r.timeout())
}

func TestRuffFallback_IsAvailable_MissingBinaryIsFalse(t *testing.T) {
	r := &RuffFallback{RuffPath: "definitely-not-a-real-ruff-binary-xyz"}
	assert.False(t, r.IsAvailable())
}

func TestRuffFallback_Diagnostics_MissingBinaryErrors(t *testing.T) {
	r := &RuffFallback{RuffPath: "definitely-not-a-real-ruff-binary-xyz", Timeout: time.Second}

	_, err := r.Diagnostics(context.Background(), "/tmp/does-not-matter.py")
	require.Error(t, err)
}

func TestRuffFallback_Fix_MissingBinaryErrors(t *testing.T) {
	r := &RuffFallback{RuffPath: "definitely-not-a-real-ruff-binary-xyz", Timeout: time.Second}

	_, err := r.Fix(context.Background(), "/tmp/does-not-matter.py")
	require.Error(t, err)
}
