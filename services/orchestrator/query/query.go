// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package query executes read-only SQL against the observation store on
// behalf of the query tool.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definitions
// =============================================================================

// Executor runs one read-only query and returns unsanitized rows.
type Executor interface {
	Execute(ctx context.Context, sqlText string) ([]datatypes.RawRow, error)
}

// Validator gates query text before it reaches an Executor.
type Validator interface {
	Validate(sqlText string) error
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrQueryRejected is wrapped by validator failures.
	ErrQueryRejected = errors.New("query rejected")

	// ErrNoExecutor is returned when no backing store is configured.
	ErrNoExecutor = errors.New("no query backend configured")
)

// =============================================================================
// Default Validator
// =============================================================================

// GuardValidator is a conservative allow-list gate: a single SELECT
// statement, no mutation keywords anywhere.
//
// It deliberately rejects some legitimate queries (a string literal
// containing "drop" for example). False rejections are safe; false
// acceptances are not.
type GuardValidator struct{}

var deniedKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create",
	"attach", "detach", "pragma", "vacuum", "reindex", "replace",
}

// Validate implements the Validator interface.
func (GuardValidator) Validate(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrQueryRejected)
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("%w: multiple statements are not allowed", ErrQueryRejected)
	}

	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return fmt.Errorf("%w: only SELECT statements are allowed", ErrQueryRejected)
	}
	for _, kw := range deniedKeywords {
		if containsWord(lower, kw) {
			return fmt.Errorf("%w: keyword %q is not allowed", ErrQueryRejected, kw)
		}
	}
	return nil
}

// containsWord reports whether word appears in s on token boundaries.
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(s[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(s) || !isWordByte(s[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

var _ Validator = GuardValidator{}

// =============================================================================
// Unconfigured Executor
// =============================================================================

// Unconfigured is the fallback Executor used when no database path was
// provided. Every query fails with ErrNoExecutor.
type Unconfigured struct{}

// Execute implements the Executor interface.
func (Unconfigured) Execute(_ context.Context, _ string) ([]datatypes.RawRow, error) {
	return nil, ErrNoExecutor
}

var _ Executor = Unconfigured{}
