// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	_ "modernc.org/sqlite"
)

// MaxResultRows caps the rows returned per query so a runaway SELECT cannot
// exhaust memory or flood the event stream.
const MaxResultRows = 10_000

// =============================================================================
// Struct Definition
// =============================================================================

// SQLiteExecutor runs queries against a read-only SQLite observation store.
//
// # Description
//
// The store's schema centers on the observations table:
//
//	observations(series TEXT, unit TEXT, value REAL,
//	             recorded_at TEXT, ref_low REAL, ref_high REAL)
//
// Result columns are matched to row fields by name; unrecognized columns are
// ignored so exploratory projections still work. Rows come back raw: the
// caller is responsible for sanitization.
type SQLiteExecutor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLiteExecutor opens the database at path in read-only mode.
func NewSQLiteExecutor(path string) (*SQLiteExecutor, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open observation store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach observation store: %w", err)
	}
	db.SetMaxOpenConns(4)
	slog.Info("Opened observation store", "path", path)
	return &SQLiteExecutor{db: db, timeout: 10 * time.Second}, nil
}

// Close releases the database handle.
func (e *SQLiteExecutor) Close() error {
	return e.db.Close()
}

// =============================================================================
// Methods
// =============================================================================

// Execute implements the Executor interface.
func (e *SQLiteExecutor) Execute(ctx context.Context, sqlText string) ([]datatypes.RawRow, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out []datatypes.RawRow
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(out) >= MaxResultRows {
			slog.Warn("Query result truncated", "limit", MaxResultRows)
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, rawRowFromColumns(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query iteration failed: %w", err)
	}
	return out, nil
}

// rawRowFromColumns maps one scanned result row onto a RawRow by column
// name.
func rawRowFromColumns(cols []string, values []any) datatypes.RawRow {
	var row datatypes.RawRow
	for i, col := range cols {
		v := values[i]
		switch col {
		case "series":
			if s, ok := asString(v); ok {
				row.Series = s
			}
		case "unit":
			if s, ok := asString(v); ok {
				row.Unit = &s
			}
		case "value":
			row.Value = v
		case "recorded_at", "timestamp":
			row.Timestamp = v
		case "ref_low":
			if f, ok := asFloat(v); ok {
				row.RefLow = &f
			}
		case "ref_high":
			if f, ok := asFloat(v); ok {
				row.RefHigh = &f
			}
		}
	}
	return row
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case int64:
		return float64(f), true
	default:
		return 0, false
	}
}

var _ Executor = (*SQLiteExecutor)(nil)
