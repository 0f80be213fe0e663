// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cairnhealth/cairn/services/llm"
	"github.com/cairnhealth/cairn/services/orchestrator/query"
	"github.com/cairnhealth/cairn/services/orchestrator/series"
)

// QueryToolName is the wire name of the data query tool.
const QueryToolName = "query_observations"

var queryToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"sql": {
			"type": "string",
			"description": "A single read-only SELECT against the observations table (series, unit, value, recorded_at, ref_low, ref_high)."
		}
	},
	"required": ["sql"]
}`)

// =============================================================================
// Struct Definition
// =============================================================================

// QueryTool runs validated read-only SQL and returns sanitized rows to the
// LLM as JSON. It emits no display events; rendering is a separate decision
// the LLM makes with the plot and table tools.
type QueryTool struct {
	executor  query.Executor
	validator query.Validator
}

// NewQueryTool creates a query tool over the given executor and validator.
func NewQueryTool(executor query.Executor, validator query.Validator) *QueryTool {
	return &QueryTool{executor: executor, validator: validator}
}

// Name implements the Handler interface.
func (t *QueryTool) Name() string { return QueryToolName }

// Definition implements the Handler interface.
func (t *QueryTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        QueryToolName,
		Description: "Query the user's health observations with read-only SQL.",
		Parameters:  queryToolSchema,
	}
}

// Execute implements the Handler interface.
func (t *QueryTool) Execute(ctx context.Context, inv Invocation) Outcome {
	var params struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal(inv.Params, &params); err != nil {
		return failedOutcome(fmt.Sprintf("malformed parameters: %v", err))
	}
	if params.SQL == "" {
		return failedOutcome("missing required parameter: sql")
	}

	if err := t.validator.Validate(params.SQL); err != nil {
		slog.Warn("Rejected query", "turn_id", inv.TurnID, "error", err)
		return failedOutcome(err.Error())
	}

	raw, err := t.executor.Execute(ctx, params.SQL)
	if err != nil {
		slog.Error("Query execution failed", "turn_id", inv.TurnID, "error", err)
		return failedOutcome(fmt.Sprintf("query failed: %v", err))
	}

	rows := series.Sanitize(raw)
	payload, err := json.Marshal(map[string]any{
		"rows":      rows,
		"row_count": len(rows),
		"dropped":   len(raw) - len(rows),
	})
	if err != nil {
		return failedOutcome(fmt.Sprintf("failed to encode result: %v", err))
	}
	return Outcome{Result: string(payload)}
}

var _ Handler = (*QueryTool)(nil)
