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
	"log/slog"

	"github.com/cairnhealth/cairn/services/llm"
	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/cairnhealth/cairn/services/orchestrator/series"
	"github.com/google/uuid"
)

// Wire names of the display tools.
const (
	PlotToolName  = "render_plot"
	TableToolName = "render_table"
)

// displayParams is the shared parameter shape of both display tools.
//
// Rows is kept raw so a malformed payload degrades per-row instead of
// failing the whole call; sanitization drops what it cannot repair.
type displayParams struct {
	Title   string                   `json:"title"`
	Rows    json.RawMessage          `json:"rows"`
	Replace bool                     `json:"replace"`
	Hint    *datatypes.ThumbnailHint `json:"hint"`
}

var displayToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string", "description": "Display title for the result."},
		"rows": {
			"type": "array",
			"description": "Observation rows to render.",
			"items": {
				"type": "object",
				"properties": {
					"timestamp": {"description": "ISO-8601 string or epoch number."},
					"value": {"type": "number"},
					"series": {"type": "string"},
					"unit": {"type": "string"},
					"ref_low": {"type": "number"},
					"ref_high": {"type": "number"}
				}
			}
		},
		"replace": {"type": "boolean", "description": "Replace the previous result of the same kind instead of appending."},
		"hint": {
			"type": "object",
			"description": "Optional thumbnail guidance.",
			"properties": {
				"focus_series": {"type": "string"},
				"status_hint": {"type": "string", "enum": ["unknown", "normal", "high", "low"]}
			}
		}
	},
	"required": ["rows"]
}`)

// decodeDisplayParams parses display tool parameters leniently.
//
// The sanitized rows are always usable, possibly empty. The bool reports
// whether the payload was well-formed; a malformed payload still yields an
// empty row set so the caller can emit a truthful empty display.
func decodeDisplayParams(params json.RawMessage) (displayParams, []datatypes.ResultRow, bool) {
	var p displayParams
	if err := json.Unmarshal(params, &p); err != nil {
		slog.Warn("Malformed display tool parameters", "error", err)
		return displayParams{}, nil, false
	}
	var raw []datatypes.RawRow
	if len(p.Rows) > 0 {
		if err := json.Unmarshal(p.Rows, &raw); err != nil {
			slog.Warn("Display tool rows are not an array", "error", err)
			return p, nil, false
		}
	}
	return p, series.Sanitize(raw), true
}

// =============================================================================
// Plot Tool
// =============================================================================

// PlotTool renders a time-series plot event plus a thumbnail-update event.
//
// # Description
//
// Each invocation emits exactly two events: a plot-result carrying the
// sanitized rows, and a thumbnail-update carrying a fresh result id and the
// derived thumbnail. The thumbnail derivation is total, so even an empty or
// malformed payload produces a coherent pair; malformed payloads are
// additionally reported to the LLM as a tool failure.
type PlotTool struct{}

// NewPlotTool creates the plot display tool.
func NewPlotTool() *PlotTool { return &PlotTool{} }

// Name implements the Handler interface.
func (t *PlotTool) Name() string { return PlotToolName }

// Definition implements the Handler interface.
func (t *PlotTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        PlotToolName,
		Description: "Render observation rows as a time-series plot with a dashboard thumbnail.",
		Parameters:  displayToolSchema,
	}
}

// Execute implements the Handler interface.
func (t *PlotTool) Execute(_ context.Context, inv Invocation) Outcome {
	p, rows, wellFormed := decodeDisplayParams(inv.Params)

	thumb := series.Derive(rows, p.Hint, p.Title)
	events := []datatypes.StreamEvent{
		{
			Type:    datatypes.EventPlotResult,
			Title:   p.Title,
			Rows:    rows,
			Replace: p.Replace,
		},
		{
			Type:      datatypes.EventThumbnailUpdate,
			Title:     p.Title,
			ResultId:  uuid.NewString(),
			Thumbnail: &thumb,
		},
	}

	if !wellFormed {
		out := failedOutcome("rows must be an array of observation objects")
		out.Events = events
		return out
	}
	payload, _ := json.Marshal(map[string]any{"rendered_rows": len(rows)})
	return Outcome{Events: events, Result: string(payload)}
}

var _ Handler = (*PlotTool)(nil)

// =============================================================================
// Table Tool
// =============================================================================

// TableTool renders sanitized rows as a table-result event. No thumbnail:
// tables do not participate in the dashboard.
type TableTool struct{}

// NewTableTool creates the table display tool.
func NewTableTool() *TableTool { return &TableTool{} }

// Name implements the Handler interface.
func (t *TableTool) Name() string { return TableToolName }

// Definition implements the Handler interface.
func (t *TableTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        TableToolName,
		Description: "Render observation rows as a table.",
		Parameters:  displayToolSchema,
	}
}

// Execute implements the Handler interface.
func (t *TableTool) Execute(_ context.Context, inv Invocation) Outcome {
	p, rows, wellFormed := decodeDisplayParams(inv.Params)

	events := []datatypes.StreamEvent{
		{
			Type:    datatypes.EventTableResult,
			Title:   p.Title,
			Rows:    rows,
			Replace: p.Replace,
		},
	}

	if !wellFormed {
		out := failedOutcome("rows must be an array of observation objects")
		out.Events = events
		return out
	}
	payload, _ := json.Marshal(map[string]any{"rendered_rows": len(rows)})
	return Outcome{Events: events, Result: string(payload)}
}

var _ Handler = (*TableTool)(nil)
