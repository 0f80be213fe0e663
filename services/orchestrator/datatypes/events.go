// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the event stream types. Every event written to a
// session's event channel is a StreamEvent; the Type field is the
// discriminant of the tagged union and decides which payload fields are
// meaningful.
package datatypes

import (
	"encoding/json"
)

// =============================================================================
// Event Kinds
// =============================================================================

// EventType identifies the kind of a StreamEvent.
//
// All kinds except EventStatus are turn-scoped: they carry the turn id of
// the turn that produced them and are never delivered after that turn's
// turn-end event. EventStatus is session-global and never carries a turn id.
type EventType string

const (
	// EventTurnStart opens a turn. Carries TurnId only.
	EventTurnStart EventType = "turn-start"

	// EventText carries assistant-visible text produced by an LLM step.
	EventText EventType = "text"

	// EventToolStart announces a tool invocation. Carries Tool and Params.
	EventToolStart EventType = "tool-start"

	// EventToolComplete closes a tool invocation. Carries Tool, DurationMs
	// and, for failed invocations, Error.
	EventToolComplete EventType = "tool-complete"

	// EventPlotResult carries sanitized rows for a time-series plot.
	EventPlotResult EventType = "plot-result"

	// EventThumbnailUpdate carries a freshly derived thumbnail. ResultId is
	// minted per emission; thumbnails are never replaced across sessions.
	EventThumbnailUpdate EventType = "thumbnail-update"

	// EventTableResult carries sanitized rows for a tabular rendering.
	EventTableResult EventType = "table-result"

	// EventTurnEnd finalizes a turn. Exactly one per started turn, or zero
	// if the sink closed before it could be written.
	EventTurnEnd EventType = "turn-end"

	// EventError reports a turn failure to the client. Emitted at most once
	// per turn, always before the matching turn-end.
	EventError EventType = "error"

	// EventStatus is a transport-level indicator (session created, keep
	// alive hints). Session-global; never carries a turn id.
	EventStatus EventType = "status"
)

// TurnScoped reports whether events of this type belong to a turn.
//
// Turn-scoped events are subject to the lifecycle guard: they are dropped,
// not delivered, once their turn has been finalized.
func (t EventType) TurnScoped() bool {
	return t != EventStatus
}

// =============================================================================
// Stream Event
// =============================================================================

// StreamEvent is a single event on a session's ordered event channel.
//
// # Description
//
// StreamEvent is a tagged union over every event kind the orchestrator can
// emit. Id, CreatedAt, Hash and PrevHash are populated by the event writer
// at delivery time; producers only fill Type, TurnId and the payload fields
// for their kind.
//
// The Hash/PrevHash pair forms a per-connection hash chain so a client can
// verify it observed the complete, ordered stream.
//
// # Fields
//
//   - Id: UUID v4 assigned by the writer.
//   - Type: event kind discriminant.
//   - TurnId: owning turn for turn-scoped kinds, empty for status events.
//   - CreatedAt: Unix milliseconds UTC, assigned by the writer.
//   - Hash/PrevHash: delivery-time hash chain.
//   - Content: text payload (text events).
//   - Message: human-readable detail (status and error events).
//   - Code: machine-readable error code (error events).
//   - Tool/Params/DurationMs/Error: tool lifecycle payload.
//   - Title/Rows/Replace: display payload (plot-result, table-result).
//   - ResultId/Thumbnail: thumbnail payload.
//   - SessionId: session identifier (status events).
type StreamEvent struct {
	Id        string    `json:"id,omitempty"`
	Type      EventType `json:"type"`
	TurnId    string    `json:"turn_id,omitempty"`
	CreatedAt int64     `json:"created_at,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	Tool       string          `json:"tool,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Error      string          `json:"error,omitempty"`

	Title   string      `json:"title,omitempty"`
	Rows    []ResultRow `json:"rows,omitempty"`
	Replace bool        `json:"replace,omitempty"`

	ResultId  string     `json:"result_id,omitempty"`
	Thumbnail *Thumbnail `json:"thumbnail,omitempty"`

	SessionId string `json:"session_id,omitempty"`
}
