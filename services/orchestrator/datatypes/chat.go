// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the conversational message model and the request type
// for starting a turn against a session.
package datatypes

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single user message.
	// Byte length, not rune count, to bound memory under hostile input.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryMessages is the ceiling on retained messages per session.
	// Older messages are truncated from the front when exceeded.
	MaxHistoryMessages = 200
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// turnValidate is the validator instance for turn request types.
var turnValidate *validator.Validate

func init() {
	turnValidate = validator.New()
	_ = turnValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces the MaxMessageContentBytes limit on a string
// field. Checks byte length so multi-byte content cannot evade the bound.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Conversation Messages
// =============================================================================

// Message is one role-tagged entry in a session's conversation history.
//
// # Description
//
// The orchestrator treats message content as opaque except for role and
// length. Assistant messages may propose tool calls; tool messages carry
// the result of exactly one invocation, correlated by ToolCallID.
//
// # Fields
//
//   - Role: "user", "assistant", "system" or "tool".
//   - Content: message text, or the JSON tool result for tool messages.
//   - ToolCalls: tool invocations proposed by an assistant message.
//   - ToolCallID: correlation token linking a tool message to its call.
//   - Name: tool name, set on tool messages.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is one named tool invocation proposed by the LLM.
//
// The ID is the correlation token supplied by the LLM runtime; it is echoed
// back on the tool-result message so the model can match results to calls.
// A ToolCall is never shared across turns.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// =============================================================================
// Turn Request
// =============================================================================

// TurnRequest is the body of a request that starts one turn.
//
// # Description
//
// A turn spans one user message through the matching turn-end event. The
// session id is optional: when absent, the orchestrator creates a new
// session and reports its id in the first status event.
//
// # Validation
//
//   - SessionID: optional, must be a UUID v4 when present.
//   - RequestID: optional client correlation id, UUID v4 when present.
//   - Message: required, at most 32KB.
type TurnRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,uuid4"`
	RequestID string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
	Message   string `json:"message" validate:"required,maxbytes"`
}

// Validate validates the TurnRequest fields.
func (r *TurnRequest) Validate() error {
	return turnValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp when the client omitted
// them, so every turn has identifiers for tracing and audit.
func (r *TurnRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}
