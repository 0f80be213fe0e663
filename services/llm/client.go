// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
)

// GenerationParams tunes a single LLM invocation.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ToolDefinition describes one callable tool to the LLM runtime.
//
// Parameters is a JSON Schema object for the tool's argument payload.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StepResult is the outcome of one LLM step within a turn.
//
// Text is the assistant-visible content, possibly empty when the model
// only proposes tool calls. ToolCalls carries at most one outstanding
// batch of invocations; an empty batch terminates the tool loop.
type StepResult struct {
	Text      string               `json:"text"`
	ToolCalls []datatypes.ToolCall `json:"tool_calls"`
}

// Client defines the standard interface for any LLM backend.
type Client interface {
	// ChatStep runs one chat completion over the full conversation history
	// with the given tool definitions available to the model.
	ChatStep(ctx context.Context, messages []datatypes.Message, tools []ToolDefinition, params GenerationParams) (*StepResult, error)
}
