// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools defines the tool registry and the built-in tools the LLM
// can invoke during a turn: a read-only data query plus the plot and table
// display tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cairnhealth/cairn/services/llm"
	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var toolTracer = otel.Tracer("cairn.tools")

// =============================================================================
// Invocation Types
// =============================================================================

// Invocation is one tool call to dispatch, already correlated to a turn.
type Invocation struct {
	ID     string
	TurnID string
	Name   string
	Params json.RawMessage
}

// Outcome is the result of one tool execution.
//
// Events are the display events the tool produced; the turn owner relays
// them onto the session stream. Result is the JSON payload handed back to
// the LLM as the tool message. Failed marks tool-level errors, which never
// abort the turn: the LLM sees the failure and decides what to do next.
type Outcome struct {
	Events []datatypes.StreamEvent
	Result string
	Failed bool
}

// failedOutcome builds an Outcome reporting a tool-level error to the LLM.
func failedOutcome(msg string) Outcome {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return Outcome{Result: string(payload), Failed: true}
}

// =============================================================================
// Interface Definition
// =============================================================================

// Handler implements one named tool.
type Handler interface {
	// Name returns the tool's wire name.
	Name() string

	// Definition returns the schema advertised to the LLM.
	Definition() llm.ToolDefinition

	// Execute runs the tool. Tool-level failures are reported through the
	// Outcome, not the error; a non-nil error means the dispatcher itself
	// should treat the invocation as failed.
	Execute(ctx context.Context, inv Invocation) Outcome
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps tool names to handlers and dispatches invocations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous handler with that name.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
	slog.Info("Registered tool", "tool", h.Name())
}

// Definitions returns the schemas of all registered tools.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.handlers))
	for _, h := range r.handlers {
		defs = append(defs, h.Definition())
	}
	return defs
}

// Dispatch routes one invocation to its handler.
//
// An unknown tool name produces a failed Outcome rather than an error: the
// LLM asked for something that does not exist, and it should be told so in
// its own channel.
func (r *Registry) Dispatch(ctx context.Context, inv Invocation) Outcome {
	ctx, span := toolTracer.Start(ctx, "Registry.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", inv.Name),
		attribute.String("turn.id", inv.TurnID),
	)

	r.mu.RLock()
	h, ok := r.handlers[inv.Name]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("Unknown tool requested", "tool", inv.Name, "turn_id", inv.TurnID)
		return failedOutcome(fmt.Sprintf("unknown tool %q", inv.Name))
	}
	return h.Execute(ctx, inv)
}
