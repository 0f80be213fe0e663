// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cairnhealth/cairn/services/llm"
	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/cairnhealth/cairn/services/orchestrator/observability"
	"github.com/cairnhealth/cairn/services/orchestrator/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var turnTracer = otel.Tracer("cairn.session.turn")

// DefaultMaxIterations bounds LLM invocations per turn when no explicit
// ceiling is configured.
const DefaultMaxIterations = 8

// =============================================================================
// Struct Definition
// =============================================================================

// Runner drives one turn at a time through the reason/act loop.
//
// # Description
//
// RunTurn is the single owner of turn lifecycle and error reporting: it
// begins the turn, loops LLM step -> sequential tool execution until the
// LLM stops requesting tools, emits at most one error event on failure, and
// always ends the turn. Tools never emit error events and never abort the
// turn; their failures travel back to the LLM in the tool result.
type Runner struct {
	llmClient     llm.Client
	registry      *tools.Registry
	maxIterations int
}

// NewRunner creates a turn runner.
func NewRunner(llmClient llm.Client, registry *tools.Registry, maxIterations int) *Runner {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Runner{
		llmClient:     llmClient,
		registry:      registry,
		maxIterations: maxIterations,
	}
}

// =============================================================================
// Methods
// =============================================================================

// RunTurn executes one full turn for the given user input.
//
// # Description
//
// Blocks until the turn completes. A second call while a turn is in flight
// fails fast with ErrAlreadyProcessing and touches nothing; the in-flight
// turn is unaffected. All other errors are reported to the client as a
// single error event before the turn-end, and returned to the caller for
// logging.
func (r *Runner) RunTurn(ctx context.Context, s *Session, userInput string) error {
	ctx, span := turnTracer.Start(ctx, "Runner.RunTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	turnID, err := s.BeginTurn(userInput)
	if err != nil {
		// Nothing was started, so nothing to emit or end.
		return err
	}
	span.SetAttributes(attribute.String("turn.id", turnID))
	startedAt := time.Now()

	err = r.runLoop(ctx, s)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		code, msg := classifyTurnError(err)
		s.Emit(datatypes.StreamEvent{
			Type:    datatypes.EventError,
			Code:    code,
			Message: msg,
		})
		slog.Error("Turn failed", "session_id", s.ID, "turn_id", turnID,
			"code", code, "error", err)
	}

	s.EndTurn()

	if m := observability.DefaultMetrics; m != nil {
		m.TurnsTotal.WithLabelValues(outcome).Inc()
		m.TurnDurationSeconds.Observe(time.Since(startedAt).Seconds())
	}
	return err
}

// runLoop is the reason/act loop: LLM step, then the step's tool calls in
// order, until a step proposes no tools.
func (r *Runner) runLoop(ctx context.Context, s *Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Invalidated() {
			return ErrSessionInvalidated
		}
		if s.NextIteration() > r.maxIterations {
			return ErrIterationLimit
		}

		step, err := r.llmClient.ChatStep(ctx, s.History(), r.registry.Definitions(),
			llm.GenerationParams{})
		if err != nil {
			return err
		}

		if step.Text != "" {
			s.Emit(datatypes.StreamEvent{
				Type:    datatypes.EventText,
				Content: step.Text,
			})
		}
		s.AppendMessage(datatypes.Message{
			Role:      "assistant",
			Content:   step.Text,
			ToolCalls: step.ToolCalls,
		})

		if len(step.ToolCalls) == 0 {
			return nil
		}

		// Tool calls run strictly in order; a failed call does not stop
		// the ones after it.
		for _, call := range step.ToolCalls {
			r.runTool(ctx, s, call)
		}
	}
}

// runTool executes one tool call and relays its events and result.
func (r *Runner) runTool(ctx context.Context, s *Session, call datatypes.ToolCall) {
	s.Emit(datatypes.StreamEvent{
		Type:   datatypes.EventToolStart,
		Tool:   call.Name,
		Params: call.Arguments,
	})

	startedAt := time.Now()
	outcome := r.registry.Dispatch(ctx, tools.Invocation{
		ID:     call.ID,
		TurnID: s.CurrentTurnID(),
		Name:   call.Name,
		Params: call.Arguments,
	})
	elapsed := time.Since(startedAt)

	for _, ev := range outcome.Events {
		s.Emit(ev)
	}

	complete := datatypes.StreamEvent{
		Type:       datatypes.EventToolComplete,
		Tool:       call.Name,
		DurationMs: elapsed.Milliseconds(),
	}
	status := "ok"
	if outcome.Failed {
		status = "failed"
		complete.Error = outcome.Result
	}
	s.Emit(complete)

	s.AppendMessage(datatypes.Message{
		Role:       "tool",
		Content:    outcome.Result,
		ToolCallID: call.ID,
		Name:       call.Name,
	})

	if m := observability.DefaultMetrics; m != nil {
		m.ToolInvocationsTotal.WithLabelValues(call.Name, status).Inc()
		m.ToolDurationSeconds.WithLabelValues(call.Name).Observe(elapsed.Seconds())
	}
}

// classifyTurnError maps a turn failure to the wire error code and a
// client-safe message. Raw error text never reaches the client; it may
// carry backend URLs or SQL fragments.
func classifyTurnError(err error) (code string, msg string) {
	switch {
	case errors.Is(err, ErrIterationLimit):
		return "iteration_limit", "The assistant took too many steps for this request."
	case errors.Is(err, ErrSessionInvalidated):
		return "session_invalidated", "This session no longer exists."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", "The request was canceled."
	default:
		return "llm_failure", "The assistant backend failed. Please try again."
	}
}
