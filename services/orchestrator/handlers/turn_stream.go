// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the HTTP and WebSocket surfaces of the
// orchestrator: turn streaming, session administration, and the event sink
// implementations behind them.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/cairnhealth/cairn/services/orchestrator/observability"
	"github.com/cairnhealth/cairn/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var handlerTracer = otel.Tracer("cairn.handlers")

// keepAliveInterval paces SSE comment pings during long tool or LLM waits.
const keepAliveInterval = 15 * time.Second

// =============================================================================
// Struct Definition
// =============================================================================

// TurnHandler serves the turn endpoints against a session store and runner.
type TurnHandler struct {
	store  *session.Store
	runner *session.Runner
}

// NewTurnHandler creates the handler for turn streaming endpoints.
func NewTurnHandler(store *session.Store, runner *session.Runner) *TurnHandler {
	return &TurnHandler{store: store, runner: runner}
}

// =============================================================================
// Methods
// =============================================================================

// StreamTurn handles POST /v1/turns/stream.
//
// # Description
//
// Runs one turn and streams its events back over SSE on the same response.
// The busy check runs before any SSE bytes are flushed, so a rejected
// request gets a clean 409 JSON body instead of a half-opened stream. A
// client disconnect mid-turn detaches the sink; the turn itself runs to
// completion so tool side effects are never half-applied.
//
// # Outputs
//
//   - 200 with an SSE body on success and on turn-level failures (the error
//     travels in the stream).
//   - 400 on malformed or invalid request bodies.
//   - 409 when the session is already processing a turn.
//   - 500 when the connection cannot stream.
func (h *TurnHandler) StreamTurn(c *gin.Context) {
	ctx, span := handlerTracer.Start(c.Request.Context(), "TurnHandler.StreamTurn")
	defer span.End()

	var req datatypes.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Rejected turn request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.EnsureDefaults()
	span.SetAttributes(attribute.String("request.id", req.RequestID))

	s, created := h.store.GetOrCreate(req.SessionID)
	span.SetAttributes(attribute.String("session.id", s.ID))

	// Fail fast while the response is still pristine; after the first SSE
	// byte a status code is no longer expressible.
	if s.CurrentTurnID() != "" {
		c.JSON(http.StatusConflict, gin.H{
			"error":      "session is already processing a turn",
			"session_id": s.ID,
		})
		return
	}

	// Check the flusher before any headers go out, so a non-streaming
	// connection still gets a clean JSON error response.
	sink, err := NewEventStreamWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	SetSSEHeaders(c.Writer)

	s.AttachSink(sink)
	defer s.DetachSink(sink)

	if m := observability.DefaultMetrics; m != nil {
		m.ActiveStreams.Inc()
		defer m.ActiveStreams.Dec()
	}

	if created {
		// The client needs the id before any turn event to resume later.
		s.Emit(datatypes.StreamEvent{
			Type:      datatypes.EventStatus,
			Message:   "session-created",
			SessionId: s.ID,
		})
	}

	// Detach on client disconnect; the turn keeps running.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.Request.Context().Done():
			slog.Info("Client disconnected mid-turn", "session_id", s.ID)
			s.DetachSink(sink)
		case <-done:
		}
	}()
	go keepAlive(sink, done)

	// The turn must not die with the request context: a disconnect detaches
	// the sink but in-flight work still completes. WithoutCancel keeps the
	// trace span and other values.
	turnCtx := context.WithoutCancel(ctx)

	if err := h.runner.RunTurn(turnCtx, s, req.Message); err != nil {
		if errors.Is(err, session.ErrAlreadyProcessing) {
			// Lost the race between the busy check and BeginTurn. The stream
			// is already open, so the conflict travels as an event.
			s.Emit(datatypes.StreamEvent{
				Type:      datatypes.EventStatus,
				Message:   "busy",
				SessionId: s.ID,
			})
		}
		// All other errors were already reported on the stream by the runner.
	}
}

// keepAlive pings the SSE connection until done closes.
func keepAlive(sink session.EventSink, done <-chan struct{}) {
	w, ok := sink.(*eventStreamWriter)
	if !ok {
		return
	}
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.WriteKeepAlive(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
