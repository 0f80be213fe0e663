// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/cairnhealth/cairn/services/orchestrator/observability"
	"github.com/cairnhealth/cairn/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsTurnRequest is one inbound turn message on a WebSocket connection.
type wsTurnRequest struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// =============================================================================
// WebSocket Event Sink
// =============================================================================

// wsSink adapts a WebSocket connection to the session.EventSink interface.
// Events travel as JSON frames, one event per frame, thumbnail-ready for
// dashboard clients.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteEvent implements the session.EventSink interface.
func (w *wsSink) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(event)
}

var _ session.EventSink = (*wsSink)(nil)

// =============================================================================
// Handler
// =============================================================================

// HandleTurnWebSocket serves GET /v1/turns/ws.
//
// # Description
//
// Each connection owns one session for its lifetime: the handler creates
// (or resumes, via the session_id query parameter) a session, announces its
// id in a status event, then runs one turn per inbound message. Turns on a
// single connection are strictly sequential; a message arriving mid-turn
// gets a busy status event instead of starting a second turn. The
// connection dropping detaches the sink without interrupting an in-flight
// turn.
func HandleTurnWebSocket(store *session.Store, runner *session.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		s, created := store.GetOrCreate(c.Query("session_id"))
		sink := &wsSink{conn: ws}
		s.AttachSink(sink)
		defer s.DetachSink(sink)
		slog.Info("Websocket client connected", "session_id", s.ID, "created", created)

		if m := observability.DefaultMetrics; m != nil {
			m.ActiveStreams.Inc()
			defer m.ActiveStreams.Dec()
		}

		announce := "session-created"
		if !created {
			announce = "session-resumed"
		}
		s.Emit(datatypes.StreamEvent{
			Type:      datatypes.EventStatus,
			Message:   announce,
			SessionId: s.ID,
		})

		for {
			var req wsTurnRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "session_id", s.ID, "error", err.Error())
				return
			}
			if req.Message == "" || len(req.Message) > datatypes.MaxMessageContentBytes {
				s.Emit(datatypes.StreamEvent{
					Type:      datatypes.EventStatus,
					Message:   "invalid-message",
					SessionId: s.ID,
				})
				continue
			}

			// Outlive the HTTP request context; the read loop is the only
			// disconnect signal we act on.
			turnCtx := context.WithoutCancel(c.Request.Context())
			if err := runner.RunTurn(turnCtx, s, req.Message); err != nil {
				if errors.Is(err, session.ErrAlreadyProcessing) {
					s.Emit(datatypes.StreamEvent{
						Type:      datatypes.EventStatus,
						Message:   "busy",
						SessionId: s.ID,
					})
				}
			}
		}
	}
}
