// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns per-conversation state: the message history, the
// single-flight turn lock, and the attached event sink. All turn lifecycle
// transitions happen under the session mutex so observers can never see a
// locked session without a turn id or a turn id without the lock.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/cairnhealth/cairn/services/orchestrator/observability"
	"github.com/google/uuid"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAlreadyProcessing is returned by BeginTurn while another turn holds
	// the session's single-flight lock.
	ErrAlreadyProcessing = errors.New("session is already processing a turn")

	// ErrIterationLimit is returned when a turn exceeds the per-turn ceiling
	// on LLM invocations.
	ErrIterationLimit = errors.New("turn exceeded the iteration limit")

	// ErrSessionInvalidated is returned when the session was deleted while a
	// turn was in flight.
	ErrSessionInvalidated = errors.New("session has been invalidated")
)

// =============================================================================
// Interface Definition
// =============================================================================

// EventSink receives ordered events for delivery to one client connection.
//
// Implementations must be safe for use from the single turn goroutine plus
// keep-alive writers. A sink that returns an error is considered dead and is
// detached; events produced afterwards are dropped silently.
type EventSink interface {
	WriteEvent(event datatypes.StreamEvent) error
}

// =============================================================================
// Struct Definition
// =============================================================================

// Session is one conversation with its turn state.
//
// # Description
//
// A Session serializes turns: BeginTurn takes the single-flight lock and
// mints the turn id, EndTurn releases both. Between the two, every
// turn-scoped event the turn produces passes through Emit, which applies the
// lifecycle guard (a live turn id must be present) and delivers to the
// attached sink if one is reachable.
//
// The sink is owned by the transport layer, not the turn: a disconnect
// detaches the sink without interrupting the turn, which runs to completion
// against a nil sink.
//
// # Assumptions
//
//   - All fields are guarded by mu; callers never touch them directly.
//   - A session is never re-used after Invalidate.
type Session struct {
	ID string

	mu            sync.Mutex
	history       []datatypes.Message
	currentTurnID string
	locked        bool
	iterations    int
	sink          EventSink
	invalidated   bool

	createdAt    time.Time
	lastActiveAt time.Time
}

// NewSession creates a session with the given id.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		createdAt:    now,
		lastActiveAt: now,
	}
}

// =============================================================================
// Turn Lifecycle
// =============================================================================

// BeginTurn atomically starts a turn for the given user input.
//
// # Description
//
// Under one critical section this takes the single-flight lock, mints the
// turn id, resets the iteration counter, emits the turn-start event and
// appends the user message. Doing all of it under the mutex guarantees no
// interleaving where a second turn observes the lock free but the previous
// turn id still live.
//
// # Outputs
//
//   - string: the minted turn id.
//   - error: ErrAlreadyProcessing if a turn is in flight,
//     ErrSessionInvalidated if the session was deleted.
func (s *Session) BeginTurn(userInput string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invalidated {
		return "", ErrSessionInvalidated
	}
	if s.locked {
		return "", ErrAlreadyProcessing
	}

	s.locked = true
	s.currentTurnID = uuid.NewString()
	s.iterations = 0
	s.lastActiveAt = time.Now()

	s.emitLocked(datatypes.StreamEvent{
		Type:   datatypes.EventTurnStart,
		TurnId: s.currentTurnID,
	})
	s.appendMessageLocked(datatypes.Message{Role: "user", Content: userInput})

	return s.currentTurnID, nil
}

// EndTurn finalizes the current turn.
//
// # Description
//
// Emits the turn-end event when, and only when, both a sink is reachable and
// a turn is still live; then unconditionally clears the turn id and releases
// the lock. The dual guard makes EndTurn idempotent: a second call finds no
// live turn and does nothing. Clearing happens even when the sink is gone so
// a disconnected session never stays locked.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sink != nil && s.currentTurnID != "" {
		s.emitLocked(datatypes.StreamEvent{
			Type:   datatypes.EventTurnEnd,
			TurnId: s.currentTurnID,
		})
	}

	s.currentTurnID = ""
	s.locked = false
	s.lastActiveAt = time.Now()
}

// CurrentTurnID returns the live turn id, or "" outside a turn.
func (s *Session) CurrentTurnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurnID
}

// NextIteration increments and returns the turn's LLM invocation count.
func (s *Session) NextIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	return s.iterations
}

// =============================================================================
// Event Emission
// =============================================================================

// Emit delivers an event to the attached sink.
//
// # Description
//
// Turn-scoped events are stamped with the live turn id and dropped when no
// turn is live; late events from a finished turn can therefore never leak
// into a later turn's stream. Status events bypass the guard. A sink write
// failure detaches the sink so the turn degrades to running silently.
//
// # Outputs
//
//   - bool: true if the event was handed to a sink.
func (s *Session) Emit(event datatypes.StreamEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitLocked(event)
}

// emitLocked is Emit's body; the caller must hold s.mu.
func (s *Session) emitLocked(event datatypes.StreamEvent) bool {
	if event.Type.TurnScoped() {
		if s.currentTurnID == "" {
			slog.Debug("Dropping turn-scoped event outside a live turn",
				"session_id", s.ID, "event_type", event.Type)
			if m := observability.DefaultMetrics; m != nil {
				m.EventsDroppedTotal.WithLabelValues("no_live_turn").Inc()
			}
			return false
		}
		event.TurnId = s.currentTurnID
	}

	if s.sink == nil {
		if m := observability.DefaultMetrics; m != nil {
			m.EventsDroppedTotal.WithLabelValues("no_sink").Inc()
		}
		return false
	}

	if err := s.sink.WriteEvent(event); err != nil {
		slog.Warn("Event sink write failed, detaching",
			"session_id", s.ID, "event_type", event.Type, "error", err)
		s.sink = nil
		if m := observability.DefaultMetrics; m != nil {
			m.EventsDroppedTotal.WithLabelValues("sink_error").Inc()
		}
		return false
	}

	if m := observability.DefaultMetrics; m != nil {
		m.EventsEmittedTotal.WithLabelValues(string(event.Type)).Inc()
	}
	return true
}

// =============================================================================
// Sink Management
// =============================================================================

// AttachSink connects a client's event sink, replacing any previous one.
func (s *Session) AttachSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// DetachSink disconnects the given sink if it is still the attached one.
//
// Identity comparison prevents a stale disconnect callback from removing a
// newer connection's sink.
func (s *Session) DetachSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == sink {
		s.sink = nil
	}
}

// HasSink reports whether a sink is currently attached.
func (s *Session) HasSink() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

// =============================================================================
// History
// =============================================================================

// AppendMessage adds a message to the conversation history.
func (s *Session) AppendMessage(msg datatypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendMessageLocked(msg)
}

// appendMessageLocked appends and truncates; the caller must hold s.mu.
func (s *Session) appendMessageLocked(msg datatypes.Message) {
	s.history = append(s.history, msg)
	if len(s.history) > datatypes.MaxHistoryMessages {
		overflow := len(s.history) - datatypes.MaxHistoryMessages
		s.history = s.history[overflow:]
	}
	s.lastActiveAt = time.Now()
}

// History returns a copy of the conversation history.
func (s *Session) History() []datatypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.Message, len(s.history))
	copy(out, s.history)
	return out
}

// =============================================================================
// Invalidation
// =============================================================================

// Invalidate marks the session as deleted and detaches its sink.
//
// An in-flight turn is not interrupted; it observes the flag at its next
// checkpoint and fails with ErrSessionInvalidated.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
	s.sink = nil
}

// Invalidated reports whether the session has been deleted.
func (s *Session) Invalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// LastActiveAt returns the time of the session's most recent activity.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}
