// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []datatypes.StreamEvent
	fail   bool
}

func (r *recordingSink) WriteEvent(event datatypes.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("sink is closed")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Events() []datatypes.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]datatypes.StreamEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) Types() []datatypes.EventType {
	events := r.Events()
	types := make([]datatypes.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// =============================================================================
// Turn Lifecycle Tests
// =============================================================================

func TestBeginTurn_MintsIdAndEmitsTurnStart(t *testing.T) {
	s := NewSession("sess-1")
	sink := &recordingSink{}
	s.AttachSink(sink)

	turnID, err := s.BeginTurn("hello")
	require.NoError(t, err)
	require.NotEmpty(t, turnID)
	assert.Equal(t, turnID, s.CurrentTurnID())

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventTurnStart, events[0].Type)
	assert.Equal(t, turnID, events[0].TurnId)

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
}

func TestBeginTurn_RejectsSecondTurn(t *testing.T) {
	s := NewSession("sess-1")

	_, err := s.BeginTurn("first")
	require.NoError(t, err)

	_, err = s.BeginTurn("second")
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	// The failed attempt must not disturb the in-flight turn.
	assert.NotEmpty(t, s.CurrentTurnID())
	assert.Len(t, s.History(), 1)
}

func TestBeginTurn_MintsFreshIdPerTurn(t *testing.T) {
	s := NewSession("sess-1")

	first, err := s.BeginTurn("one")
	require.NoError(t, err)
	s.EndTurn()

	second, err := s.BeginTurn("two")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestEndTurn_EmitsTurnEndThenClears(t *testing.T) {
	s := NewSession("sess-1")
	sink := &recordingSink{}
	s.AttachSink(sink)

	turnID, err := s.BeginTurn("hello")
	require.NoError(t, err)

	s.EndTurn()
	assert.Empty(t, s.CurrentTurnID())

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, datatypes.EventTurnEnd, events[1].Type)
	assert.Equal(t, turnID, events[1].TurnId)
}

func TestEndTurn_Idempotent(t *testing.T) {
	s := NewSession("sess-1")
	sink := &recordingSink{}
	s.AttachSink(sink)

	_, err := s.BeginTurn("hello")
	require.NoError(t, err)

	s.EndTurn()
	s.EndTurn()
	s.EndTurn()

	// turn-start plus exactly one turn-end.
	assert.Equal(t,
		[]datatypes.EventType{datatypes.EventTurnStart, datatypes.EventTurnEnd},
		sink.Types())
}

func TestEndTurn_ReleasesLockWithoutSink(t *testing.T) {
	s := NewSession("sess-1")

	_, err := s.BeginTurn("hello")
	require.NoError(t, err)

	// No sink attached: no turn-end can be delivered, but the session
	// must not stay locked.
	s.EndTurn()

	_, err = s.BeginTurn("again")
	assert.NoError(t, err)
}

func TestBeginTurn_SingleFlightUnderContention(t *testing.T) {
	s := NewSession("sess-1")

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.BeginTurn("race"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one goroutine should win the turn lock")
}

// =============================================================================
// Emission Tests
// =============================================================================

func TestEmit_DropsTurnScopedEventsOutsideTurn(t *testing.T) {
	s := NewSession("sess-1")
	sink := &recordingSink{}
	s.AttachSink(sink)

	delivered := s.Emit(datatypes.StreamEvent{Type: datatypes.EventText, Content: "late"})
	assert.False(t, delivered)
	assert.Empty(t, sink.Events())
}

func TestEmit_StatusEventsBypassGuard(t *testing.T) {
	s := NewSession("sess-1")
	sink := &recordingSink{}
	s.AttachSink(sink)

	delivered := s.Emit(datatypes.StreamEvent{
		Type:      datatypes.EventStatus,
		Message:   "session-created",
		SessionId: s.ID,
	})
	assert.True(t, delivered)
	require.Len(t, sink.Events(), 1)
	assert.Empty(t, sink.Events()[0].TurnId, "status events never carry a turn id")
}

func TestEmit_StampsLiveTurnId(t *testing.T) {
	s := NewSession("sess-1")
	sink := &recordingSink{}
	s.AttachSink(sink)

	turnID, err := s.BeginTurn("hello")
	require.NoError(t, err)

	s.Emit(datatypes.StreamEvent{Type: datatypes.EventText, Content: "hi"})

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, turnID, events[1].TurnId)
}

func TestEmit_DetachesSinkOnWriteFailure(t *testing.T) {
	s := NewSession("sess-1")
	sink := &recordingSink{fail: true}
	s.AttachSink(sink)

	_, err := s.BeginTurn("hello")
	require.NoError(t, err)
	assert.False(t, s.HasSink(), "failed sink should be detached")

	// Later emissions drop silently instead of retrying the dead sink.
	assert.False(t, s.Emit(datatypes.StreamEvent{Type: datatypes.EventText, Content: "x"}))
}

func TestDetachSink_IdentityCompare(t *testing.T) {
	s := NewSession("sess-1")
	oldSink := &recordingSink{}
	newSink := &recordingSink{}

	s.AttachSink(oldSink)
	s.AttachSink(newSink)

	// A stale disconnect callback must not remove the newer sink.
	s.DetachSink(oldSink)
	assert.True(t, s.HasSink())

	s.DetachSink(newSink)
	assert.False(t, s.HasSink())
}

// =============================================================================
// History Tests
// =============================================================================

func TestAppendMessage_TruncatesOldest(t *testing.T) {
	s := NewSession("sess-1")
	for i := 0; i < datatypes.MaxHistoryMessages+25; i++ {
		s.AppendMessage(datatypes.Message{Role: "user", Content: "m"})
	}
	assert.Len(t, s.History(), datatypes.MaxHistoryMessages)
}

func TestHistory_ReturnsCopy(t *testing.T) {
	s := NewSession("sess-1")
	s.AppendMessage(datatypes.Message{Role: "user", Content: "original"})

	h := s.History()
	h[0].Content = "mutated"

	assert.Equal(t, "original", s.History()[0].Content)
}

// =============================================================================
// Invalidation Tests
// =============================================================================

func TestInvalidate_BlocksNewTurns(t *testing.T) {
	s := NewSession("sess-1")
	s.Invalidate()

	_, err := s.BeginTurn("hello")
	assert.ErrorIs(t, err, ErrSessionInvalidated)
}

func TestInvalidate_DetachesSink(t *testing.T) {
	s := NewSession("sess-1")
	s.AttachSink(&recordingSink{})
	s.Invalidate()
	assert.False(t, s.HasSink())
}

// =============================================================================
// Store Tests
// =============================================================================

func TestStore_GetOrCreate(t *testing.T) {
	st := NewStore()

	s1, created := st.GetOrCreate("")
	assert.True(t, created)
	require.NotNil(t, s1)

	s2, created := st.GetOrCreate(s1.ID)
	assert.False(t, created)
	assert.Same(t, s1, s2)

	s3, created := st.GetOrCreate("unknown-id")
	assert.True(t, created)
	assert.NotSame(t, s1, s3)
}

func TestStore_DeleteInvalidates(t *testing.T) {
	st := NewStore()
	s, _ := st.GetOrCreate("")

	assert.True(t, st.Delete(s.ID))
	assert.True(t, s.Invalidated())
	assert.Nil(t, st.Get(s.ID))
	assert.False(t, st.Delete(s.ID))
}

func TestStore_PruneIdle(t *testing.T) {
	st := NewStore()
	stale, _ := st.GetOrCreate("")
	busy, _ := st.GetOrCreate("")
	fresh, _ := st.GetOrCreate("")

	// Backdate the stale and busy sessions.
	stale.mu.Lock()
	stale.lastActiveAt = time.Now().Add(-time.Hour)
	stale.mu.Unlock()
	busy.mu.Lock()
	busy.lastActiveAt = time.Now().Add(-time.Hour)
	busy.mu.Unlock()

	_, err := busy.BeginTurn("still working")
	require.NoError(t, err)
	busy.mu.Lock()
	busy.lastActiveAt = time.Now().Add(-time.Hour)
	busy.mu.Unlock()

	pruned := st.PruneIdle(30 * time.Minute)
	assert.Equal(t, 1, pruned)
	assert.Nil(t, st.Get(stale.ID))
	assert.NotNil(t, st.Get(busy.ID), "sessions holding the turn lock are not pruned")
	assert.NotNil(t, st.Get(fresh.ID))
	assert.True(t, stale.Invalidated())
}
