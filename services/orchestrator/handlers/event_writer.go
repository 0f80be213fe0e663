// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cairnhealth/cairn/services/orchestrator/datatypes"
	"github.com/cairnhealth/cairn/services/orchestrator/session"
	"github.com/google/uuid"
)

// =============================================================================
// Struct Definition
// =============================================================================

// eventStreamWriter delivers session events as Server-Sent Events.
//
// # Description
//
// eventStreamWriter wraps an http.ResponseWriter to emit SSE-formatted
// events. Each event is written in the format:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain for integrity verification:
//   - Each event's Hash is SHA-256 of its content
//   - Each event's PrevHash links to the previous event
//
// This gives a client enough to verify it observed the complete, ordered
// stream for its connection.
//
// # Thread Safety
//
// Thread-safe via mutex. The turn goroutine and the keep-alive ticker both
// write through the same writer.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter
//   - Cannot be reused across requests
type eventStreamWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewEventStreamWriter creates an SSE event sink over the ResponseWriter.
//
// The caller must set SSE headers via SetSSEHeaders before the first write.
func NewEventStreamWriter(w http.ResponseWriter) (session.EventSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &eventStreamWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent implements the session.EventSink interface.
//
// # Description
//
// Populates delivery metadata (Id, CreatedAt, Hash, PrevHash), serializes
// to JSON, and writes in SSE format. Flushes immediately after writing.
//
// # Inputs
//
//   - event: StreamEvent to write. Id, CreatedAt, Hash, PrevHash are auto-set.
//
// # Outputs
//
//   - error: Non-nil if marshaling or the write failed; a failed writer is
//     dead and should be detached.
func (w *eventStreamWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.NewString()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment line to keep the connection alive.
//
// Comments are ignored by SSE clients but reset load balancer timeout
// counters. Does not advance the hash chain.
func (w *eventStreamWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash computes the SHA-256 hash of an event's content.
//
// Rows and thumbnails are JSON-serialized so the chain covers the full
// display payload, not just scalar fields. Called before Hash is set.
func computeEventHash(event datatypes.StreamEvent) string {
	rowsJSON := ""
	if len(event.Rows) > 0 {
		if data, err := json.Marshal(event.Rows); err == nil {
			rowsJSON = string(data)
		}
	}
	thumbJSON := ""
	if event.Thumbnail != nil {
		if data, err := json.Marshal(event.Thumbnail); err == nil {
			thumbJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.TurnId,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.SessionId,
		event.ResultId,
		event.Tool,
		rowsJSON,
		thumbJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// Must be called before writing any response body:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ session.EventSink = (*eventStreamWriter)(nil)
