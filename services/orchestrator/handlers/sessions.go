// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/cairnhealth/cairn/services/orchestrator/session"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Struct Definition
// =============================================================================

// SessionHandler serves session administration endpoints.
type SessionHandler struct {
	store *session.Store
}

// NewSessionHandler creates the session admin handler.
func NewSessionHandler(store *session.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

// =============================================================================
// Methods
// =============================================================================

// ListSessions handles GET /v1/sessions.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.store.List(),
		"count":    h.store.Len(),
	})
}

// GetHistory handles GET /v1/sessions/:id/history.
func (h *SessionHandler) GetHistory(c *gin.Context) {
	id := c.Param("id")
	s := h.store.Get(id)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.ID,
		"created_at": s.CreatedAt().UnixMilli(),
		"messages":   s.History(),
	})
}

// DeleteSession handles DELETE /v1/sessions/:id.
//
// An in-flight turn is not interrupted; it fails at its next checkpoint
// with a session_invalidated error on its own stream.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if !h.store.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
