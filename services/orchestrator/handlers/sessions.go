// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	"github.com/AleutianAI/insightx/services/persistence"
	"github.com/AleutianAI/insightx/services/session"
)

// CreateSession makes a new in-memory session and shadows it to the history
// store.
func CreateSession(tracker *session.Tracker, store *persistence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := tracker.Create()
		if store != nil {
			store.CreateSession(c.Request.Context(), s.SessionID)
		}
		slog.Info("Created session", "session_id", s.SessionID)
		c.JSON(http.StatusOK, datatypes.SessionCreateResponse{
			SessionID: s.SessionID,
			CreatedAt: s.CreatedAt,
		})
	}
}

// ListSessions merges the history store with the in-memory tracker. The
// store is the source of truth for anything it holds; the tracker catches
// sessions that have not been persisted yet.
func ListSessions(tracker *session.Tracker, store *persistence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		combined := []persistence.SessionRecord{}
		seen := map[string]struct{}{}

		if store != nil {
			for _, rec := range store.ListSessions(c.Request.Context()) {
				seen[rec.SessionID] = struct{}{}
				combined = append(combined, rec)
			}
		}
		for _, s := range tracker.List() {
			if _, ok := seen[s.SessionID]; ok {
				continue
			}
			combined = append(combined, persistence.SessionRecord{
				SessionID:  s.SessionID,
				CreatedAt:  s.CreatedAt.Format(time.RFC3339),
				Title:      s.Title,
				TurnCount:  s.TurnCount,
				LastActive: s.LastActive.Format(time.RFC3339),
			})
		}

		c.JSON(http.StatusOK, combined)
	}
}

// DeleteSession removes a session from both stores. 404 only when neither
// store knew the id.
func DeleteSession(tracker *session.Tracker, store *persistence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		memDeleted := tracker.Delete(id)
		dbDeleted := false
		if store != nil {
			dbDeleted = store.DeleteSession(c.Request.Context(), id)
		}
		if !memDeleted && !dbDeleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		slog.Info("Deleted session", "session_id", id)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// RenameSession updates a session title in both stores.
func RenameSession(tracker *session.Tracker, store *persistence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		var req datatypes.SessionRenameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		memUpdated := tracker.Rename(id, req.Title)
		dbUpdated := false
		if store != nil {
			dbUpdated = store.RenameSession(c.Request.Context(), id, req.Title)
		}
		if !memUpdated && !dbUpdated {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "session_id": id, "title": req.Title})
	}
}

// GetSessionMessages returns the full persisted transcript for session
// restoration in the UI.
func GetSessionMessages(store *persistence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		messages := []persistence.TurnRecord{}
		if store != nil {
			messages = store.GetTurns(c.Request.Context(), id)
		}
		c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": messages})
	}
}
