// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin HTTP handlers for the orchestrator API.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	"github.com/AleutianAI/insightx/services/persistence"
	"github.com/AleutianAI/insightx/services/pipeline"
	"github.com/AleutianAI/insightx/services/session"
)

// HandleChat runs one conversational turn. Turns on the same session are
// serialized with a per-session lock because the pipeline mutates shared
// session state. The history store writes are fault-tolerant; a persistence
// failure never fails the request.
func HandleChat(p *pipeline.Pipeline, tracker *session.Tracker, store *persistence.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if tracker.Get(req.SessionID) == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found. Create a session first via POST /api/sessions"})
			return
		}

		slog.Info("Received chat request", "session_id", req.SessionID)

		tracker.LockSession(req.SessionID)
		defer tracker.UnlockSession(req.SessionID)

		resp := p.Process(c.Request.Context(), req.Question, req.SessionID)

		if store != nil {
			ctx := c.Request.Context()
			store.SaveTurn(ctx, req.SessionID, "user", req.Question, "", 0, nil)
			store.SaveTurn(ctx, req.SessionID, "assistant", resp.Answer, resp.SQLUsed, resp.ExecutionTimeMs, resp.Chart)
		}

		c.JSON(http.StatusOK, resp)
	}
}
