// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared between the chat
// handlers, the query pipeline, and the LLM backends.
//
// This file contains the public chat request/response contract for the
// POST /api/chat endpoint.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxQuestionLength bounds a single user question. Longer input is
	// rejected at the transport layer before the pipeline runs.
	MaxQuestionLength = 500
)

// chatValidate is the validator instance for chat datatypes.
var chatValidate = validator.New()

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	// Question is the user's natural-language question, 1-500 characters.
	Question string `json:"question" validate:"required,min=1,max=500"`

	// SessionID identifies the conversation the question belongs to.
	// The session must already exist.
	SessionID string `json:"session_id" validate:"required"`
}

// Validate checks field constraints on the request.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChartData is the chart payload attached to an answer when the generation
// step signalled a chart is warranted. The first two columns of the result
// become the axes.
type ChartData struct {
	Type string           `json:"type"`
	Data []map[string]any `json:"data"`
	XKey string           `json:"x_key"`
	YKey string           `json:"y_key"`
}

// ChatResponse is the per-turn output contract. Every terminal path of the
// pipeline, including error paths, produces one of these.
type ChatResponse struct {
	Answer           string     `json:"answer"`
	SQLUsed          string     `json:"sql_used,omitempty"`
	Chart            *ChartData `json:"chart,omitempty"`
	ProactiveInsight string     `json:"proactive_insight,omitempty"`
	QueryIntent      string     `json:"query_intent,omitempty"`
	ExecutionTimeMs  float64    `json:"execution_time_ms,omitempty"`
	IsClarification  bool       `json:"is_clarification"`
	SessionID        string     `json:"session_id"`
	Error            string     `json:"error,omitempty"`
}

// SessionCreateResponse is returned by POST /api/sessions.
type SessionCreateResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRenameRequest is the body for PATCH /api/sessions/:sessionId.
type SessionRenameRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// Validate checks field constraints on the rename request.
func (r *SessionRenameRequest) Validate() error {
	return chatValidate.Struct(r)
}
