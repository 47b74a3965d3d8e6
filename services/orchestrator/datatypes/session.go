// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Message is a single chat message in the role/content shape the LLM
// backends expect.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EntityContext is the accumulated set of filter values referenced across a
// session. It is the mechanism behind pronoun resolution: "those states" on
// turn 3 resolves against whatever a previous turn put in States.
//
// A slot is overwritten only by a non-empty new value. Stale values persist
// until explicitly replaced, never silently cleared.
type EntityContext struct {
	States           []string          `json:"states,omitempty"`
	TransactionTypes []string          `json:"transaction_types,omitempty"`
	AgeGroups        []string          `json:"age_groups,omitempty"`
	// TimeFilters values are model-authored and not type-constrained: the
	// generation contract allows numbers as well as strings here, and a
	// stricter type would fail the whole response unmarshal.
	TimeFilters  map[string]any `json:"time_filters,omitempty"`
	Metric       string         `json:"metric,omitempty"`
	LastHour     *int           `json:"last_hour,omitempty"`
	LastCategory string         `json:"last_category,omitempty"`
}

// Merge folds the entities extracted on the latest turn into the tracker.
// Empty slots on the incoming side leave the existing value untouched.
func (e *EntityContext) Merge(in EntityContext) {
	if len(in.States) > 0 {
		e.States = in.States
	}
	if len(in.TransactionTypes) > 0 {
		e.TransactionTypes = in.TransactionTypes
	}
	if len(in.AgeGroups) > 0 {
		e.AgeGroups = in.AgeGroups
	}
	if len(in.TimeFilters) > 0 {
		e.TimeFilters = in.TimeFilters
	}
	if in.Metric != "" {
		e.Metric = in.Metric
	}
	if in.LastHour != nil {
		e.LastHour = in.LastHour
	}
	if in.LastCategory != "" {
		e.LastCategory = in.LastCategory
	}
}

// IsEmpty reports whether no slot has ever been populated.
func (e *EntityContext) IsEmpty() bool {
	return len(e.States) == 0 &&
		len(e.TransactionTypes) == 0 &&
		len(e.AgeGroups) == 0 &&
		len(e.TimeFilters) == 0 &&
		e.Metric == "" &&
		e.LastHour == nil &&
		e.LastCategory == ""
}

// Values returns every tracked scalar value as a flat list. The pipeline uses
// this to decide whether a new question textually re-mentions a tracked
// entity.
func (e *EntityContext) Values() []string {
	var out []string
	out = append(out, e.States...)
	out = append(out, e.TransactionTypes...)
	out = append(out, e.AgeGroups...)
	if e.Metric != "" {
		out = append(out, e.Metric)
	}
	if e.LastCategory != "" {
		out = append(out, e.LastCategory)
	}
	return out
}

// Turn is one user/assistant exchange within a session. Immutable once
// appended to a Session.
type Turn struct {
	Question        string        `json:"question"`
	Answer          string        `json:"answer"`
	SQLUsed         string        `json:"sql_used,omitempty"`
	ExecutionTimeMs float64       `json:"execution_time_ms"`
	Chart           *ChartData    `json:"chart,omitempty"`
	Entities        EntityContext `json:"entities"`
	QueryIntent     string        `json:"query_intent"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Session holds the full conversational state for one chat. It is owned by
// the session tracker and must only be mutated through it.
type Session struct {
	SessionID  string        `json:"session_id"`
	Title      string        `json:"title"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive time.Time     `json:"last_active"`
	Turns      []Turn        `json:"turns"`
	Entities   EntityContext `json:"entity_tracker"`
	Summary    string        `json:"summary"`
}

// SessionSummary is the lightweight projection returned by the session list
// endpoint for the UI sidebar.
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	TurnCount  int       `json:"turn_count"`
}

// PromptContext is what the pipeline needs from a session before building a
// generation request: the recent exchange history flattened into alternating
// user/assistant messages, the current entity tracker, the rolling summary,
// and the turn count. TurnCount is the sole first-turn signal used anywhere.
type PromptContext struct {
	RecentTurns []Message     `json:"recent_turns"`
	Entities    EntityContext `json:"entity_tracker"`
	Summary     string        `json:"summary"`
	TurnCount   int           `json:"turn_count"`
}
