// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns per-session conversational state: the ordered turn
// history, the entity tracker, and the rolling summary.
//
// Operations on an unknown session id are no-ops; the tracker never panics
// or errors for a missing session. Callers that depend on side effects must
// check existence first via Get.
package session

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

const (
	// maxPromptTurns is how many recent exchanges are replayed into prompts.
	maxPromptTurns = 4

	// titleLimit is the character cap for an auto-generated session title.
	titleLimit = 50

	// summaryEvery triggers a rolling summary recomputation.
	summaryEvery = 5
)

// Tracker is the in-memory session store. Safe for concurrent use; in
// addition to the store lock it hands out a per-session run lock so at most
// one pipeline run is in flight per session at a time.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.Session
	runLocks sync.Map // session id -> *sync.Mutex
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*datatypes.Session)}
}

// Create initializes a new session with an empty entity tracker and no turns.
func (t *Tracker) Create() *datatypes.Session {
	now := time.Now()
	s := &datatypes.Session{
		SessionID:  uuid.NewString(),
		Title:      "New Chat",
		CreatedAt:  now,
		LastActive: now,
	}

	t.mu.Lock()
	t.sessions[s.SessionID] = s
	t.mu.Unlock()

	slog.Info("Created session", "sessionId", s.SessionID)
	return s
}

// Get returns the session for id, or nil if unknown.
func (t *Tracker) Get(id string) *datatypes.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// Delete removes the session and reports whether it existed.
func (t *Tracker) Delete(id string) bool {
	t.mu.Lock()
	_, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()

	t.runLocks.Delete(id)
	if ok {
		slog.Info("Deleted session", "sessionId", id)
	}
	return ok
}

// Rename sets the session title and reports whether the session existed.
func (t *Tracker) Rename(id, title string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return false
	}
	s.Title = title
	return true
}

// List returns lightweight summaries of all sessions, most recently active
// first.
func (t *Tracker) List() []datatypes.SessionSummary {
	t.mu.RLock()
	out := make([]datatypes.SessionSummary, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, datatypes.SessionSummary{
			SessionID:  s.SessionID,
			Title:      s.Title,
			CreatedAt:  s.CreatedAt,
			LastActive: s.LastActive,
			TurnCount:  len(s.Turns),
		})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// LockSession acquires the per-session run lock. Concurrent turns on the same
// session are not ordering-safe, so the chat handler serializes them here.
func (t *Tracker) LockSession(id string) {
	mu, _ := t.runLocks.LoadOrStore(id, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
}

// UnlockSession releases the per-session run lock.
func (t *Tracker) UnlockSession(id string) {
	if mu, ok := t.runLocks.Load(id); ok {
		mu.(*sync.Mutex).Unlock()
	}
}

// GetContextForPrompt assembles the prompt context for a session: the last
// four exchanges flattened into alternating user/assistant messages, the
// entity tracker, the rolling summary, and the turn count. An unknown id
// yields an empty context with TurnCount 0.
func (t *Tracker) GetContextForPrompt(id string) datatypes.PromptContext {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[id]
	if !ok {
		return datatypes.PromptContext{}
	}

	start := len(s.Turns) - maxPromptTurns
	if start < 0 {
		start = 0
	}
	recent := make([]datatypes.Message, 0, 2*(len(s.Turns)-start))
	for _, turn := range s.Turns[start:] {
		recent = append(recent,
			datatypes.Message{Role: "user", Content: turn.Question},
			datatypes.Message{Role: "assistant", Content: turn.Answer},
		)
	}

	return datatypes.PromptContext{
		RecentTurns: recent,
		Entities:    s.Entities,
		Summary:     s.Summary,
		TurnCount:   len(s.Turns),
	}
}

// AddTurn appends one completed exchange to the session. On the first turn it
// derives the session title from the question; on every turn it merges the
// extracted entities under the non-empty-overwrite rule; every fifth turn it
// recomputes the rolling summary. Unknown session ids are no-ops.
func (t *Tracker) AddTurn(id string, turn datatypes.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		slog.Warn("AddTurn on unknown session, dropping turn", "sessionId", id)
		return
	}

	s.Turns = append(s.Turns, turn)
	s.LastActive = time.Now()

	if len(s.Turns) == 1 {
		s.Title = truncateTitle(turn.Question)
	}

	s.Entities.Merge(turn.Entities)

	if len(s.Turns)%summaryEvery == 0 {
		s.Summary = buildSummary(s)
	}
}

func truncateTitle(q string) string {
	// Cut on runes, not bytes, so a multi-byte character at the boundary
	// is never split mid-sequence.
	runes := []rune(q)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit]) + "..."
	}
	return q
}

// buildSummary renders a short programmatic digest of the recent intents and
// the tracked entities. Called with the store lock held.
func buildSummary(s *datatypes.Session) string {
	var intents []string
	for _, turn := range s.Turns {
		if turn.QueryIntent != "" {
			intents = append(intents, turn.QueryIntent)
		}
	}
	if len(intents) > summaryEvery {
		intents = intents[len(intents)-summaryEvery:]
	}

	metric := s.Entities.Metric
	if metric == "" {
		metric = "None"
	}

	return fmt.Sprintf("User explored: %s. Key entities discussed: States=[%s], Types=[%s]. Last metric: %s.",
		strings.Join(intents, "; "),
		strings.Join(s.Entities.States, ", "),
		strings.Join(s.Entities.TransactionTypes, ", "),
		metric)
}
