// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
)

func TestIsAmbiguous(t *testing.T) {
	history := []datatypes.Message{{Role: "user", Content: "prior question"}}

	cases := []struct {
		name     string
		question string
		history  []datatypes.Message
		want     bool
	}{
		{"bare pronoun no history", "them", nil, true},
		{"pronoun in sentence no history", "Show me more about those", nil, true},
		{"two tokens no history", "show data", nil, true},
		{"specific question no history", "Which age group has the highest volume on weekends?", nil, false},
		{"pronoun with history", "What about them?", history, false},
		{"short with history", "and iOS?", history, false},
		{"punctuation does not hide pronoun", "What about those?", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAmbiguous(tc.question, tc.history))
		})
	}
}

func TestIsCompound(t *testing.T) {
	cases := []struct {
		name     string
		question string
		want     bool
	}{
		{"compare two segments", "Compare failure rates between Android and iOS", true},
		{"simple lookup", "Show me transactions from Maharashtra", false},
		{"short question never compound", "Which state has most fraud?", false},
		{"versus marker", "What is the average transaction amount for P2P versus P2M payments?", true},
		{"which and what", "Which age group transacts the most and what is its failure rate?", true},
		{"also marker", "Give me the top five states by volume and also their success rates", true},
		{"lookup verb with no conjunction", "Show all the failed transactions from the state of Maharashtra today", false},
		{"plain analytical question", "What is the overall failure rate for transactions sent during weekends?", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsCompound(tc.question))
		})
	}
}

func TestClassifyNonData(t *testing.T) {
	for _, q := range []string{"hi", "Hello!", "thanks", "Good morning"} {
		answer, ok := ClassifyNonData(q)
		assert.True(t, ok, "expected %q to be non-data", q)
		assert.NotEmpty(t, answer)
	}

	for _, q := range []string{"What can you do?", "who are you"} {
		_, ok := ClassifyNonData(q)
		assert.True(t, ok, "expected %q to be a capability question", q)
	}

	// Bare definition question with no analytical marker.
	_, ok := ClassifyNonData("What is UPI?")
	assert.True(t, ok)

	// Definition-shaped questions with analytical markers are real queries.
	for _, q := range []string{
		"What is the failure rate by bank?",
		"What is the average transaction amount?",
		"Show me transactions from Maharashtra",
	} {
		_, ok := ClassifyNonData(q)
		assert.False(t, ok, "expected %q to pass through", q)
	}
}
