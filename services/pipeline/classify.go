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
	"strings"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
)

// contextPronouns are the reference words that require prior conversation
// to resolve.
var contextPronouns = map[string]struct{}{
	"it": {}, "that": {}, "this": {}, "them": {},
	"those": {}, "he": {}, "she": {}, "they": {},
}

// simpleLookupVerbs open questions that are cheap single lookups, never
// compound unless an explicit conjunction appears.
var simpleLookupVerbs = map[string]struct{}{
	"show": {}, "list": {}, "get": {}, "find": {}, "display": {},
}

var compoundMarkers = []string{
	"also", "additionally", "as well as", "compared to", "versus", " vs ", "compare",
}

var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {}, "thanks": {}, "thank you": {},
	"bye": {}, "goodbye": {}, "good morning": {}, "good afternoon": {}, "good evening": {},
}

var capabilityPhrases = []string{
	"what can you do", "what can you help", "how do you work",
	"who are you", "what are you",
}

// analyticalMarkers distinguish a real metric question from a bare
// definition question.
var analyticalMarkers = []string{
	"rate", "count", "how many", "average", "avg", "total", "top", "most",
	"least", "highest", "lowest", "percent", "number of", "trend", "compare",
	"volume", "sum", "median", "distribution",
}

// IsAmbiguous reports whether a question cannot be answered without prior
// conversation: it contains a context pronoun with no history, or is two
// tokens or fewer with no history. Only first-turn questions should be
// gated on this; later turns always have context to resolve against.
func IsAmbiguous(question string, history []datatypes.Message) bool {
	if len(history) > 0 {
		return false
	}
	tokens := strings.Fields(question)
	if len(tokens) <= 2 {
		return true
	}
	for _, tok := range tokens {
		word := strings.ToLower(strings.Trim(tok, ".,!?;:'\""))
		if _, ok := contextPronouns[word]; ok {
			return true
		}
	}
	return false
}

// IsCompound reports whether a question needs decomposition into multiple
// queries. Short questions and plain lookups are never compound.
func IsCompound(question string) bool {
	lower := strings.ToLower(question)
	tokens := strings.Fields(lower)
	if len(tokens) < 7 {
		return false
	}

	hasConjunction := strings.Contains(lower, " and ")
	for _, marker := range compoundMarkers {
		if strings.Contains(lower, marker) {
			hasConjunction = true
			break
		}
	}
	if len(tokens) > 0 {
		first := strings.Trim(tokens[0], ".,!?;:'\"")
		if _, ok := simpleLookupVerbs[first]; ok && !hasConjunction {
			return false
		}
	}

	hasInterrogative := strings.Contains(lower, "what") ||
		strings.Contains(lower, "how") ||
		strings.Contains(lower, "which")
	if strings.Contains(lower, " and ") && hasInterrogative {
		return true
	}
	for _, marker := range compoundMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if strings.Contains(lower, "which") && strings.Contains(lower, "and what") {
		return true
	}
	if strings.Contains(lower, "how many") && strings.Contains(lower, "and what") {
		return true
	}
	return false
}

// ClassifyNonData matches greetings, capability questions, and bare
// definition questions that need no query at all. Returns the canned answer
// and true on a match.
func ClassifyNonData(question string) (string, bool) {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(question), ".,!? "))

	if _, ok := greetings[normalized]; ok {
		return "Hello! I'm InsightX, your UPI transactions analyst. Ask me about transaction volumes, failure rates, fraud flags, states, banks, or anything else in the dataset.", true
	}

	for _, phrase := range capabilityPhrases {
		if strings.Contains(normalized, phrase) {
			return "I answer analytics questions about a UPI transactions dataset. Try things like \"What is the failure rate by bank?\", \"Which state has the highest transaction volume?\", or \"Show fraud-flagged transactions by hour of day\".", true
		}
	}

	if strings.HasPrefix(normalized, "what is ") || strings.HasPrefix(normalized, "what's ") || strings.HasPrefix(normalized, "define ") {
		analytical := false
		for _, marker := range analyticalMarkers {
			if strings.Contains(normalized, marker) {
				analytical = true
				break
			}
		}
		if !analytical {
			return "I'm an analytics assistant for UPI transaction data rather than a general reference. If you'd like, ask me a question about the dataset, such as transaction volumes, failure rates, or fraud flags.", true
		}
	}

	return "", false
}
