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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QueryIntentInvalidCombination is the sentinel intent the SQL-generation
// model returns together with a null sql field when the requested filter
// combination is semantically impossible (e.g. merchant category on P2P).
// Such a response is surfaced as a friendly rejection and never executed.
const QueryIntentInvalidCombination = "invalid_combination"

// SQLGenerationResponse is the strict JSON object the SQL-generation pass
// must return.
type SQLGenerationResponse struct {
	// SQL is the generated query. Null together with
	// QueryIntentInvalidCombination means "impossible combination requested".
	SQL *string `json:"sql"`

	// QueryIntent is a one-sentence description of what the query computes.
	QueryIntent string `json:"query_intent"`

	// EntitiesExtracted are the filter values the model actually used in its
	// WHERE clauses, fed back into the session's entity tracker.
	EntitiesExtracted EntityContext `json:"entities_extracted"`

	RequiresChart      bool   `json:"requires_chart"`
	SuggestedChartType string `json:"suggested_chart_type"`
}

// SQLText returns the generated SQL or "" when the sql field was null.
func (r *SQLGenerationResponse) SQLText() string {
	if r.SQL == nil {
		return ""
	}
	return *r.SQL
}

// IsInvalidCombination reports whether the model flagged the question as a
// semantically impossible combination.
func (r *SQLGenerationResponse) IsInvalidCombination() bool {
	return r.SQL == nil && strings.EqualFold(strings.TrimSpace(r.QueryIntent), QueryIntentInvalidCombination)
}

// ParseSQLGenerationResponse parses the raw model output into a
// SQLGenerationResponse. Models occasionally wrap the JSON in markdown code
// fences or prefix it with a stray line of prose; both are tolerated. A
// response that still fails to parse is a terminal error for the turn; the
// pipeline does not retry on a format error.
func ParseSQLGenerationResponse(raw string) (*SQLGenerationResponse, error) {
	cleaned := stripCodeFences(raw)

	var resp SQLGenerationResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err == nil {
		return withIntentDefault(&resp), nil
	}

	// Tolerate one stray leading non-JSON line before the object.
	if idx := strings.IndexByte(cleaned, '\n'); idx >= 0 {
		rest := strings.TrimSpace(cleaned[idx+1:])
		if strings.HasPrefix(rest, "{") {
			if err := json.Unmarshal([]byte(rest), &resp); err == nil {
				return withIntentDefault(&resp), nil
			}
		}
	}

	return nil, fmt.Errorf("response is not valid generation JSON: %.120q", raw)
}

// ParseDecomposition parses the JSON array of sub-questions returned by the
// compound-question decomposition call. The same fencing tolerance applies.
func ParseDecomposition(raw string) ([]string, error) {
	cleaned := stripCodeFences(raw)

	var subs []string
	if err := json.Unmarshal([]byte(cleaned), &subs); err != nil {
		if idx := strings.IndexByte(cleaned, '\n'); idx >= 0 {
			rest := strings.TrimSpace(cleaned[idx+1:])
			if strings.HasPrefix(rest, "[") {
				if err2 := json.Unmarshal([]byte(rest), &subs); err2 == nil {
					return subs, nil
				}
			}
		}
		return nil, fmt.Errorf("decomposition is not a JSON array: %w", err)
	}
	return subs, nil
}

func stripCodeFences(raw string) string {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

func withIntentDefault(resp *SQLGenerationResponse) *SQLGenerationResponse {
	if resp.QueryIntent == "" {
		resp.QueryIntent = "Analysis"
	}
	if resp.SuggestedChartType == "" {
		resp.SuggestedChartType = "none"
	}
	return resp
}
