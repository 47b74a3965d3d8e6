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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/insightx/services/llm"
	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
)

const maxSubQuestions = 3

// decompose asks the generation collaborator to split a compound question
// into at most three independently answerable sub-questions. Any failure
// falls back to single-question processing by returning nil.
func (p *Pipeline) decompose(ctx context.Context, question string) []string {
	raw, err := p.chat(ctx, buildDecompositionPrompt(question), llm.GenerationParams{Temperature: llm.Temp(0)})
	if err != nil {
		slog.Error("Decomposition call failed", "error", err)
		return nil
	}
	subs, err := datatypes.ParseDecomposition(raw)
	if err != nil {
		slog.Error("Decomposition parse failed", "raw", raw, "error", err)
		return nil
	}
	if len(subs) > maxSubQuestions {
		subs = subs[:maxSubQuestions]
	}
	return subs
}

// processCompound answers each sub-question sequentially against a throwaway
// session, then synthesizes one executive-summary answer. The throwaway
// session isolates entity context: sub-answers build on each other's text,
// never on each other's filters, and it is deleted whether or not synthesis
// succeeds.
func (p *Pipeline) processCompound(ctx context.Context, subQuestions []string, originalQuestion string) datatypes.ChatResponse {
	start := time.Now()

	temp := p.sessions.Create()
	defer p.sessions.Delete(temp.SessionID)

	var results []string
	var accumulatedSQL []string
	var lastChart *datatypes.ChartData

	for _, sub := range subQuestions {
		res := p.Process(ctx, sub, temp.SessionID)
		results = append(results, fmt.Sprintf("Question: %s\nAnswer: %s", sub, res.Answer))
		if res.SQLUsed != "" {
			accumulatedSQL = append(accumulatedSQL, res.SQLUsed)
		}
		if res.Chart != nil {
			lastChart = res.Chart
		}
	}

	answer, err := p.chat(ctx, buildSynthesisPrompt(originalQuestion, results, p.wh.Profile()), llm.GenerationParams{Temperature: llm.Temp(0.3)})
	if err != nil {
		slog.Error("Compound synthesis failed", "error", err)
		// The sub-answers are still useful on their own.
		answer = strings.Join(results, "\n\n")
	}

	return datatypes.ChatResponse{
		Answer:          answer,
		SQLUsed:         strings.Join(accumulatedSQL, " | THEN | "),
		Chart:           lastChart,
		QueryIntent:     "Multi-step analysis: " + originalQuestion,
		ExecutionTimeMs: float64(time.Since(start).Milliseconds()),
	}
}
