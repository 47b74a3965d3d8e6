// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the conversational query state machine: it
// turns a user utterance plus session history into a validated SQL query, a
// result set, and a narrated answer.
//
// Control flow per turn: classify (non-data / ambiguous / compound / normal),
// then on the normal path generate SQL, validate it, execute it with one
// regeneration retry, enrich the result statistically, narrate, and persist
// the turn. Every terminal path, including every failure, returns a
// structured response; nothing propagates to the transport layer uncaught.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/insightx/services/llm"
	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	"github.com/AleutianAI/insightx/services/orchestrator/observability"
	"github.com/AleutianAI/insightx/services/session"
	"github.com/AleutianAI/insightx/services/sqlguard"
	"github.com/AleutianAI/insightx/services/stats"
	"github.com/AleutianAI/insightx/services/warehouse"
)

var tracer = otel.Tracer("insightx.pipeline")

const (
	clarificationAnswer = "Could you clarify your question? For example, are you asking about transaction types, states, or a specific time period?"
	parseErrorAnswer    = "I understood your question, but I encountered an internal error generating the query structure. Please try again."
	emptyResultAnswer   = "No matching records were found for that query. Try broadening your filters, for example a wider time range or fewer conditions."
	invalidComboAnswer  = "That combination doesn't exist in this dataset, so there's nothing to compute. For example, P2P transactions never carry a merchant category. Try rephrasing with a valid combination."
)

// Pipeline wires the generation collaborator, the warehouse, and the session
// tracker into the per-turn state machine. Safe for concurrent use; callers
// must serialize turns on the same session id via the tracker's session lock.
type Pipeline struct {
	llm      llm.LLMClient
	wh       *warehouse.Warehouse
	sessions *session.Tracker
	metrics  *observability.PipelineMetrics
	schema   string
}

// New builds a Pipeline. metrics may be nil, which disables instrumentation.
func New(client llm.LLMClient, wh *warehouse.Warehouse, sessions *session.Tracker, metrics *observability.PipelineMetrics) *Pipeline {
	return &Pipeline{
		llm:      client,
		wh:       wh,
		sessions: sessions,
		metrics:  metrics,
		schema:   wh.SchemaDescription(),
	}
}

// resultChatter is implemented by clients that report which model tier
// served a call. Used for metrics only.
type resultChatter interface {
	ChatWithResult(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (*llm.CallResult, error)
}

// Process runs one full turn. All failure modes come back as a structured
// response with a user-facing answer; resp.Error carries the internal detail.
func (p *Pipeline) Process(ctx context.Context, question, sessionID string) (resp datatypes.ChatResponse) {
	start := time.Now()
	outcome := observability.OutcomeAnswered

	ctx, span := tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline panic recovered", "session_id", sessionID, "panic", r)
			outcome = observability.OutcomeError
			resp = datatypes.ChatResponse{
				Answer: classifyFailure(fmt.Sprint(r)),
				Error:  fmt.Sprint(r),
			}
			span.SetStatus(codes.Error, "pipeline panic")
		}
		resp.SessionID = sessionID
		if resp.ExecutionTimeMs == 0 {
			resp.ExecutionTimeMs = float64(time.Since(start).Milliseconds())
		}
		span.SetAttributes(attribute.String("pipeline.outcome", outcome))
		span.End()
		p.metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}()

	if answer, ok := ClassifyNonData(question); ok {
		outcome = observability.OutcomeNonData
		return datatypes.ChatResponse{Answer: answer, QueryIntent: "Small talk"}
	}

	pctx := p.sessions.GetContextForPrompt(sessionID)

	if pctx.TurnCount > 0 && IsCompound(question) {
		if subs := p.decompose(ctx, question); len(subs) >= 2 {
			outcome = observability.OutcomeCompound
			return p.processCompound(ctx, subs, question)
		}
	}

	if pctx.TurnCount == 0 && IsAmbiguous(question, pctx.RecentTurns) {
		outcome = observability.OutcomeClarification
		return datatypes.ChatResponse{
			Answer:          clarificationAnswer,
			IsClarification: true,
			QueryIntent:     "Clarification requested",
		}
	}

	return p.processNormal(ctx, question, sessionID, pctx, start, &outcome)
}

func (p *Pipeline) processNormal(ctx context.Context, question, sessionID string, pctx datatypes.PromptContext, start time.Time, outcome *string) datatypes.ChatResponse {
	includeContext := shouldIncludeContext(question, pctx.Entities, pctx.TurnCount)
	messages := buildSQLGenerationPrompt(p.schema, question, pctx.RecentTurns, pctx.Entities, includeContext)

	raw, err := p.chat(ctx, messages, llm.GenerationParams{Temperature: llm.Temp(0)})
	if err != nil {
		*outcome = observability.OutcomeError
		return datatypes.ChatResponse{
			Answer: classifyFailure(err.Error()),
			Error:  err.Error(),
		}
	}

	genResp, err := datatypes.ParseSQLGenerationResponse(raw)
	if err != nil {
		slog.Error("Unparseable generation response", "session_id", sessionID, "raw", raw, "error", err)
		*outcome = observability.OutcomeError
		return datatypes.ChatResponse{Answer: parseErrorAnswer, Error: "generation format error"}
	}

	if genResp.IsInvalidCombination() {
		*outcome = observability.OutcomeRejected
		return datatypes.ChatResponse{Answer: invalidComboAnswer, QueryIntent: genResp.QueryIntent}
	}

	validation := sqlguard.Validate(genResp.SQLText())
	if !validation.Valid {
		*outcome = observability.OutcomeRejected
		return datatypes.ChatResponse{
			Answer:  fmt.Sprintf("I cannot execute that query safely. Reason: %s", validation.Reason),
			SQLUsed: genResp.SQLText(),
		}
	}
	cleanedSQL := validation.CleanedSQL

	result := p.executeTimed(ctx, cleanedSQL)
	if !result.Success {
		slog.Warn("SQL execution failed, regenerating", "session_id", sessionID, "error", result.Error)
		retried, retryResp, done := p.retryExecution(ctx, messages, raw, result.Error, outcome)
		if done {
			return retryResp
		}
		genResp, cleanedSQL, result = retried.genResp, retried.cleanedSQL, retried.result
	}

	if result.RowCount == 0 {
		// A valid query with zero matches is a real answer. Persist it, but
		// keep the narrator away from data it could only invent.
		*outcome = observability.OutcomeEmpty
		execMs := float64(time.Since(start).Milliseconds())
		p.sessions.AddTurn(sessionID, datatypes.Turn{
			Question:        question,
			Answer:          emptyResultAnswer,
			SQLUsed:         cleanedSQL,
			ExecutionTimeMs: execMs,
			Entities:        genResp.EntitiesExtracted,
			QueryIntent:     genResp.QueryIntent,
			Timestamp:       time.Now(),
		})
		return datatypes.ChatResponse{
			Answer:          emptyResultAnswer,
			SQLUsed:         cleanedSQL,
			QueryIntent:     genResp.QueryIntent,
			ExecutionTimeMs: execMs,
		}
	}

	enrichment := safeEnrich(result, genResp.QueryIntent, cleanedSQL)

	narration := buildNarrationPrompt(question, genResp.QueryIntent, result, enrichment, p.wh.Profile())
	answer, err := p.chat(ctx, narration, llm.GenerationParams{Temperature: llm.Temp(0.3)})
	if err != nil {
		*outcome = observability.OutcomeError
		return datatypes.ChatResponse{
			Answer:  classifyFailure(err.Error()),
			SQLUsed: cleanedSQL,
			Error:   err.Error(),
		}
	}

	insight := proactiveInsight(result)

	var chart *datatypes.ChartData
	if genResp.RequiresChart {
		chart = prepareChart(result, genResp.SuggestedChartType)
	}

	execMs := float64(time.Since(start).Milliseconds())
	p.sessions.AddTurn(sessionID, datatypes.Turn{
		Question:        question,
		Answer:          answer,
		SQLUsed:         cleanedSQL,
		ExecutionTimeMs: execMs,
		Chart:           chart,
		Entities:        genResp.EntitiesExtracted,
		QueryIntent:     genResp.QueryIntent,
		Timestamp:       time.Now(),
	})

	return datatypes.ChatResponse{
		Answer:           answer,
		SQLUsed:          cleanedSQL,
		Chart:            chart,
		ProactiveInsight: insight,
		QueryIntent:      genResp.QueryIntent,
		ExecutionTimeMs:  execMs,
	}
}

type retryOutcome struct {
	genResp    *datatypes.SQLGenerationResponse
	cleanedSQL string
	result     warehouse.QueryResult
}

// retryExecution regenerates the query once after an execution failure by
// feeding the error text back to the model. done=true means the returned
// response is terminal.
func (p *Pipeline) retryExecution(ctx context.Context, messages []datatypes.Message, priorRaw, execError string, outcome *string) (retryOutcome, datatypes.ChatResponse, bool) {
	messages = append(messages, datatypes.Message{Role: "assistant", Content: priorRaw})
	messages = append(messages, datatypes.Message{
		Role:    "user",
		Content: fmt.Sprintf("The SQL query failed with error: %s. Please correct the SQL and return the JSON object again.", execError),
	})

	raw, err := p.chat(ctx, messages, llm.GenerationParams{Temperature: llm.Temp(0)})
	if err != nil {
		*outcome = observability.OutcomeError
		return retryOutcome{}, datatypes.ChatResponse{
			Answer: "I had trouble fixing the query automatically.",
			Error:  err.Error(),
		}, true
	}

	genResp, err := datatypes.ParseSQLGenerationResponse(raw)
	if err != nil {
		*outcome = observability.OutcomeError
		return retryOutcome{}, datatypes.ChatResponse{
			Answer: "I had trouble fixing the query automatically.",
			Error:  "generation format error on retry",
		}, true
	}

	validation := sqlguard.Validate(genResp.SQLText())
	if !validation.Valid {
		*outcome = observability.OutcomeRejected
		return retryOutcome{}, datatypes.ChatResponse{
			Answer:  fmt.Sprintf("I couldn't generate a valid query even after retrying. Reason: %s", validation.Reason),
			SQLUsed: genResp.SQLText(),
		}, true
	}

	result := p.executeTimed(ctx, validation.CleanedSQL)
	if !result.Success {
		*outcome = observability.OutcomeError
		return retryOutcome{}, datatypes.ChatResponse{
			Answer:  fmt.Sprintf("I encountered a database error: %s", result.Error),
			SQLUsed: validation.CleanedSQL,
			Error:   result.Error,
		}, true
	}

	return retryOutcome{genResp: genResp, cleanedSQL: validation.CleanedSQL, result: result}, datatypes.ChatResponse{}, false
}

func (p *Pipeline) executeTimed(ctx context.Context, query string) warehouse.QueryResult {
	result := p.wh.Execute(ctx, query)
	p.metrics.RecordQueryDuration(result.ExecutionTimeMs / 1000)
	return result
}

// chat routes one generation call, tracking which model tier served it.
func (p *Pipeline) chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	if rc, ok := p.llm.(resultChatter); ok {
		res, err := rc.ChatWithResult(ctx, messages, params)
		if err != nil {
			p.metrics.RecordGenerationCall(callTier(res), "error")
			return "", err
		}
		p.metrics.RecordGenerationCall(callTier(res), "success")
		return res.Content, nil
	}

	content, err := p.llm.Chat(ctx, messages, params)
	if err != nil {
		p.metrics.RecordGenerationCall("primary", "error")
		return "", err
	}
	p.metrics.RecordGenerationCall("primary", "success")
	return content, nil
}

// callTier names the model tier a call result should be attributed to.
// A call that never got past the primary stays labelled primary.
func callTier(res *llm.CallResult) string {
	if res != nil && res.State != llm.AttemptPrimary {
		return "fallback"
	}
	return "primary"
}

// safeEnrich never lets a statistics failure kill the turn.
func safeEnrich(result warehouse.QueryResult, intent, sql string) (enrichment stats.Enrichment) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Stats enrichment skipped", "panic", r)
			enrichment = stats.Enrichment{}
		}
	}()
	if len(result.Rows) < 2 {
		return stats.Enrichment{}
	}
	return stats.Enrich(result.Rows, result.Columns, intent, sql)
}

// proactiveInsight surfaces at most one unprompted observation from the
// result's first row.
func proactiveInsight(result warehouse.QueryResult) string {
	if len(result.Rows) == 0 {
		return ""
	}
	first := result.Rows[0]

	for _, col := range result.Columns {
		if !strings.Contains(strings.ToLower(col), "fraud") {
			continue
		}
		if v, ok := asFloat(first[col]); ok && v > 5 {
			return fmt.Sprintf("Note: %v%% of these transactions are flagged for review. Would you like to investigate the pattern?", v)
		}
	}
	for _, col := range result.Columns {
		if !strings.Contains(strings.ToLower(col), "failure_rate") {
			continue
		}
		if v, ok := asFloat(first[col]); ok && v > 10 {
			return "High failure rate detected. Would you like to compare this against network type or device type?"
		}
	}
	return ""
}

// prepareChart maps the first two result columns onto chart axes.
func prepareChart(result warehouse.QueryResult, chartType string) *datatypes.ChartData {
	if len(result.Rows) == 0 || len(result.Columns) < 2 {
		return nil
	}
	if chartType == "" || chartType == "none" {
		chartType = "bar"
	}
	return &datatypes.ChartData{
		Type: chartType,
		Data: result.Rows,
		XKey: result.Columns[0],
		YKey: result.Columns[1],
	}
}

// classifyFailure maps an internal error's text onto a user-facing message.
// The original error stays in logs and in the response's error field.
func classifyFailure(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "unmarshal") || strings.Contains(lower, "json") || strings.Contains(lower, "parse"):
		return "I had trouble interpreting the model's response. Please try rephrasing your question."
	case strings.Contains(lower, "no such column") || strings.Contains(lower, "no such table") || strings.Contains(lower, "syntax"):
		return "I generated a query that doesn't match the dataset's schema. Please try rephrasing your question."
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return "The analysis took too long and timed out. Please try again or simplify your question."
	default:
		return "An unexpected error occurred while processing your request."
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
