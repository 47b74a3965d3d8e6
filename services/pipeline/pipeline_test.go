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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/insightx/services/llm"
	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	"github.com/AleutianAI/insightx/services/session"
	"github.com/AleutianAI/insightx/services/warehouse"
)

// ============================================================================
// Scripted generation backend
// ============================================================================

type llmStep struct {
	content string
	err     error
}

type capturedCall struct {
	messages []datatypes.Message
	params   llm.GenerationParams
}

// scriptedLLM plays back a fixed sequence of responses and records every
// call it receives.
type scriptedLLM struct {
	steps []llmStep
	calls []capturedCall
}

func (s *scriptedLLM) Chat(_ context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	s.calls = append(s.calls, capturedCall{messages: messages, params: params})
	if len(s.calls) > len(s.steps) {
		return "", context.Canceled
	}
	step := s.steps[len(s.calls)-1]
	return step.content, step.err
}

func (s *scriptedLLM) lastUserMessage(call int) string {
	msgs := s.calls[call].messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// ============================================================================
// Fixtures
// ============================================================================

const fixtureCSV = `transaction id,timestamp,transaction type,merchant_category,amount (INR),transaction_status,sender_age_group,receiver_age_group,sender_state,sender_bank,receiver_bank,device_type,network_type,fraud_flag,hour_of_day,day_of_week,is_weekend
TXN001,2024-01-01 09:15:00,P2P,,500,SUCCESS,26-35,18-25,Maharashtra,SBI,HDFC,Android,4G,0,9,Monday,0
TXN002,2024-01-02 22:40:00,P2M,Food,1200,SUCCESS,18-25,,Karnataka,HDFC,ICICI,iOS,5G,0,22,Tuesday,0
TXN003,2024-01-03 14:05:00,Recharge,,199,FAILED,36-45,,Maharashtra,SBI,SBI,Android,3G,1,14,Wednesday,0
TXN004,2024-01-06 11:30:00,Bill Payment,Utilities,2500,SUCCESS,46-55,,Delhi,ICICI,Axis,Web,WiFi,0,11,Saturday,1
TXN005,2024-01-07 23:55:00,P2P,,15000,FAILED,26-35,26-35,Maharashtra,HDFC,PNB,Android,4G,1,23,Sunday,1
`

const failureRateSQL = "SELECT sender_bank, SUM(CASE WHEN transaction_status = 'FAILED' THEN 1 ELSE 0 END) * 100.0 / COUNT(*) AS failure_rate FROM transactions GROUP BY sender_bank ORDER BY failure_rate DESC"

func genJSON(sql, intent string, extra string) string {
	out := `{"sql": "` + sql + `", "query_intent": "` + intent + `"`
	if extra != "" {
		out += ", " + extra
	}
	return out + "}"
}

func newTestPipeline(t *testing.T, steps []llmStep) (*Pipeline, *scriptedLLM, *session.Tracker) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transactions.csv")
	require.NoError(t, os.WriteFile(path, []byte(fixtureCSV), 0o644))
	wh, err := warehouse.New(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })

	client := &scriptedLLM{steps: steps}
	tracker := session.NewTracker()
	return New(client, wh, tracker, nil), client, tracker
}

// seedTurn makes the session look like it already completed one exchange.
func seedTurn(tracker *session.Tracker, id string, entities datatypes.EntityContext) {
	tracker.AddTurn(id, datatypes.Turn{
		Question:    "Show me all transactions from Maharashtra",
		Answer:      "There were 3 transactions from Maharashtra.",
		SQLUsed:     "SELECT * FROM transactions WHERE sender_state = 'Maharashtra'",
		Entities:    entities,
		QueryIntent: "Filtered lookup",
		Timestamp:   time.Now(),
	})
}

// ============================================================================
// Normal path
// ============================================================================

func TestProcess_NormalTurn(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: genJSON(failureRateSQL, "Failure rate by bank",
			`"requires_chart": true, "suggested_chart_type": "bar"`)},
		{content: "SBI and HDFC both fail 50% of the time."},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "What is the failure rate by bank?", sess.SessionID)

	assert.Empty(t, resp.Error)
	assert.Equal(t, "SBI and HDFC both fail 50% of the time.", resp.Answer)
	assert.Equal(t, failureRateSQL, resp.SQLUsed)
	assert.Equal(t, "Failure rate by bank", resp.QueryIntent)
	assert.Equal(t, sess.SessionID, resp.SessionID)

	require.NotNil(t, resp.Chart)
	assert.Equal(t, "bar", resp.Chart.Type)
	assert.Equal(t, "sender_bank", resp.Chart.XKey)
	assert.Equal(t, "failure_rate", resp.Chart.YKey)

	// 50% failure in the top row triggers the unprompted observation.
	assert.Contains(t, resp.ProactiveInsight, "High failure rate")

	require.Len(t, client.calls, 2)
	assert.Equal(t, float32(0), *client.calls[0].params.Temperature)
	assert.InDelta(t, 0.3, *client.calls[1].params.Temperature, 0.001)
	// Narration sees the verdict and benchmark blocks in order.
	narr := client.lastUserMessage(1)
	assert.Less(t, strings.Index(narr, "DATASET BENCHMARKS"), strings.Index(narr, "What is the failure rate by bank?"))

	assert.Equal(t, 1, tracker.GetContextForPrompt(sess.SessionID).TurnCount)
}

func TestProcess_FollowUpCarriesEntityContext(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: genJSON("SELECT transaction_id, amount_inr FROM transactions WHERE sender_state = 'Maharashtra'",
			"Filtered lookup", `"entities_extracted": {"states": ["Maharashtra"]}`)},
		{content: "There were 3 transactions from Maharashtra."},
		{content: genJSON("SELECT AVG(fraud_flag) * 100 AS fraud_rate FROM transactions WHERE sender_state = 'Maharashtra'",
			"Fraud rate", "")},
		{content: "Two of the three Maharashtra transactions are flagged."},
	})
	sess := tracker.Create()

	first := p.Process(context.Background(), "Show me all transactions from Maharashtra", sess.SessionID)
	require.Empty(t, first.Error)
	// First turn never includes an entity context block.
	assert.NotContains(t, client.lastUserMessage(0), "CONVERSATION CONTEXT")

	second := p.Process(context.Background(), "What is the fraud flag rate there?", sess.SessionID)
	require.Empty(t, second.Error)

	require.Len(t, client.calls, 4)
	prompt := client.lastUserMessage(2)
	assert.Contains(t, prompt, "CONVERSATION CONTEXT")
	assert.Contains(t, prompt, "Maharashtra")
	assert.Contains(t, prompt, "STRICT CONTEXT RULES")
}

func TestProcess_EmptyResult(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: genJSON("SELECT * FROM transactions WHERE sender_state = 'Kerala'", "Filtered lookup", "")},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "Show me all transactions from Kerala", sess.SessionID)

	assert.Equal(t, emptyResultAnswer, resp.Answer)
	assert.Contains(t, resp.SQLUsed, "Kerala")
	// The narrator is never consulted on an empty result.
	assert.Len(t, client.calls, 1)
	// The turn still lands in session history.
	assert.Equal(t, 1, tracker.GetContextForPrompt(sess.SessionID).TurnCount)
}

// ============================================================================
// Rejection and failure paths
// ============================================================================

func TestProcess_UnsafeSQLRejected(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: genJSON("DROP TABLE transactions", "Mischief", "")},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "Please remove everything from the dataset now", sess.SessionID)

	assert.Contains(t, resp.Answer, "I cannot execute that query safely")
	assert.Equal(t, "DROP TABLE transactions", resp.SQLUsed)
	assert.Len(t, client.calls, 1)
	assert.Zero(t, tracker.GetContextForPrompt(sess.SessionID).TurnCount)
}

func TestProcess_InvalidCombination(t *testing.T) {
	p, _, tracker := newTestPipeline(t, []llmStep{
		{content: `{"sql": null, "query_intent": "invalid_combination"}`},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "What is the merchant category distribution for P2P transactions?", sess.SessionID)

	assert.Equal(t, invalidComboAnswer, resp.Answer)
	assert.Empty(t, resp.SQLUsed)
}

func TestProcess_UnparseableGeneration(t *testing.T) {
	p, _, tracker := newTestPipeline(t, []llmStep{
		{content: "I think you should query the transactions table."},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "What is the failure rate by bank?", sess.SessionID)

	assert.Equal(t, parseErrorAnswer, resp.Answer)
	assert.NotEmpty(t, resp.Error)
}

func TestProcess_RetriesOnceAfterExecutionFailure(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: genJSON("SELECT bogus_col FROM transactions", "Failure rate by bank", "")},
		{content: genJSON(failureRateSQL, "Failure rate by bank", "")},
		{content: "SBI and HDFC both fail 50% of the time."},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "What is the failure rate by bank?", sess.SessionID)

	assert.Empty(t, resp.Error)
	assert.Equal(t, "SBI and HDFC both fail 50% of the time.", resp.Answer)
	assert.Equal(t, failureRateSQL, resp.SQLUsed)

	require.Len(t, client.calls, 3)
	retryPrompt := client.lastUserMessage(1)
	assert.Contains(t, retryPrompt, "The SQL query failed with error")
	assert.Contains(t, retryPrompt, "bogus_col")
}

func TestProcess_RetryAlsoFails(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: genJSON("SELECT bogus_col FROM transactions", "Failure rate by bank", "")},
		{content: genJSON("SELECT still_bogus FROM transactions", "Failure rate by bank", "")},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "What is the failure rate by bank?", sess.SessionID)

	assert.Contains(t, resp.Answer, "I encountered a database error")
	assert.NotEmpty(t, resp.Error)
	assert.Len(t, client.calls, 2)
}

func TestProcess_GenerationBackendDown(t *testing.T) {
	p, _, tracker := newTestPipeline(t, []llmStep{
		{err: context.DeadlineExceeded},
	})
	sess := tracker.Create()

	resp := p.Process(context.Background(), "What is the failure rate by bank?", sess.SessionID)

	assert.Contains(t, resp.Answer, "timed out")
	assert.NotEmpty(t, resp.Error)
}

func TestCallTier(t *testing.T) {
	assert.Equal(t, "primary", callTier(nil))
	assert.Equal(t, "primary", callTier(&llm.CallResult{State: llm.AttemptPrimary}))
	assert.Equal(t, "fallback", callTier(&llm.CallResult{State: llm.AttemptFallback}))
	// Both tiers failed; the fallback made the last attempt.
	assert.Equal(t, "fallback", callTier(&llm.CallResult{State: llm.AttemptFailed}))
}

// ============================================================================
// Short-circuit paths
// ============================================================================

func TestProcess_Greeting(t *testing.T) {
	p, client, tracker := newTestPipeline(t, nil)
	sess := tracker.Create()

	resp := p.Process(context.Background(), "hello", sess.SessionID)

	assert.Contains(t, resp.Answer, "InsightX")
	assert.Equal(t, "Small talk", resp.QueryIntent)
	assert.Empty(t, client.calls)
	assert.Zero(t, tracker.GetContextForPrompt(sess.SessionID).TurnCount)
}

func TestProcess_AmbiguousFirstTurn(t *testing.T) {
	p, client, tracker := newTestPipeline(t, nil)
	sess := tracker.Create()

	resp := p.Process(context.Background(), "show me them", sess.SessionID)

	assert.True(t, resp.IsClarification)
	assert.Equal(t, clarificationAnswer, resp.Answer)
	assert.Empty(t, client.calls)
}

func TestProcess_PronounOnLaterTurnIsNotAmbiguous(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: genJSON("SELECT COUNT(*) AS cnt, SUM(amount_inr) AS total FROM transactions WHERE sender_state = 'Maharashtra'",
			"Aggregate", "")},
		{content: "3 transactions totalling 15,699 rupees."},
	})
	sess := tracker.Create()
	seedTurn(tracker, sess.SessionID, datatypes.EntityContext{States: []string{"Maharashtra"}})

	resp := p.Process(context.Background(), "how much money moved through them in total", sess.SessionID)

	assert.False(t, resp.IsClarification)
	assert.Empty(t, resp.Error)
	require.Len(t, client.calls, 2)
	assert.Contains(t, client.lastUserMessage(0), "CONVERSATION CONTEXT")
}

// ============================================================================
// Compound path
// ============================================================================

func TestProcess_CompoundQuestion(t *testing.T) {
	androidSQL := "SELECT COUNT(*) AS cnt, SUM(CASE WHEN transaction_status = 'FAILED' THEN 1 ELSE 0 END) * 100.0 / COUNT(*) AS failure_rate FROM transactions WHERE device_type = 'Android'"
	iosSQL := "SELECT COUNT(*) AS cnt, SUM(CASE WHEN transaction_status = 'FAILED' THEN 1 ELSE 0 END) * 100.0 / COUNT(*) AS failure_rate FROM transactions WHERE device_type = 'iOS'"

	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: `["What is the failure rate for Android devices?", "What is the failure rate for iOS devices?"]`},
		{content: genJSON(androidSQL, "Android failure rate", "")},
		{content: "Android transactions fail 66.7% of the time."},
		{content: genJSON(iosSQL, "iOS failure rate", "")},
		{content: "iOS transactions never fail in this dataset."},
		{content: "Android fails far more often than iOS: 66.7% versus 0%."},
	})
	sess := tracker.Create()
	seedTurn(tracker, sess.SessionID, datatypes.EntityContext{})

	resp := p.Process(context.Background(), "Compare failure rates between Android and iOS", sess.SessionID)

	assert.Equal(t, "Android fails far more often than iOS: 66.7% versus 0%.", resp.Answer)
	assert.Contains(t, resp.SQLUsed, " | THEN | ")
	assert.Contains(t, resp.SQLUsed, "Android")
	assert.Contains(t, resp.SQLUsed, "iOS")
	assert.Equal(t, "Multi-step analysis: Compare failure rates between Android and iOS", resp.QueryIntent)
	assert.Equal(t, sess.SessionID, resp.SessionID)
	assert.Len(t, client.calls, 6)

	// The throwaway sub-question session is gone.
	assert.Len(t, tracker.List(), 1)
}

func TestProcess_CompoundDecompositionFailureFallsBack(t *testing.T) {
	p, client, tracker := newTestPipeline(t, []llmStep{
		{content: "not a json array"},
		{content: genJSON(failureRateSQL, "Failure rate by bank", "")},
		{content: "SBI and HDFC both fail 50% of the time."},
	})
	sess := tracker.Create()
	seedTurn(tracker, sess.SessionID, datatypes.EntityContext{})

	resp := p.Process(context.Background(), "Compare failure rates between Android and iOS", sess.SessionID)

	// Decomposition failed, so the question is handled as a single query.
	assert.Equal(t, "SBI and HDFC both fail 50% of the time.", resp.Answer)
	assert.Len(t, client.calls, 3)
}
