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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	"github.com/AleutianAI/insightx/services/stats"
	"github.com/AleutianAI/insightx/services/warehouse"
)

const maxHistoryMessages = 8 // 4 exchanges flattened to user/assistant pairs

// shouldIncludeContext decides whether the entity tracker goes into the
// SQL-generation prompt. Including it on unrelated questions leaks stale
// filters into fresh queries, so it is injected only past turn 1 when the
// question actually refers back: a context pronoun, or a tracked value
// re-mentioned verbatim.
func shouldIncludeContext(question string, entities datatypes.EntityContext, turnCount int) bool {
	if turnCount == 0 || entities.IsEmpty() {
		return false
	}
	lower := strings.ToLower(question)
	for _, tok := range strings.Fields(lower) {
		word := strings.Trim(tok, ".,!?;:'\"")
		if _, ok := contextPronouns[word]; ok {
			return true
		}
	}
	for _, ref := range []string{"same", "there", "similar"} {
		if strings.Contains(lower, ref) {
			return true
		}
	}
	for _, val := range entities.Values() {
		if val != "" && strings.Contains(lower, strings.ToLower(val)) {
			return true
		}
	}
	return false
}

func buildSQLGenerationPrompt(schema, question string, recent []datatypes.Message, entities datatypes.EntityContext, includeContext bool) []datatypes.Message {
	systemContent := fmt.Sprintf(`You are an expert data analyst for a UPI digital payments platform in India.
Your job is to convert natural language questions into precise SQLite SQL queries.

%s

CRITICAL SQL RULES - follow these exactly:
1. Only write SELECT statements. Never write INSERT, UPDATE, DELETE, DROP, or any mutating SQL.
2. Always use the aliased column names (amount_inr, transaction_type, etc.) - never the raw CSV names.
3. When calculating failure rate: SUM(CASE WHEN transaction_status = 'FAILED' THEN 1.0 ELSE 0 END) / COUNT(*) * 100
4. When querying merchant-specific data, always add: WHERE merchant_category IS NOT NULL
5. When querying P2P receiver age, always add: WHERE receiver_age_group IS NOT NULL
6. For percentage calculations, always multiply by 100.0 (not 100) to avoid integer division.
7. Always include ORDER BY for ranking/top-N queries.
8. Limit results to 20 rows maximum unless the user asks for all data.
9. Round decimal results to 2 decimal places using ROUND(value, 2).
10. fraud_flag = 1 means flagged for review, NOT confirmed fraud.
11. If the question asks for a combination that cannot exist in this schema (for example merchant categories of P2P transactions), return "sql": null and "query_intent": "invalid_combination".

RESPONSE FORMAT - Critical:
Respond with ONLY a valid JSON object. No explanation, no markdown, no code blocks.
Format:
{
  "sql": "SELECT ... FROM transactions ...",
  "query_intent": "one sentence describing what this query computes",
  "entities_extracted": {
    "transaction_types": [],
    "states": [],
    "age_groups": [],
    "time_filters": {},
    "metric": ""
  },
  "requires_chart": true/false,
  "suggested_chart_type": "bar|line|pie|none"
}
IMPORTANT: In entities_extracted, always populate the relevant lists with the actual values you used in your SQL WHERE clauses. If you filtered by sender_state IN ('Maharashtra'), then states must be ['Maharashtra']. This is mandatory.`, schema)

	messages := []datatypes.Message{{Role: "system", Content: systemContent}}

	if len(recent) > maxHistoryMessages {
		recent = recent[len(recent)-maxHistoryMessages:]
	}
	messages = append(messages, recent...)

	var user strings.Builder
	if includeContext {
		contextJSON, _ := json.MarshalIndent(entities, "", "  ")
		fmt.Fprintf(&user, `CONVERSATION CONTEXT (use this to resolve pronouns and references):
%s

STRICT CONTEXT RULES - follow these without exception:
1. If the question contains ANY of these words: "those", "them", "that", "these", "same", "there", "similar" - you MUST filter using the exact entities from the context above. Do not broaden the scope.
2. If context has states: ['Maharashtra'] and user says "those states" - generate SQL with WHERE sender_state IN ('Maharashtra'). Not all states.
3. If context has transaction_types: ['Recharge'] and user says "those transactions" - generate SQL with WHERE transaction_type = 'Recharge'. Not all types.
4. If context has a last_hour: 22 and user says "that time" or "those hours" - generate SQL with WHERE hour_of_day = 22.
5. If context has last_category: 'Food' and user says "that category" - generate SQL with WHERE merchant_category = 'Food'.
6. NEVER broaden a follow-up question to all values when the context has specific values. Specific context = specific SQL filter. Always.
7. If a pronoun reference is unclear even with context, pick the most recently mentioned entity - do not ignore context entirely.
8. CROSS-COMPARISON Rule: If the user asks to "compare" or "versus" the context entity with a new entity, you MUST include BOTH in the filter.
   Example: Context has transaction_types=['Recharge'], User asks "Compare with Bill Payment" -> SQL must use: WHERE transaction_type IN ('Recharge', 'Bill Payment').
   Do not overwrite the context entity; ADD the new entity to it.

`, string(contextJSON))
	}

	user.WriteString("RECENT CONVERSATION:\n")
	for _, msg := range recent {
		fmt.Fprintf(&user, "%s: %s\n", strings.ToUpper(msg.Role), msg.Content)
	}
	fmt.Fprintf(&user, "\nQuestion: %s\n", question)
	user.WriteString("Generate the SQL query to answer this.")
	if includeContext {
		user.WriteString(" Apply the STRICT CONTEXT RULES above before writing any SQL.")
	}

	return append(messages, datatypes.Message{Role: "user", Content: user.String()})
}

const narrationSystemPrompt = `You are InsightX, an expert business intelligence analyst for a UPI payments platform.
You explain data insights clearly to non-technical business leaders.
Your tone is professional, direct, and insightful, like a consultant presenting findings.
Always lead with the most important number or finding.
Never say "the data shows" or "based on the query" - just state the insight directly.
Never mention SQL, databases, or technical implementation.
Always phrase fraud_flag insights as "flagged for review" not "confirmed fraud".
Keep responses under 150 words unless the data genuinely requires more detail.
Always refer to monetary amounts in Indian Rupees using the ₹ symbol. Never use $ or USD.

BUSINESS INTELLIGENCE REQUIREMENTS - apply to every response:

1. BENCHMARKING: After stating a metric, always compare it to the overall dataset average.
   Never state a number in isolation - always give it context.

2. STATISTICAL VERDICT: If a STATISTICAL VERDICT block is present below, quote its
   conclusion rather than inventing your own significance assessment. If it says no
   anomaly was detected, do NOT describe any value as an outlier or anomaly.

3. STANDARD DEVIATION LANGUAGE: Use business language like "significantly above average",
   "notable outlier", or "well within normal range" - not raw statistical jargon.

4. TREND DIRECTION: If the data has a time component (hour, day, weekend), always
   comment on the direction - is the metric rising, falling, or stable across the range?

5. BUSINESS IMPLICATION: End every response with one concrete business implication.
   Format: "Business Implication: [one actionable sentence for a decision-maker]"

6. MAGNITUDE AWARENESS: Always describe numbers in human terms alongside raw figures.

CRITICAL: You are narrating ONLY from the data provided to you. Never invent
benchmarks or averages that aren't in the data. If you cannot compute a comparison
from the provided result, state the metric plainly without fabricating context.`

// buildNarrationPrompt assembles the second generation pass. The statistical
// verdict block is placed before the raw rows so its constraints are read
// before any numbers are.
func buildNarrationPrompt(question, intent string, result warehouse.QueryResult, enrichment stats.Enrichment, profile warehouse.Profile) []datatypes.Message {
	var user strings.Builder

	if !enrichment.IsEmpty() {
		user.WriteString("STATISTICAL VERDICT (quote this assessment, do not contradict it):\n")
		if enrichment.ZScore != nil {
			user.WriteString(stats.Verdict(enrichment.ZScore))
			user.WriteString("\n")
		}
		if enrichment.Trend != nil {
			fmt.Fprintf(&user, "Trend: the metric is %s across the range (%.2f%% total change).\n",
				enrichment.Trend.Direction, enrichment.Trend.TotalChangePct)
		}
		if enrichment.CorrelationNote != "" {
			user.WriteString(enrichment.CorrelationNote)
			user.WriteString("\n")
		}
		user.WriteString("\n")
	}

	fmt.Fprintf(&user, `DATASET BENCHMARKS (use these for comparison):
- Overall success rate: %.2f%%
- Overall fraud flag rate: %.2f%%
- Average transaction amount: ₹%.2f
- Total transactions: %d
- Peak hour: %d

`, profile.SuccessRate, profile.FraudFlagRate, profile.AvgAmountINR, profile.TotalRows, profile.PeakHour)

	rowsJSON, _ := json.MarshalIndent(result.Rows, "", "  ")
	fmt.Fprintf(&user, `Question asked: %s
What was computed: %s
Data returned:
%s
Total rows: %d

Provide a clear business insight answer. Include specific numbers from the data.
Suggest what this means for business decisions where relevant.`, question, intent, string(rowsJSON), result.RowCount)

	return []datatypes.Message{
		{Role: "system", Content: narrationSystemPrompt},
		{Role: "user", Content: user.String()},
	}
}

func buildDecompositionPrompt(question string) []datatypes.Message {
	content := fmt.Sprintf(`You are decomposing a compound analytics question into sequential sub-questions.
Each sub-question must be answerable independently with a single SQL query.
The answer to an earlier sub-question may be needed as context for a later one.

Compound question: "%s"

Respond with ONLY a JSON array of strings. Maximum 3 sub-questions.
Example: ["Which age group has the highest volume?", "What is the failure rate for that age group?"]
Keep each sub-question focused and specific.`, question)
	return []datatypes.Message{{Role: "system", Content: content}}
}

func buildSynthesisPrompt(originalQuestion string, results []string, profile warehouse.Profile) []datatypes.Message {
	benchmarks := fmt.Sprintf(`
BUSINESS INTELLIGENCE REQUIREMENTS:
Your response must follow this exact structure:
1. Executive Summary: [2-3 sentences synthesizing all findings]
2. Key Metrics: [bullet points of the actual numbers found]
3. Benchmark Comparison: [compare key metrics to dataset averages provided below]
4. Business Implication: [one actionable sentence for a decision-maker]

Dataset benchmarks for comparison:
- Overall success rate: %.2f%%
- Overall fraud flag rate: %.2f%%
- Average transaction amount: ₹%.2f
`, profile.SuccessRate, profile.FraudFlagRate, profile.AvgAmountINR)

	content := fmt.Sprintf("Combine these sequential analysis results into one executive summary answering the original question: '%s'.\n\nResults:\n%s\n\n%s",
		originalQuestion, strings.Join(results, "\n\n"), benchmarks)
	return []datatypes.Message{{Role: "user", Content: content}}
}
