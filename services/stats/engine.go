// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats computes statistical enrichment on query results.
//
// Enrichment runs after query execution and before narration. It is pure
// computation: it never calls external services and never mutates its input.
// The verdict it produces is designed to be quoted verbatim by the narration
// step, so the narrator cannot invent significance claims the data does not
// support.
package stats

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// AnomalyThreshold is the |z| cutoff for flagging a row as an outlier.
const AnomalyThreshold = 2.0

// ScoredValue is one labelled row with its z-score.
type ScoredValue struct {
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
	ZScore float64 `json:"z_score"`
	// Direction is "above" or "below" the mean; set on anomalies only.
	Direction string `json:"direction,omitempty"`
}

// ZScoreSummary describes the distribution of the first numeric column.
type ZScoreSummary struct {
	Mean         float64       `json:"mean"`
	StdDev       float64       `json:"std_dev"`
	Highest      *ScoredValue  `json:"highest"`
	Lowest       *ScoredValue  `json:"lowest"`
	Anomalies    []ScoredValue `json:"anomalies"`
	AnomalyCount int           `json:"anomaly_count"`
}

// TrendSummary describes an ordinary-least-squares fit of the numeric column
// against row index for time-bucketed results.
type TrendSummary struct {
	Slope            float64 `json:"slope"`
	Direction        string  `json:"direction"`
	Magnitude        string  `json:"magnitude"`
	PctChangePerUnit float64 `json:"pct_change_per_unit"`
	FirstValue       float64 `json:"first_value"`
	LastValue        float64 `json:"last_value"`
	TotalChangePct   float64 `json:"total_change_pct"`
}

// Enrichment holds the optional statistical facts for one result set.
// A nil field means "not computed", never "computed as zero".
type Enrichment struct {
	ZScore          *ZScoreSummary `json:"zscore,omitempty"`
	Trend           *TrendSummary  `json:"trend,omitempty"`
	CorrelationNote string         `json:"correlation_note,omitempty"`
}

// IsEmpty reports whether nothing was computed.
func (e Enrichment) IsEmpty() bool {
	return e.ZScore == nil && e.Trend == nil && e.CorrelationNote == ""
}

var timeIndicators = []string{"hour_of_day", "day_of_week", "hour", "day", "month"}

var correlationKeywords = []string{
	"relationship", "correlation", "related", "associated", "impact", "affect", "influence",
}

const correlationNote = "Values shown are group-level aggregates. " +
	"Interpret directional differences as indicative associations. " +
	"Statistical significance requires larger variation than observed here."

// Enrich computes the available enrichment facts for rows. It is best-effort:
// fewer than 2 rows, a shape it cannot work with, or any internal failure all
// produce an empty Enrichment, never an error up to the pipeline.
//
// The first numeric column and first string column of the first row define
// the value and label axes; the first row's shape is assumed representative.
// columns carries the result's column order, which Go maps do not preserve.
func Enrich(rows []map[string]any, columns []string, queryIntent, sql string) Enrichment {
	var enrichment Enrichment
	if len(rows) < 2 {
		return enrichment
	}

	valueCol, labelCol := detectColumns(rows[0], columns)
	if valueCol == "" {
		return enrichment
	}

	if len(rows) >= 3 {
		enrichment.ZScore = computeZScores(rows, valueCol, labelCol)
	}

	if isTimeQuery(sql) && len(rows) >= 4 {
		enrichment.Trend = computeTrend(rows, valueCol)
	}

	if isCorrelationIntent(queryIntent) && len(rows) >= 3 {
		enrichment.CorrelationNote = correlationNote
	}

	return enrichment
}

// Verdict renders the z-score summary as a deterministic plain-English
// statement of statistical significance. It is injected into the narration
// prompt as a fact to repeat, not an instruction to follow.
func Verdict(z *ZScoreSummary) string {
	if z == nil || z.Highest == nil {
		return ""
	}

	if len(z.Anomalies) > 0 {
		a := z.Anomalies[0]
		return fmt.Sprintf(
			"VERIFIED STATISTICAL ANOMALY: %s with value %v is %v standard deviations %s the mean (%v ± %v). "+
				"This IS a statistically significant outlier (z > 2.0).",
			a.Label, a.Value, math.Abs(a.ZScore), a.Direction, z.Mean, z.StdDev)
	}

	h := z.Highest
	return fmt.Sprintf(
		"NO STATISTICAL ANOMALY DETECTED. %s has the highest value at %v (z-score: %v), "+
			"which is only %v standard deviations from the mean. "+
			"This does not qualify as a statistical anomaly (threshold: z > 2.0). "+
			"It is merely the highest value in a uniform distribution.",
		h.Label, h.Value, h.ZScore, math.Abs(h.ZScore))
}

func detectColumns(first map[string]any, columns []string) (valueCol, labelCol string) {
	// Walk columns in result order when available; map iteration order would
	// make "first numeric column" nondeterministic.
	if len(columns) == 0 {
		for k := range first {
			columns = append(columns, k)
		}
	}
	for _, k := range columns {
		v, ok := first[k]
		if !ok {
			continue
		}
		if valueCol == "" && isNumeric(v) {
			valueCol = k
		}
		if labelCol == "" {
			if _, ok := v.(string); ok {
				labelCol = k
			}
		}
	}
	return valueCol, labelCol
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func computeZScores(rows []map[string]any, valueCol, labelCol string) *ZScoreSummary {
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		if f, ok := toFloat(row[valueCol]); ok {
			values = append(values, f)
		}
	}
	if len(values) < 3 {
		return nil
	}

	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	std := math.Sqrt(variance)

	// An all-equal distribution has no meaningful outliers.
	if std < 1e-9 {
		slog.Debug("Skipping z-score summary for degenerate variance", "column", valueCol)
		return nil
	}

	summary := &ZScoreSummary{Mean: round4(mean), StdDev: round4(std)}
	highestZ := math.Inf(-1)
	lowestZ := math.Inf(1)

	for _, row := range rows {
		val, ok := toFloat(row[valueCol])
		if !ok {
			continue
		}
		z := (val - mean) / std
		label := rowLabel(row, labelCol)

		if z > highestZ {
			highestZ = z
			summary.Highest = &ScoredValue{Label: label, Value: round4(val), ZScore: round2(z)}
		}
		if z < lowestZ {
			lowestZ = z
			summary.Lowest = &ScoredValue{Label: label, Value: round4(val), ZScore: round2(z)}
		}
		if math.Abs(round2(z)) >= AnomalyThreshold {
			direction := "above"
			if z < 0 {
				direction = "below"
			}
			summary.Anomalies = append(summary.Anomalies, ScoredValue{
				Label:     label,
				Value:     round4(val),
				ZScore:    round2(z),
				Direction: direction,
			})
		}
	}
	summary.AnomalyCount = len(summary.Anomalies)
	return summary
}

func computeTrend(rows []map[string]any, valueCol string) *TrendSummary {
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		if f, ok := toFloat(row[valueCol]); ok {
			values = append(values, f)
		}
	}
	n := len(values)
	if n < 4 {
		return nil
	}

	xMean := float64(n-1) / 2
	var yMean float64
	for _, v := range values {
		yMean += v
	}
	yMean /= float64(n)

	var numerator, denominator float64
	for i, v := range values {
		dx := float64(i) - xMean
		numerator += dx * (v - yMean)
		denominator += dx * dx
	}
	if denominator < 1e-9 {
		return nil
	}

	slope := numerator / denominator
	var pctPerUnit float64
	if yMean != 0 {
		pctPerUnit = slope / yMean * 100
	}
	var totalPct float64
	if values[0] != 0 {
		totalPct = (values[n-1] - values[0]) / values[0] * 100
	}

	direction := "increasing"
	if slope < 0 {
		direction = "decreasing"
	}
	magnitude := "relatively stable"
	switch {
	case math.Abs(pctPerUnit) > 10:
		magnitude = "sharply"
	case math.Abs(pctPerUnit) > 2:
		magnitude = "gradually"
	}

	return &TrendSummary{
		Slope:            round6(slope),
		Direction:        direction,
		Magnitude:        magnitude,
		PctChangePerUnit: round2(pctPerUnit),
		FirstValue:       round4(values[0]),
		LastValue:        round4(values[n-1]),
		TotalChangePct:   round2(totalPct),
	}
}

func isTimeQuery(sql string) bool {
	lower := strings.ToLower(sql)
	for _, t := range timeIndicators {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func isCorrelationIntent(intent string) bool {
	lower := strings.ToLower(intent)
	for _, k := range correlationKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func rowLabel(row map[string]any, labelCol string) string {
	if labelCol == "" {
		return "Unknown"
	}
	v, ok := row[labelCol]
	if !ok || v == nil {
		return "Unknown"
	}
	if s, isStr := v.(string); isStr {
		return s
	}
	// Numeric grouping labels (hour_of_day and the like) still name the row.
	return fmt.Sprint(v)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round6(v float64) float64 { return math.Round(v*1000000) / 1000000 }
