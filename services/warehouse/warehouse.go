// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package warehouse is the analytical query engine behind the pipeline: an
// in-memory SQLite database holding the single transactions dataset.
//
// It executes validated read-only SQL, enforces a row cap, and exposes
// dataset-wide benchmark figures for narration prompts. It never sees
// unvalidated SQL; the sqlguard package is the safety boundary in front
// of it.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRowCap is appended as a LIMIT to queries that carry none.
const DefaultRowCap = 500

// QueryResult is the outcome of one query execution. Error text is carried
// as data rather than a Go error because a failed execution is a normal,
// retryable pipeline event.
type QueryResult struct {
	Success         bool             `json:"success"`
	Rows            []map[string]any `json:"data"`
	Columns         []string         `json:"columns"`
	RowCount        int              `json:"row_count"`
	Error           string           `json:"error,omitempty"`
	ExecutionTimeMs float64          `json:"execution_time_ms"`
}

// Profile holds the dataset-wide benchmark figures injected into narration
// and synthesis prompts.
type Profile struct {
	TotalRows        int               `json:"total_rows"`
	DateRange        map[string]string `json:"date_range"`
	SuccessRate      float64           `json:"success_rate"`
	FraudFlagRate    float64           `json:"fraud_flag_rate"`
	AvgAmountINR     float64           `json:"avg_amount_inr"`
	MaxAmountINR     int64             `json:"max_amount_inr"`
	MinAmountINR     int64             `json:"min_amount_inr"`
	TypeDistribution map[string]int64  `json:"transaction_type_distribution"`
	TopStates        []StateCount      `json:"top_5_states"`
	PeakHour         int               `json:"peak_hour"`
	DeviceDist       map[string]int64  `json:"device_distribution"`
	NetworkDist      map[string]int64  `json:"network_distribution"`
}

// StateCount is one row of the top-states breakdown.
type StateCount struct {
	State string `json:"state"`
	Count int64  `json:"count"`
}

// Warehouse wraps the SQLite handle and the precomputed profile. Read-only
// after Load; safe for concurrent use.
type Warehouse struct {
	db      *sql.DB
	rowCap  int
	profile Profile
}

// csvColumns maps raw CSV headers to the aliased column names the generated
// SQL must use.
var csvColumns = []struct {
	header string
	column string
	kind   string // "int" or "text"
}{
	{"transaction id", "transaction_id", "text"},
	{"timestamp", "timestamp", "text"},
	{"transaction type", "transaction_type", "text"},
	{"merchant_category", "merchant_category", "text"},
	{"amount (INR)", "amount_inr", "int"},
	{"transaction_status", "transaction_status", "text"},
	{"sender_age_group", "sender_age_group", "text"},
	{"receiver_age_group", "receiver_age_group", "text"},
	{"sender_state", "sender_state", "text"},
	{"sender_bank", "sender_bank", "text"},
	{"receiver_bank", "receiver_bank", "text"},
	{"device_type", "device_type", "text"},
	{"network_type", "network_type", "text"},
	{"fraud_flag", "fraud_flag", "int"},
	{"hour_of_day", "hour_of_day", "int"},
	{"day_of_week", "day_of_week", "text"},
	{"is_weekend", "is_weekend", "int"},
}

// New opens an in-memory warehouse and loads the transactions CSV into it.
func New(csvPath string, rowCap int) (*Warehouse, error) {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}

	// Shared cache keeps every pooled connection on the same in-memory DB.
	db, err := sql.Open("sqlite", "file:insightx_warehouse?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open warehouse database: %w", err)
	}
	db.SetMaxOpenConns(1)

	w := &Warehouse{db: db, rowCap: rowCap}
	if err := w.load(csvPath); err != nil {
		db.Close()
		return nil, err
	}
	if err := w.computeProfile(); err != nil {
		slog.Error("Failed to compute data profile", "error", err)
		// Not fatal: queries still work, benchmarks are just absent.
	}
	return w, nil
}

// Close releases the database handle.
func (w *Warehouse) Close() error { return w.db.Close() }

func (w *Warehouse) load(csvPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open transactions CSV: %w", err)
	}
	defer f.Close()

	var defs []string
	for _, c := range csvColumns {
		sqlType := "TEXT"
		if c.kind == "int" {
			sqlType = "INTEGER"
		}
		defs = append(defs, fmt.Sprintf("%s %s", c.column, sqlType))
	}
	if _, err := w.db.Exec("CREATE TABLE transactions (" + strings.Join(defs, ", ") + ")"); err != nil {
		return fmt.Errorf("create transactions table: %w", err)
	}

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read CSV header: %w", err)
	}

	// Map each target column to its index in the CSV, by header name.
	indexes := make([]int, len(csvColumns))
	for i, c := range csvColumns {
		indexes[i] = -1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), c.header) {
				indexes[i] = j
				break
			}
		}
		if indexes[i] == -1 {
			return fmt.Errorf("CSV is missing expected column %q", c.header)
		}
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin load transaction: %w", err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(csvColumns)), ",")
	stmt, err := tx.Prepare("INSERT INTO transactions VALUES (" + placeholders + ")")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var loaded int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("read CSV record: %w", err)
		}

		args := make([]any, len(csvColumns))
		for i, c := range csvColumns {
			raw := strings.TrimSpace(record[indexes[i]])
			if raw == "" {
				args[i] = nil
				continue
			}
			if c.kind == "int" {
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					args[i] = nil
					continue
				}
				args[i] = n
			} else {
				args[i] = raw
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert transaction row: %w", err)
		}
		loaded++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load transaction: %w", err)
	}

	slog.Info("Loaded transactions dataset", "path", csvPath, "rows", loaded)
	return nil
}

// Execute runs cleaned SQL and returns rows as field-to-value maps together
// with the column order. A LIMIT clause is appended when the query has none.
// Execution failures come back inside the result, not as a Go error.
func (w *Warehouse) Execute(ctx context.Context, query string) QueryResult {
	start := time.Now()

	query = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), ";"))
	if !strings.Contains(strings.ToUpper(query), "LIMIT") {
		query = fmt.Sprintf("%s LIMIT %d", query, w.rowCap)
	}

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("Query failed", "sql", query, "error", err)
		return QueryResult{Error: err.Error(), ExecutionTimeMs: msSince(start)}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResult{Error: err.Error(), ExecutionTimeMs: msSince(start)}
	}

	var data []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{Error: err.Error(), ExecutionTimeMs: msSince(start)}
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{Error: err.Error(), ExecutionTimeMs: msSince(start)}
	}

	return QueryResult{
		Success:         true,
		Rows:            data,
		Columns:         columns,
		RowCount:        len(data),
		ExecutionTimeMs: msSince(start),
	}
}

// Profile returns the precomputed dataset benchmarks.
func (w *Warehouse) Profile() Profile { return w.profile }

// SchemaDescription renders the table schema for the SQL-generation prompt.
func (w *Warehouse) SchemaDescription() string {
	return fmt.Sprintf(`Table name: transactions
Total rows: %d

Columns:
- transaction_id: STRING - unique identifier
- timestamp: STRING - transaction date and time
- transaction_type: STRING - values: P2P, P2M, Bill Payment, Recharge
- merchant_category: STRING (NULLABLE) - NULL for P2P transactions. Values: Food, Grocery, Fuel, Entertainment, Shopping, Healthcare, Education, Transport, Utilities, Other
- amount_inr: INTEGER - transaction amount in Indian Rupees
- transaction_status: STRING - values: SUCCESS, FAILED
- sender_age_group: STRING - values: 18-25, 26-35, 36-45, 46-55, 56+
- receiver_age_group: STRING (NULLABLE) - NULL for non-P2P transactions
- sender_state: STRING - Indian state name
- sender_bank: STRING - values: SBI, HDFC, ICICI, Axis, PNB, Kotak, IndusInd, Yes Bank
- receiver_bank: STRING - same values as sender_bank
- device_type: STRING - values: Android, iOS, Web
- network_type: STRING - values: 4G, 5G, WiFi, 3G
- fraud_flag: INTEGER - 0 = not flagged, 1 = flagged for review (NOT confirmed fraud)
- hour_of_day: INTEGER - 0 to 23, derived from timestamp
- day_of_week: STRING - Monday through Sunday
- is_weekend: INTEGER - 0 = weekday, 1 = weekend

Important query rules:
- Always filter merchant_category IS NOT NULL when querying P2M-specific metrics
- Always filter receiver_age_group IS NOT NULL for P2P-specific analysis
- fraud_flag = 1 means flagged for review, not confirmed fraud - phrase responses accordingly
- Use amount_inr not "amount (INR)" - columns are already aliased`, w.profile.TotalRows)
}

func (w *Warehouse) computeProfile() error {
	p := Profile{
		DateRange:        map[string]string{},
		TypeDistribution: map[string]int64{},
		DeviceDist:       map[string]int64{},
		NetworkDist:      map[string]int64{},
	}

	var total int64
	if err := w.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&total); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	p.TotalRows = int(total)

	var minDate, maxDate sql.NullString
	if err := w.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM transactions").Scan(&minDate, &maxDate); err != nil {
		return fmt.Errorf("date range: %w", err)
	}
	p.DateRange["min"] = minDate.String
	p.DateRange["max"] = maxDate.String

	if total > 0 {
		var successCount, fraudCount int64
		if err := w.db.QueryRow("SELECT COUNT(*) FROM transactions WHERE transaction_status = 'SUCCESS'").Scan(&successCount); err != nil {
			return fmt.Errorf("success count: %w", err)
		}
		if err := w.db.QueryRow("SELECT COUNT(*) FROM transactions WHERE fraud_flag = 1").Scan(&fraudCount); err != nil {
			return fmt.Errorf("fraud count: %w", err)
		}
		p.SuccessRate = float64(successCount) / float64(total) * 100
		p.FraudFlagRate = float64(fraudCount) / float64(total) * 100
	}

	var avg sql.NullFloat64
	var maxAmt, minAmt sql.NullInt64
	if err := w.db.QueryRow("SELECT AVG(amount_inr), MAX(amount_inr), MIN(amount_inr) FROM transactions").Scan(&avg, &maxAmt, &minAmt); err != nil {
		return fmt.Errorf("amount stats: %w", err)
	}
	p.AvgAmountINR = avg.Float64
	p.MaxAmountINR = maxAmt.Int64
	p.MinAmountINR = minAmt.Int64

	if err := w.scanDistribution("transaction_type", p.TypeDistribution); err != nil {
		return err
	}
	if err := w.scanDistribution("device_type", p.DeviceDist); err != nil {
		return err
	}
	if err := w.scanDistribution("network_type", p.NetworkDist); err != nil {
		return err
	}

	rows, err := w.db.Query("SELECT sender_state, COUNT(*) AS cnt FROM transactions GROUP BY sender_state ORDER BY cnt DESC LIMIT 5")
	if err != nil {
		return fmt.Errorf("top states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc StateCount
		if err := rows.Scan(&sc.State, &sc.Count); err != nil {
			return fmt.Errorf("scan state count: %w", err)
		}
		p.TopStates = append(p.TopStates, sc)
	}

	var peak sql.NullInt64
	if err := w.db.QueryRow("SELECT hour_of_day FROM transactions GROUP BY hour_of_day ORDER BY COUNT(*) DESC LIMIT 1").Scan(&peak); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("peak hour: %w", err)
	}
	p.PeakHour = int(peak.Int64)

	w.profile = p
	return nil
}

func (w *Warehouse) scanDistribution(column string, dest map[string]int64) error {
	rows, err := w.db.Query(fmt.Sprintf("SELECT %s, COUNT(*) FROM transactions GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("%s distribution: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key sql.NullString
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan %s distribution: %w", column, err)
		}
		if key.Valid {
			dest[key.String] = count
		}
	}
	return rows.Err()
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
