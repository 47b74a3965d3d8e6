// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureHeader = "transaction id,timestamp,transaction type,merchant_category,amount (INR),transaction_status,sender_age_group,receiver_age_group,sender_state,sender_bank,receiver_bank,device_type,network_type,fraud_flag,hour_of_day,day_of_week,is_weekend"

var fixtureRows = []string{
	"TXN001,2024-01-01 09:15:00,P2P,,500,SUCCESS,26-35,18-25,Maharashtra,SBI,HDFC,Android,4G,0,9,Monday,0",
	"TXN002,2024-01-02 22:40:00,P2M,Food,1200,SUCCESS,18-25,,Karnataka,HDFC,ICICI,iOS,5G,0,22,Tuesday,0",
	"TXN003,2024-01-03 14:05:00,Recharge,,199,FAILED,36-45,,Maharashtra,SBI,SBI,Android,3G,1,14,Wednesday,0",
	"TXN004,2024-01-06 11:30:00,Bill Payment,Utilities,2500,SUCCESS,46-55,,Delhi,ICICI,Axis,Web,WiFi,0,11,Saturday,1",
	"TXN005,2024-01-07 23:55:00,P2P,,15000,FAILED,26-35,26-35,Maharashtra,HDFC,PNB,Android,4G,1,23,Sunday,1",
}

func writeFixtureCSV(t *testing.T, rows []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transactions.csv")
	content := fixtureHeader + "\n" + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	wh, err := New(writeFixtureCSV(t, fixtureRows), 0)
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })
	return wh
}

func TestNew_MissingCSV(t *testing.T) {
	_, err := New("/nonexistent/transactions.csv", 0)
	assert.Error(t, err)
}

func TestNew_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("foo,bar\n1,2\n"), 0o644))
	_, err := New(path, 0)
	assert.Error(t, err)
}

func TestExecute_ReturnsRowsWithColumnOrder(t *testing.T) {
	wh := newTestWarehouse(t)

	result := wh.Execute(context.Background(),
		"SELECT sender_state, COUNT(*) AS cnt FROM transactions GROUP BY sender_state ORDER BY cnt DESC")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"sender_state", "cnt"}, result.Columns)
	require.Equal(t, 3, result.RowCount)
	assert.Equal(t, "Maharashtra", result.Rows[0]["sender_state"])
	assert.EqualValues(t, 3, result.Rows[0]["cnt"])
	assert.Greater(t, result.ExecutionTimeMs, 0.0)
}

func TestExecute_AppendsRowCap(t *testing.T) {
	path := writeFixtureCSV(t, fixtureRows)
	wh, err := New(path, 2)
	require.NoError(t, err)
	defer wh.Close()

	result := wh.Execute(context.Background(), "SELECT transaction_id FROM transactions")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.RowCount)

	// An explicit LIMIT wins over the cap.
	result = wh.Execute(context.Background(), "SELECT transaction_id FROM transactions LIMIT 4")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 4, result.RowCount)
}

func TestExecute_StripsTrailingSemicolon(t *testing.T) {
	wh := newTestWarehouse(t)
	result := wh.Execute(context.Background(), "SELECT COUNT(*) AS n FROM transactions;")
	require.True(t, result.Success, result.Error)
	assert.EqualValues(t, 5, result.Rows[0]["n"])
}

func TestExecute_FailureComesBackInResult(t *testing.T) {
	wh := newTestWarehouse(t)
	result := wh.Execute(context.Background(), "SELECT no_such_column FROM transactions")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no_such_column")
	assert.Zero(t, result.RowCount)
}

func TestExecute_NullableColumnsComeBackAsNil(t *testing.T) {
	wh := newTestWarehouse(t)
	result := wh.Execute(context.Background(),
		"SELECT merchant_category FROM transactions WHERE transaction_type = 'P2P' LIMIT 1")
	require.True(t, result.Success, result.Error)
	assert.Nil(t, result.Rows[0]["merchant_category"])
}

func TestProfile_Benchmarks(t *testing.T) {
	wh := newTestWarehouse(t)
	p := wh.Profile()

	assert.Equal(t, 5, p.TotalRows)
	assert.InDelta(t, 60.0, p.SuccessRate, 0.001)  // 3 of 5
	assert.InDelta(t, 40.0, p.FraudFlagRate, 0.001) // 2 of 5
	assert.EqualValues(t, 15000, p.MaxAmountINR)
	assert.EqualValues(t, 199, p.MinAmountINR)
	assert.InDelta(t, 3879.8, p.AvgAmountINR, 0.001)
	assert.Equal(t, int64(2), p.TypeDistribution["P2P"])
	require.NotEmpty(t, p.TopStates)
	assert.Equal(t, "Maharashtra", p.TopStates[0].State)
	assert.EqualValues(t, 3, p.TopStates[0].Count)
	assert.Equal(t, int64(3), p.DeviceDist["Android"])
	assert.Equal(t, "2024-01-01 09:15:00", p.DateRange["min"])
	assert.Equal(t, "2024-01-07 23:55:00", p.DateRange["max"])
}

func TestSchemaDescription(t *testing.T) {
	wh := newTestWarehouse(t)
	schema := wh.SchemaDescription()
	assert.Contains(t, schema, "Table name: transactions")
	assert.Contains(t, schema, "amount_inr")
	assert.Contains(t, schema, "fraud_flag")
	assert.Contains(t, schema, "Total rows: 5")
}
