// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlguard

import (
	"strings"
	"testing"
)

func TestValidate_AcceptsPlainSelect(t *testing.T) {
	result := Validate("SELECT sender_bank, COUNT(*) FROM transactions GROUP BY sender_bank")
	if !result.Valid {
		t.Fatalf("expected valid, got reason: %s", result.Reason)
	}
	if result.CleanedSQL == "" {
		t.Error("expected cleaned SQL to be returned")
	}
}

func TestValidate_StripsTrailingSemicolons(t *testing.T) {
	result := Validate("SELECT * FROM transactions;  \n")
	if !result.Valid {
		t.Fatalf("expected valid, got reason: %s", result.Reason)
	}
	if strings.Contains(result.CleanedSQL, ";") {
		t.Errorf("expected semicolons stripped, got %q", result.CleanedSQL)
	}
}

func TestValidate_AcceptsCTE(t *testing.T) {
	sql := "WITH by_bank AS (SELECT sender_bank, COUNT(*) AS cnt FROM transactions GROUP BY sender_bank) SELECT * FROM by_bank"
	result := Validate(sql)
	if !result.Valid {
		t.Fatalf("expected valid CTE, got reason: %s", result.Reason)
	}
}

func TestValidate_RejectsEmpty(t *testing.T) {
	for _, sql := range []string{"", "   ", ";;;"} {
		if result := Validate(sql); result.Valid {
			t.Errorf("expected %q to be rejected", sql)
		}
	}
}

func TestValidate_RejectsOversized(t *testing.T) {
	sql := "SELECT * FROM transactions WHERE sender_state IN (" + strings.Repeat("'Maharashtra',", 200) + "'Goa')"
	if len(sql) <= MaxQueryLength {
		t.Fatal("test query should exceed the length cap")
	}
	if result := Validate(sql); result.Valid {
		t.Error("expected oversized query to be rejected")
	}
}

func TestValidate_RejectsNonSelect(t *testing.T) {
	for _, sql := range []string{
		"INSERT INTO transactions VALUES (1)",
		"EXPLAIN SELECT * FROM transactions",
		"VACUUM",
	} {
		if result := Validate(sql); result.Valid {
			t.Errorf("expected %q to be rejected", sql)
		}
	}
}

func TestValidate_RejectsWrongTable(t *testing.T) {
	result := Validate("SELECT * FROM users")
	if result.Valid {
		t.Error("expected query against unknown table to be rejected")
	}
}

func TestValidate_RejectsDeniedKeywords(t *testing.T) {
	cases := []string{
		"SELECT * FROM transactions; DROP TABLE transactions",
		"SELECT * FROM transactions WHERE 1=1; DELETE FROM transactions",
		"SELECT * FROM transactions UNION SELECT * FROM transactions; PRAGMA foo",
		"select * from transactions; attach database 'x' as y",
	}
	for _, sql := range cases {
		if result := Validate(sql); result.Valid {
			t.Errorf("expected %q to be rejected", sql)
		}
	}
}

func TestValidate_WhitespaceObfuscationDoesNotHideKeywords(t *testing.T) {
	// Tabs and newlines between tokens must not defeat the keyword scan.
	sql := "SELECT * FROM transactions;\n\tDROP\n\tTABLE\ttransactions"
	if result := Validate(sql); result.Valid {
		t.Error("expected whitespace-obfuscated DROP to be rejected")
	}
}

func TestValidate_KeywordMatchIsWholeWord(t *testing.T) {
	// Column and value substrings that merely contain a denied keyword are fine.
	cases := []string{
		"SELECT updated_at FROM transactions",
		"SELECT * FROM transactions WHERE merchant_category = 'Grantville Updates'",
		"SELECT created_count FROM transactions",
	}
	for _, sql := range cases {
		result := Validate(sql)
		if !result.Valid {
			t.Errorf("expected %q to be accepted, got reason: %s", sql, result.Reason)
		}
	}
}

func TestValidate_CaseInsensitiveKeywords(t *testing.T) {
	if result := Validate("SELECT * FROM transactions; dRoP table transactions"); result.Valid {
		t.Error("expected mixed-case DROP to be rejected")
	}
}

func TestValidate_WithoutSelectInCTERejected(t *testing.T) {
	if result := Validate("WITH x AS (VALUES (1)) VALUES (2)"); result.Valid {
		t.Error("expected CTE without SELECT to be rejected")
	}
}
