// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlguard validates model-generated SQL before execution.
//
// This is the sole safety boundary between untrusted generation output and
// the analytical database. It guarantees read-only, schema-scoped queries;
// it does not guarantee the SQL is semantically correct.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryLength bounds a generated query in characters (after trimming).
const MaxQueryLength = 2000

// PermittedTable is the single relation queries may target.
const PermittedTable = "transactions"

// deniedKeywords covers schema/data mutation, execution, privilege, and
// engine-configuration verbs. Matched as whole words, case-insensitively,
// after whitespace normalization.
var deniedKeywords = []string{
	"create", "drop", "alter", "truncate",
	"insert", "update", "delete", "merge", "replace",
	"exec", "execute",
	"grant", "revoke",
	"attach", "detach", "pragma",
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	deniedPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(deniedKeywords, "|") + `)\b`)
)

// ValidationResult is the tri-state outcome of validation: either valid with
// cleaned SQL, or invalid with a human-readable reason. Never both.
type ValidationResult struct {
	Valid      bool
	CleanedSQL string
	Reason     string
}

// Validate checks that sql is a single read-only SELECT (or a CTE chain
// leading into one) against the permitted table, free of denied keywords.
// Checks run in order and the first failure short-circuits. On success the
// returned CleanedSQL has surrounding whitespace and trailing statement
// terminators stripped.
func Validate(sql string) ValidationResult {
	cleaned := strings.TrimSpace(sql)
	cleaned = strings.TrimRight(cleaned, "; \t\r\n")

	if cleaned == "" {
		return invalid("Query is empty.")
	}
	if len(cleaned) > MaxQueryLength {
		return invalid(fmt.Sprintf("Query exceeds maximum length of %d characters.", MaxQueryLength))
	}

	upper := strings.ToUpper(cleaned)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return invalid("Query must start with SELECT (or WITH for CTEs).")
	}
	if strings.HasPrefix(upper, "WITH") && !strings.Contains(upper, "SELECT") {
		return invalid("CTE query must lead into a SELECT.")
	}

	if !strings.Contains(upper, strings.ToUpper(PermittedTable)) {
		return invalid(fmt.Sprintf("Query must reference the '%s' table/view.", PermittedTable))
	}

	// Collapse whitespace runs so tabs/newlines cannot hide a denied keyword
	// from the whole-word match.
	normalized := whitespaceRun.ReplaceAllString(cleaned, " ")
	if m := deniedPattern.FindString(normalized); m != "" {
		return invalid(fmt.Sprintf("Query contains forbidden keyword: %s", strings.ToUpper(m)))
	}

	return ValidationResult{Valid: true, CleanedSQL: cleaned}
}

func invalid(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}
