// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
)

// GenerationParams carries the optional sampling settings for one call.
// Nil fields mean "use the backend default". SQL generation runs at
// temperature 0; narration runs at a non-zero creativity setting.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}

// Temp returns a pointer to a temperature value, for building params inline.
func Temp(v float32) *float32 { return &v }
