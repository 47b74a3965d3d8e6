// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
)

// AttemptState names where a failover call ended up. The two-tier retry
// policy is an explicit transition table (Primary -> Fallback -> Failed)
// rather than nested error handlers, so it can be asserted in tests.
type AttemptState int

const (
	AttemptPrimary AttemptState = iota
	AttemptFallback
	AttemptFailed
)

// String implements fmt.Stringer.
func (s AttemptState) String() string {
	switch s {
	case AttemptPrimary:
		return "primary"
	case AttemptFallback:
		return "fallback"
	case AttemptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CallResult describes one completed failover call: the content returned,
// which tier produced it, and how many attempts were spent.
type CallResult struct {
	Content  string
	State    AttemptState
	Attempts int
}

// FailoverClient wraps a primary and a fallback LLMClient. Every call first
// goes to the primary; on any failure, including timeout, the same request is
// retried exactly once against the fallback. Failure of both propagates to
// the caller. Each attempt gets its own timeout so a hung primary
// still leaves time for the fallback.
type FailoverClient struct {
	primary     LLMClient
	fallback    LLMClient
	callTimeout time.Duration
}

// DefaultCallTimeout bounds a single model call.
const DefaultCallTimeout = 60 * time.Second

// NewFailoverClient creates a FailoverClient. A zero timeout selects
// DefaultCallTimeout.
func NewFailoverClient(primary, fallback LLMClient, callTimeout time.Duration) *FailoverClient {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &FailoverClient{
		primary:     primary,
		fallback:    fallback,
		callTimeout: callTimeout,
	}
}

// Chat implements the LLMClient interface via ChatWithResult.
func (f *FailoverClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	res, err := f.ChatWithResult(ctx, messages, params)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// ChatWithResult runs the Primary -> Fallback -> Failed transition table and
// reports which tier answered.
func (f *FailoverClient) ChatWithResult(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*CallResult, error) {
	content, primaryErr := f.attempt(ctx, f.primary, messages, params)
	if primaryErr == nil {
		return &CallResult{Content: content, State: AttemptPrimary, Attempts: 1}, nil
	}
	slog.Warn("Primary model failed, trying fallback", "error", primaryErr)

	content, fallbackErr := f.attempt(ctx, f.fallback, messages, params)
	if fallbackErr == nil {
		return &CallResult{Content: content, State: AttemptFallback, Attempts: 2}, nil
	}
	slog.Error("Fallback model failed", "error", fallbackErr)

	return &CallResult{State: AttemptFailed, Attempts: 2},
		fmt.Errorf("both models failed: %w", errors.Join(primaryErr, fallbackErr))
}

func (f *FailoverClient) attempt(ctx context.Context, client LLMClient, messages []datatypes.Message, params GenerationParams) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()
	return client.Chat(callCtx, messages, params)
}
