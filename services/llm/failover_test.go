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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
)

type stubClient struct {
	content string
	err     error
	calls   int
	block   time.Duration
}

func (s *stubClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	s.calls++
	if s.block > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.block):
		}
	}
	return s.content, s.err
}

func TestFailover_PrimarySucceeds(t *testing.T) {
	primary := &stubClient{content: "from primary"}
	fallback := &stubClient{content: "from fallback"}
	client := NewFailoverClient(primary, fallback, 0)

	res, err := client.ChatWithResult(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", res.Content)
	assert.Equal(t, AttemptPrimary, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, fallback.calls)
}

func TestFailover_FallbackOnPrimaryError(t *testing.T) {
	primary := &stubClient{err: errors.New("rate limited")}
	fallback := &stubClient{content: "from fallback"}
	client := NewFailoverClient(primary, fallback, 0)

	res, err := client.ChatWithResult(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", res.Content)
	assert.Equal(t, AttemptFallback, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, primary.calls)
}

func TestFailover_BothFail(t *testing.T) {
	primary := &stubClient{err: errors.New("primary down")}
	fallback := &stubClient{err: errors.New("fallback down")}
	client := NewFailoverClient(primary, fallback, 0)

	res, err := client.ChatWithResult(context.Background(), nil, GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, AttemptFailed, res.State)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")
}

func TestFailover_PrimaryTimeoutFallsBack(t *testing.T) {
	primary := &stubClient{content: "slow", block: 500 * time.Millisecond}
	fallback := &stubClient{content: "fast"}
	client := NewFailoverClient(primary, fallback, 20*time.Millisecond)

	res, err := client.ChatWithResult(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Content)
	assert.Equal(t, AttemptFallback, res.State)
}

func TestFailover_ChatDelegates(t *testing.T) {
	client := NewFailoverClient(&stubClient{content: "ok"}, &stubClient{}, 0)
	content, err := client.Chat(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
}

func TestAttemptState_String(t *testing.T) {
	assert.Equal(t, "primary", AttemptPrimary.String())
	assert.Equal(t, "fallback", AttemptFallback.String())
	assert.Equal(t, "failed", AttemptFailed.String())
}
