// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exponentia-ai/comet/services/llm"
)

// fakeClient returns canned responses per model name.
type fakeClient struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	f.calls = append(f.calls, model)
	if err, ok := f.errs[model]; ok {
		return "", err
	}
	if text, ok := f.responses[model]; ok {
		return text, nil
	}
	return "", errors.New("unexpected model " + model)
}

// fakeStreamingClient streams its response word by word.
type fakeStreamingClient struct {
	fakeClient
	streamChunks []string
	streamErr    error
	errAfter     int // emit this many chunks before failing; -1 means never fail
}

func (f *fakeStreamingClient) GenerateStream(ctx context.Context, model, prompt string, onChunk llm.ChunkFunc) error {
	f.calls = append(f.calls, model)
	for i, chunk := range f.streamChunks {
		if f.streamErr != nil && i == f.errAfter {
			return f.streamErr
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	if f.streamErr != nil && f.errAfter >= len(f.streamChunks) {
		return f.streamErr
	}
	return nil
}

func newTestSynthesizer(t *testing.T, client llm.Client, chain []ModelTier) *Synthesizer {
	t.Helper()
	s, err := NewSynthesizer(map[string]llm.Client{BackendGemini: client}, chain, 0)
	require.NoError(t, err)
	s.chunkDelay = time.Millisecond
	return s
}

func collectChunks(chunks *[]string) llm.ChunkFunc {
	return func(chunk string) error {
		*chunks = append(*chunks, chunk)
		return nil
	}
}

var testChain = []ModelTier{
	{Backend: BackendGemini, Model: "tier-1"},
	{Backend: BackendGemini, Model: "tier-2"},
	{Backend: BackendGemini, Model: "tier-3"},
}

func quotaErr() error {
	return errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED quota exceeded")
}

func TestSynthesize_PrimarySuccessShortCircuits(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"tier-1": "short answer"}}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, []string{"tier-1"}, client.calls, "lower tiers should never be tried")
	assert.Equal(t, "short answer", strings.Join(chunks, ""))
}

func TestSynthesize_FallsBackOnTierError(t *testing.T) {
	client := &fakeClient{
		responses: map[string]string{"tier-2": "from the second tier"},
		errs:      map[string]error{"tier-1": errors.New("upstream 500")},
	}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, []string{"tier-1", "tier-2"}, client.calls)
	assert.Equal(t, "from the second tier", strings.Join(chunks, ""))
}

func TestSynthesize_AllTiersFailEmitsDiagnostic(t *testing.T) {
	client := &fakeClient{errs: map[string]error{
		"tier-1": errors.New("boom"),
		"tier-2": errors.New("boom"),
		"tier-3": errors.New("boom"),
	}}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err, "a diagnostic stream is a usable stream")

	require.Len(t, chunks, 1)
	assert.Equal(t, diagnosticText, chunks[0])
}

func TestSynthesize_AllTiersQuotaReturnsRateLimited(t *testing.T) {
	client := &fakeClient{errs: map[string]error{
		"tier-1": quotaErr(),
		"tier-2": quotaErr(),
		"tier-3": quotaErr(),
	}}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Empty(t, chunks, "nothing should be emitted when the whole chain is quota blocked")
}

func TestSynthesize_MixedFailuresAreNotRateLimited(t *testing.T) {
	client := &fakeClient{errs: map[string]error{
		"tier-1": quotaErr(),
		"tier-2": errors.New("upstream 500"),
		"tier-3": quotaErr(),
	}}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, diagnosticText, chunks[0])
}

func TestSynthesize_SafetyBlockIsTerminal(t *testing.T) {
	client := &fakeClient{
		responses: map[string]string{"tier-2": "would have answered"},
		errs:      map[string]error{"tier-1": llm.ErrSafetyBlocked},
	}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err)

	assert.Equal(t, []string{"tier-1"}, client.calls, "safety blocks must not fall through")
	require.Len(t, chunks, 1)
	assert.Equal(t, refusalText, chunks[0])
}

func TestSynthesize_SimulatedStreamingChunkSize(t *testing.T) {
	long := strings.Repeat("répét", 13) // 65 runes, forces several chunks
	client := &fakeClient{responses: map[string]string{"tier-1": long}}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err)

	require.Greater(t, len(chunks), 1, "a long answer should be split")
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), simulatedChunkRunes, "chunk %d too large", i)
	}
	assert.Equal(t, long, strings.Join(chunks, ""), "reassembled chunks must equal the original")
}

func TestSynthesize_NativeStreamingPreferred(t *testing.T) {
	client := &fakeStreamingClient{
		streamChunks: []string{"hello ", "from ", "the stream"},
		errAfter:     -1,
	}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello ", "from ", "the stream"}, chunks)
}

func TestSynthesize_MidStreamFailureAppendsNotice(t *testing.T) {
	client := &fakeStreamingClient{
		streamChunks: []string{"partial ", "answer"},
		streamErr:    errors.New("connection reset"),
		errAfter:     2,
	}
	s := newTestSynthesizer(t, client, testChain)

	var chunks []string
	err := s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err, "a partial answer plus notice is a usable stream")

	require.Len(t, chunks, 3)
	assert.Equal(t, "partial ", chunks[0])
	assert.Equal(t, interruptedNotice, chunks[2])
}

func TestSynthesize_MissingBackendSkipsTier(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"gpt-4o-mini": "openai answered"}}
	s, err := NewSynthesizer(map[string]llm.Client{BackendOpenAI: client}, []ModelTier{
		{Backend: BackendGemini, Model: "tier-1"},
		{Backend: BackendOpenAI, Model: "gpt-4o-mini"},
	}, 0)
	require.NoError(t, err)
	s.chunkDelay = time.Millisecond

	var chunks []string
	err = s.Synthesize(context.Background(), "q", collectChunks(&chunks))
	require.NoError(t, err)
	assert.Equal(t, "openai answered", strings.Join(chunks, ""))
}

func TestSynthesize_CancelledContext(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"tier-1": "never delivered"}}
	s := newTestSynthesizer(t, client, testChain)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var chunks []string
	err := s.Synthesize(ctx, "q", collectChunks(&chunks))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, chunks)
}

func TestNewSynthesizer_Validation(t *testing.T) {
	_, err := NewSynthesizer(nil, testChain, 0)
	assert.Error(t, err, "clients are required")

	_, err = NewSynthesizer(map[string]llm.Client{BackendGemini: &fakeClient{}}, nil, 0)
	assert.Error(t, err, "chain is required")
}

func TestModelChainFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want []ModelTier
	}{
		{
			name: "unset uses default",
			env:  "",
			want: DefaultModelChain(),
		},
		{
			name: "bare models default to gemini",
			env:  "gemini-2.5-pro,gemini-2.0-flash",
			want: []ModelTier{
				{Backend: BackendGemini, Model: "gemini-2.5-pro"},
				{Backend: BackendGemini, Model: "gemini-2.0-flash"},
			},
		},
		{
			name: "explicit backends and whitespace",
			env:  " gemini:gemini-2.5-flash , openai:gpt-4o-mini ",
			want: []ModelTier{
				{Backend: BackendGemini, Model: "gemini-2.5-flash"},
				{Backend: BackendOpenAI, Model: "gpt-4o-mini"},
			},
		},
		{
			name: "malformed entries skipped",
			env:  "gemini:,gemini-2.5-pro,",
			want: []ModelTier{
				{Backend: BackendGemini, Model: "gemini-2.5-pro"},
			},
		},
		{
			name: "only malformed entries falls back to default",
			env:  "gemini:,openai:",
			want: DefaultModelChain(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("COMET_MODEL_CHAIN", tt.env)
			assert.Equal(t, tt.want, ModelChainFromEnv())
		})
	}
}

func TestRewriteModelFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"unset uses the lite default", "", defaultRewriteModel},
		{"whitespace only uses the lite default", "   ", defaultRewriteModel},
		{"explicit model wins", "gemini-2.0-flash", "gemini-2.0-flash"},
		{"surrounding whitespace trimmed", "  gemini-2.0-flash  ", "gemini-2.0-flash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONTEXTUALIZER_MODEL", tt.env)
			assert.Equal(t, tt.want, RewriteModelFromEnv())
		})
	}
}
