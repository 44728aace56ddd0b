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
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/exponentia-ai/comet/services/llm"
	"github.com/exponentia-ai/comet/services/orchestrator/observability"
)

// synthTracer is the OpenTelemetry tracer for synthesizer operations.
var synthTracer = otel.Tracer("comet.orchestrator.services.synthesizer")

// ErrRateLimited is returned when every model tier rejected the request
// on quota grounds. The caller may retry the whole chain after a backoff.
var ErrRateLimited = errors.New("all model tiers rate limited")

// Backend names for model chain entries.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// refusalText is streamed verbatim when a provider safety filter blocks
// the response. Safety blocks are terminal: no fallback to other tiers.
const refusalText = "I'm sorry, but I can't answer that. The request was declined by the content safety filters."

// diagnosticText is streamed when every tier failed for non-quota
// reasons, so the client sees one explanatory chunk instead of a dead
// stream.
const diagnosticText = "I'm sorry, something went wrong while generating the answer. Please try again in a moment."

// interruptedNotice is appended when a tier fails after part of the
// answer has already been streamed.
const interruptedNotice = "\n\n[Error: answer generation was interrupted. The response above may be incomplete.]"

// Simulated streaming parameters for backends without native streaming.
const (
	simulatedChunkRunes = 20
	simulatedChunkDelay = 20 * time.Millisecond
)

// ModelTier is one entry of the fallback chain.
type ModelTier struct {
	Backend string
	Model   string
}

func (t ModelTier) String() string {
	return t.Backend + ":" + t.Model
}

// DefaultModelChain returns the built-in fallback order: strongest
// Gemini model first, cheaper ones behind it.
func DefaultModelChain() []ModelTier {
	return []ModelTier{
		{Backend: BackendGemini, Model: "gemini-2.5-pro"},
		{Backend: BackendGemini, Model: "gemini-2.5-flash"},
		{Backend: BackendGemini, Model: "gemini-2.0-flash"},
	}
}

// ModelChainFromEnv builds the fallback chain from COMET_MODEL_CHAIN.
//
// # Description
//
// The variable is a comma-separated list of tiers, each either
// "backend:model" or a bare model name (backend defaults to gemini):
//
//	COMET_MODEL_CHAIN="gemini-2.5-pro,gemini:gemini-2.5-flash,openai:gpt-4o-mini"
//
// Unset or empty yields DefaultModelChain().
func ModelChainFromEnv() []ModelTier {
	raw := os.Getenv("COMET_MODEL_CHAIN")
	if strings.TrimSpace(raw) == "" {
		return DefaultModelChain()
	}

	var chain []ModelTier
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		backend := BackendGemini
		model := entry
		if idx := strings.Index(entry, ":"); idx >= 0 {
			backend = strings.TrimSpace(entry[:idx])
			model = strings.TrimSpace(entry[idx+1:])
		}
		if model == "" {
			slog.Warn("Skipping malformed COMET_MODEL_CHAIN entry", "entry", entry)
			continue
		}
		chain = append(chain, ModelTier{Backend: backend, Model: model})
	}
	if len(chain) == 0 {
		slog.Warn("COMET_MODEL_CHAIN contained no usable entries, using the default chain")
		return DefaultModelChain()
	}
	return chain
}

// defaultRewriteModel serves query rewrites. Rewrites are cheap
// best-effort calls, so a lite tier beats the chain's top model.
const defaultRewriteModel = "gemini-2.5-flash-lite"

// RewriteModelFromEnv returns the model used for query rewrites,
// overridable via CONTEXTUALIZER_MODEL.
func RewriteModelFromEnv() string {
	if model := strings.TrimSpace(os.Getenv("CONTEXTUALIZER_MODEL")); model != "" {
		return model
	}
	return defaultRewriteModel
}

// Synthesizer turns a prompt into a streamed answer, walking an ordered
// model chain until one tier produces output.
//
// # Description
//
// Per tier, native streaming is used when the backend supports it;
// otherwise the whole response is fetched and re-chunked into small
// slices with a short delay so the client experience stays incremental.
//
// Failure policy:
//   - Safety block: stream a fixed refusal chunk and stop. Terminal.
//   - Tier error before any output: log, count a fallback, try the next
//     tier.
//   - Tier error after output has flowed: append an interruption notice
//     chunk and stop. The partial answer remains usable.
//   - Every tier failed on quota: return ErrRateLimited for the caller
//     to retry.
//   - Every tier failed otherwise: stream one diagnostic chunk, return
//     nil. The stream stays well-formed for the client.
//
// # Thread Safety
//
// Safe for concurrent use; per-call state lives on the stack.
type Synthesizer struct {
	clients     map[string]llm.Client
	chain       []ModelTier
	tierTimeout time.Duration
	chunkDelay  time.Duration
}

// NewSynthesizer creates a Synthesizer over the given backend clients
// and fallback chain.
//
// # Inputs
//
//   - clients: Backend name to client. Tiers whose backend is missing
//     are skipped with a warning.
//   - chain: Ordered fallback chain. Must not be empty.
//   - tierTimeout: Per-tier generation timeout. Non-positive disables it.
func NewSynthesizer(clients map[string]llm.Client, chain []ModelTier, tierTimeout time.Duration) (*Synthesizer, error) {
	if len(clients) == 0 {
		return nil, errors.New("at least one backend client is required")
	}
	if len(chain) == 0 {
		return nil, errors.New("model chain must not be empty")
	}
	return &Synthesizer{
		clients:     clients,
		chain:       chain,
		tierTimeout: tierTimeout,
		chunkDelay:  simulatedChunkDelay,
	}, nil
}

// Synthesize streams the answer for prompt through onChunk.
//
// # Outputs
//
//   - error: nil when the stream ended in a usable state (including the
//     refusal, interruption and diagnostic cases described on the type),
//     ErrRateLimited when the whole chain was quota-blocked before any
//     output, or the context error if ctx ended.
func (s *Synthesizer) Synthesize(ctx context.Context, prompt string, onChunk llm.ChunkFunc) error {
	ctx, span := synthTracer.Start(ctx, "Synthesizer.Synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("prompt_bytes", len(prompt)))

	emitted := false
	counting := func(chunk string) error {
		emitted = true
		return onChunk(chunk)
	}

	var lastErr error
	allQuota := true
	for _, tier := range s.chain {
		if err := ctx.Err(); err != nil {
			return err
		}

		client, ok := s.clients[tier.Backend]
		if !ok {
			slog.Warn("No client configured for backend, skipping tier", "tier", tier.String())
			continue
		}

		span.AddEvent("tier_attempt", trace.WithAttributes(attribute.String("model", tier.String())))
		err := s.generateTier(ctx, client, tier, prompt, counting)
		if err == nil {
			span.SetAttributes(attribute.String("model_used", tier.String()))
			return nil
		}

		if llm.IsSafetyBlocked(err) {
			slog.Warn("Generation blocked by safety filters", "model", tier.String())
			span.AddEvent("safety_block")
			return s.emit(ctx, onChunk, refusalText)
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// The request itself ended, not just the tier budget.
				span.RecordError(ctxErr)
				return ctxErr
			}
		}

		if emitted {
			// Part of the answer is already on the wire; falling back to
			// another tier would splice two answers together.
			slog.Error("Generation interrupted mid-stream", "model", tier.String(), "error", err)
			span.RecordError(err)
			return s.emit(ctx, onChunk, interruptedNotice)
		}

		slog.Warn("Model tier failed, falling through", "model", tier.String(), "error", err)
		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.RecordModelFallback(tier.String())
		}
		lastErr = err
		if !llm.IsRateLimit(err) {
			allQuota = false
		}
	}

	if lastErr == nil {
		return errors.New("no usable model tier in the chain")
	}
	if allQuota {
		span.SetStatus(codes.Error, "chain rate limited")
		return fmt.Errorf("%w: %s", ErrRateLimited, lastErr)
	}

	slog.Error("All model tiers failed", "error", lastErr)
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all tiers failed")
	return s.emit(ctx, onChunk, diagnosticText)
}

// generateTier runs one tier, streaming natively when available and
// simulating otherwise.
func (s *Synthesizer) generateTier(ctx context.Context, client llm.Client, tier ModelTier, prompt string, onChunk llm.ChunkFunc) error {
	if s.tierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tierTimeout)
		defer cancel()
	}

	if streamer, ok := client.(llm.StreamingClient); ok {
		return streamer.GenerateStream(ctx, tier.Model, prompt, onChunk)
	}

	text, err := client.Generate(ctx, tier.Model, prompt)
	if err != nil {
		return err
	}
	return s.streamSimulated(ctx, text, onChunk)
}

// streamSimulated re-chunks a complete response into small rune slices
// with a short delay between them.
func (s *Synthesizer) streamSimulated(ctx context.Context, text string, onChunk llm.ChunkFunc) error {
	runes := []rune(text)
	for start := 0; start < len(runes); start += simulatedChunkRunes {
		end := start + simulatedChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		if err := onChunk(string(runes[start:end])); err != nil {
			return err
		}
		if end == len(runes) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.chunkDelay):
		}
	}
	return nil
}

// emit sends a single in-band chunk, preferring the chunk over a late
// context error so terminal notices still reach connected clients.
func (s *Synthesizer) emit(ctx context.Context, onChunk llm.ChunkFunc, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return onChunk(text)
}
