// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services provides business logic services for the chat
// orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating calls to external services (search, LLM providers)
//   - Applying business rules and retry policy
//   - Persisting conversation turns
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/exponentia-ai/comet/services/llm"
	"github.com/exponentia-ai/comet/services/orchestrator/conversation"
	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
	"github.com/exponentia-ai/comet/services/orchestrator/observability"
	"github.com/exponentia-ai/comet/services/search"
)

// pipelineTracer is the OpenTelemetry tracer for chat pipeline operations.
var pipelineTracer = otel.Tracer("comet.orchestrator.services.pipeline")

// Quota retry configuration.
const (
	// maxQuotaRetries is how many extra whole-chain attempts follow a
	// rate-limited synthesis. Backoff grows linearly: 10s, 20s, 30s.
	maxQuotaRetries = 3

	// quotaRetryStep is the backoff increment between quota retries.
	quotaRetryStep = 10 * time.Second
)

// =============================================================================
// Dependency Contracts
// =============================================================================

// SessionStore is the slice of the storage API the pipeline needs.
type SessionStore interface {
	Get(ctx context.Context, id string) (datatypes.Session, error)
	AppendMessage(ctx context.Context, id string, msg datatypes.Message) error
	SetTitle(ctx context.Context, id string, title string) error
}

// Searcher retrieves ranked web evidence for a query.
type Searcher interface {
	Search(ctx context.Context, query string) []search.Result
}

// QueryRewriter turns a follow-up message into a standalone query.
type QueryRewriter interface {
	Contextualize(ctx context.Context, history []datatypes.Message, input string) string
}

// AnswerSynthesizer streams a grounded answer for a prompt.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, prompt string, onChunk llm.ChunkFunc) error
}

// Pacer spaces out generation requests.
type Pacer interface {
	Wait(ctx context.Context) error
}

// SleepFunc waits for d or until ctx is done. Injected so retry tests
// do not take half a minute.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// StreamCallbacks receive pipeline progress for the SSE layer.
// OnSources fires exactly once, before any OnToken call.
type StreamCallbacks struct {
	OnStatus  func(message string) error
	OnSources func(sources []datatypes.Source) error
	OnToken   func(content string) error
}

// =============================================================================
// ChatPipeline
// =============================================================================

// ChatPipeline runs one conversational turn end to end: load the
// session, contextualize the question, search the web, synthesize a
// cited answer and persist the exchange.
//
// The pipeline is stateless; all conversation state lives in the
// session store, so instances can be shared across requests.
type ChatPipeline struct {
	store          SessionStore
	searcher       Searcher
	contextualizer QueryRewriter
	synthesizer    AnswerSynthesizer
	pacer          Pacer
	sleep          SleepFunc
}

// NewChatPipeline creates a ChatPipeline with the provided dependencies.
// All dependencies are required.
func NewChatPipeline(store SessionStore, searcher Searcher, contextualizer QueryRewriter,
	synthesizer AnswerSynthesizer, pacer Pacer) (*ChatPipeline, error) {

	if store == nil || searcher == nil || contextualizer == nil || synthesizer == nil || pacer == nil {
		return nil, errors.New("all pipeline dependencies must be non-nil")
	}
	return &ChatPipeline{
		store:          store,
		searcher:       searcher,
		contextualizer: contextualizer,
		synthesizer:    synthesizer,
		pacer:          pacer,
		sleep:          defaultSleep,
	}, nil
}

// Run executes one turn for the given session.
//
// # Description
//
// Steps:
//  1. Load the session (its current history is the rewrite context).
//  2. Append the user message; derive a title from its first words if
//     the session still carries the default title.
//  3. Contextualize the question and search the web with the rewrite.
//  4. Emit the sources event, then stream the synthesized answer with
//     pacing and linear-backoff retries on quota exhaustion.
//  5. Persist the assistant message with the exact source list.
//
// If the stream dies because the client went away (context canceled),
// nothing of the assistant turn is persisted; the user message stays,
// matching what the client knows was delivered.
//
// # Outputs
//
//   - error: Store errors pass through unchanged (the handler maps
//     not-found to 404). ErrRateLimited means quota retries were
//     exhausted. nil means the stream ended in a usable state and the
//     turn was persisted.
func (p *ChatPipeline) Run(ctx context.Context, sessionID string, userMessage string, cb StreamCallbacks) error {
	ctx, span := pipelineTracer.Start(ctx, "ChatPipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	session, err := p.store.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	history := session.Messages

	userMsg := datatypes.Message{
		Role:      datatypes.RoleUser,
		Content:   userMessage,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := p.store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist user message: %w", err)
	}

	if session.Title == "" || session.Title == datatypes.DefaultSessionTitle {
		if title := conversation.DeriveTitle(userMessage); title != "" {
			if err := p.store.SetTitle(ctx, sessionID, title); err != nil {
				// The turn is more important than the label.
				slog.Warn("Failed to set derived session title", "sessionId", sessionID, "error", err)
			}
		}
	}

	p.status(cb, "Refining your question...")
	query := p.contextualizer.Contextualize(ctx, history, userMessage)
	span.SetAttributes(attribute.Bool("query_rewritten", query != userMessage))

	p.status(cb, "Searching the web...")
	results := p.searcher.Search(ctx, query)
	sources := make([]datatypes.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, datatypes.Source{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Rank:    r.Rank,
		})
	}
	span.SetAttributes(attribute.Int("sources_count", len(sources)))

	if cb.OnSources != nil {
		if err := cb.OnSources(sources); err != nil {
			return fmt.Errorf("emit sources: %w", err)
		}
	}

	p.status(cb, "Generating answer...")
	prompt := conversation.BuildAnswerPrompt(userMessage, sources, history)

	var answer strings.Builder
	onChunk := func(chunk string) error {
		answer.WriteString(chunk)
		if cb.OnToken != nil {
			return cb.OnToken(chunk)
		}
		return nil
	}

	if err := p.synthesizeWithRetry(ctx, span, prompt, onChunk, cb); err != nil {
		span.RecordError(err)
		return err
	}

	assistantMsg := datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   answer.String(),
		PlainText: plainText(answer.String()),
		Sources:   sources,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := p.store.AppendMessage(ctx, sessionID, assistantMsg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist assistant message: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// synthesizeWithRetry paces and runs synthesis, retrying the whole
// chain with linear backoff when every tier was quota-blocked.
func (p *ChatPipeline) synthesizeWithRetry(ctx context.Context, span trace.Span, prompt string,
	onChunk llm.ChunkFunc, cb StreamCallbacks) error {

	var lastErr error
	for attempt := 0; attempt <= maxQuotaRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * quotaRetryStep
			span.AddEvent("quota_retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("delay", delay.String()),
			))
			slog.Info("Provider quota exhausted, backing off before retrying",
				"attempt", attempt, "delay", delay)
			if observability.DefaultMetrics != nil {
				observability.DefaultMetrics.RecordQuotaRetry(observability.EndpointChatStream)
			}
			p.status(cb, fmt.Sprintf("The model is rate limited, retrying in %s...", delay))
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		if err := p.pacer.Wait(ctx); err != nil {
			return err
		}

		lastErr = p.synthesizer.Synthesize(ctx, prompt, onChunk)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrRateLimited) {
			return lastErr
		}
	}
	return lastErr
}

// status forwards a progress line, ignoring write errors: a failed
// status frame is not worth killing the stream over.
func (p *ChatPipeline) status(cb StreamCallbacks, message string) {
	if cb.OnStatus == nil {
		return
	}
	if err := cb.OnStatus(message); err != nil {
		slog.Debug("Failed to write status event", "error", err)
	}
}

// markdownLink matches [text](url) pairs in rendered answers.
var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)

// plainText strips markdown link syntax so stored history replays
// cleanly into later prompts.
func plainText(s string) string {
	out := markdownLink.ReplaceAllString(s, "$1")
	out = strings.ReplaceAll(out, "**", "")
	return out
}
