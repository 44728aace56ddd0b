// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
	"github.com/exponentia-ai/comet/services/orchestrator/observability"
	"github.com/exponentia-ai/comet/services/orchestrator/services"
	storage "github.com/exponentia-ai/comet/services/storage/badger"
)

// chatTracer is the OpenTelemetry tracer for streaming chat handlers.
var chatTracer = otel.Tracer("comet.orchestrator.handlers.chat")

// keepAliveInterval is how often SSE comment pings are written while the
// pipeline works. 15s stays well under common load balancer idle
// timeouts (AWS ALB, Nginx default 60s).
const keepAliveInterval = 15 * time.Second

// ChatRunner runs one conversational turn, reporting progress through
// the stream callbacks.
type ChatRunner interface {
	Run(ctx context.Context, sessionID string, userMessage string, cb services.StreamCallbacks) error
}

// HandleChatStream streams one chat turn over Server-Sent Events.
//
// # Description
//
// Validates the request, switches the response into SSE mode and runs
// the chat pipeline, forwarding its progress as SSE events:
//
//	status  - pipeline progress messages
//	sources - the web results backing the answer (before any token)
//	token   - answer fragments in display order
//	done    - successful completion, carries the session id
//	error   - terminal failure, carries a sanitized message
//
// A keepalive goroutine writes SSE comments every 15 seconds so slow
// turns survive load balancer idle timeouts.
//
// # Outputs
//
// Validation failures return JSON 400 before the stream starts. Once
// streaming, failures surface as error events; the HTTP status is
// already 200 by then.
func HandleChatStream(pipeline ChatRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatStream")
		defer span.End()
		start := time.Now()

		var req datatypes.ChatStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("session_id", req.SessionId))

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			slog.Error("Streaming unsupported by response writer", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(observability.EndpointChatStream)
			defer m.StreamEnded(observability.EndpointChatStream)
		}

		// Keepalive pings until the turn finishes or the client leaves.
		pipelineDone := make(chan struct{})
		defer close(pipelineDone)
		go func() {
			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := writer.WriteKeepAlive(); err != nil {
						return
					}
					if m := observability.DefaultMetrics; m != nil {
						m.RecordKeepAlive(observability.EndpointChatStream)
					}
				case <-pipelineDone:
					return
				case <-ctx.Done():
					return
				}
			}
		}()

		firstToken := true
		cb := services.StreamCallbacks{
			OnStatus:  writer.WriteStatus,
			OnSources: writer.WriteSources,
			OnToken: func(content string) error {
				if firstToken {
					firstToken = false
					if m := observability.DefaultMetrics; m != nil {
						m.RecordTimeToFirstToken(observability.EndpointChatStream, time.Since(start).Seconds())
					}
				}
				return writer.WriteToken(content)
			},
		}

		runErr := pipeline.Run(ctx, req.SessionId, req.Message, cb)
		success := runErr == nil

		switch {
		case runErr == nil:
			span.SetStatus(codes.Ok, "")
			if err := writer.WriteDone(req.SessionId); err != nil {
				slog.Warn("Failed to write done event", "sessionId", req.SessionId, "error", err)
			}

		case ctx.Err() != nil:
			// The client went away; nothing left to write to.
			slog.Info("Client disconnected mid-stream", "sessionId", req.SessionId)
			span.AddEvent("client_disconnect")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(observability.EndpointChatStream)
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeClientDisconnect)
			}

		case errors.Is(runErr, storage.ErrSessionNotFound):
			slog.Warn("Chat stream for unknown session", "sessionId", req.SessionId)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeNotFound)
			}
			writeStreamError(writer, "session not found")

		case errors.Is(runErr, services.ErrRateLimited):
			slog.Warn("Chat stream exhausted provider quota", "sessionId", req.SessionId)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeRateLimited)
			}
			writeStreamError(writer, "the service is receiving too many requests, please try again in a minute")

		default:
			slog.Error("Chat stream failed", "sessionId", req.SessionId, "error", runErr)
			span.RecordError(runErr)
			span.SetStatus(codes.Error, "pipeline failed")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChatStream, observability.ErrorCodeInternal)
			}
			writeStreamError(writer, "something went wrong while generating the answer")
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointChatStream, success)
			m.RecordStreamDuration(observability.EndpointChatStream, time.Since(start).Seconds(), success)
		}
	}
}

// writeStreamError writes a sanitized error event, logging if even that
// fails.
func writeStreamError(writer SSEWriter, msg string) {
	if err := writer.WriteError(msg); err != nil {
		slog.Warn("Failed to write error event", "error", err)
	}
}
