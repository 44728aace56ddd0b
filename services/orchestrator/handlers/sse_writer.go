// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Streaming handlers emit events and keepalives from different goroutines.
//
// # Limitations
//
//   - Must be used with http.Flusher-compatible ResponseWriter
//   - Response headers must be set before first write
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders()
type SSEWriter interface {
	// WriteEvent writes a single SSE event to the response.
	// Id and CreatedAt are auto-set. Flushes immediately after writing.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event with a human-readable progress
	// message (e.g. "Searching the web...").
	WriteStatus(message string) error

	// WriteToken writes a token event carrying an answer fragment.
	// Tokens must be written in display order.
	WriteToken(content string) error

	// WriteSources writes a sources event with the retrieved web results,
	// ordered by rank. Emitted once per stream, before any token.
	WriteSources(sources []datatypes.Source) error

	// WriteError writes an error event. The message must be sanitized for
	// client display; internal details stay in the logs. The stream
	// should be closed after this event.
	WriteError(errMsg string) error

	// WriteDone writes the final event indicating successful completion,
	// carrying the session ID for multi-turn continuity. Should only be
	// called once per stream.
	WriteDone(sessionID string) error

	// WriteKeepAlive sends an SSE comment (": ping\n\n") to keep the TCP
	// connection alive during long operations. Comments are ignored by
	// SSE clients but reset load balancer timeout counters (AWS ALB,
	// Nginx default 60s).
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events.
// Each event is written in the format:
//
//	event: {type}
//	data: {json}
//
// # Thread Safety
//
// Thread-safe via mutex. Multiple goroutines can write events concurrently.
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteStatus("Processing...")
//	writer.WriteToken("Hello")
//	writer.WriteDone("sess-123")
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// SSE wire format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteStatus writes a status event with the given message.
func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "status",
		Message: message,
	})
}

// WriteToken writes a token event with the given content.
func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "token",
		Content: content,
	})
}

// WriteSources writes a sources event with the retrieved web results.
func (w *sseWriter) WriteSources(sources []datatypes.Source) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "sources",
		Sources: sources,
	})
}

// WriteError writes an error event.
func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  "error",
		Error: errMsg,
	})
}

// WriteDone writes the done event with the session ID.
func (w *sseWriter) WriteDone(sessionID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "done",
		SessionId: sessionID,
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
