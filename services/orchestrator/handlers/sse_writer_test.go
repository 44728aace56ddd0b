// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
)

// noFlushWriter hides the Flusher interface of the embedded recorder.
type noFlushWriter struct {
	http.ResponseWriter
}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(noFlushWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}

func TestSSEWriter_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("hello"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: token\ndata: "), "got %q", body)
	require.True(t, strings.HasSuffix(body, "\n\n"), "frames must end with a blank line")

	payload := strings.TrimSuffix(strings.TrimPrefix(body, "event: token\ndata: "), "\n\n")
	var event datatypes.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &event))
	assert.Equal(t, "token", event.Type)
	assert.Equal(t, "hello", event.Content)
	assert.NotEmpty(t, event.Id)
	assert.NotZero(t, event.CreatedAt)
}

func TestSSEWriter_EventIdsAreUnique(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("a"))
	require.NoError(t, writer.WriteToken("b"))

	ids := map[string]bool{}
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		ids[event.Id] = true
	}
	assert.Len(t, ids, 2)
}

func TestSSEWriter_SourcesEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	sources := []datatypes.Source{
		{Title: "A", URL: "https://a.example", Content: "alpha", Rank: 1},
		{Title: "B", URL: "https://b.example", Content: "beta", Rank: 2},
	}
	require.NoError(t, writer.WriteSources(sources))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: sources\n"))

	payload := strings.TrimSuffix(strings.TrimPrefix(body, "event: sources\ndata: "), "\n\n")
	var event datatypes.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &event))
	require.Len(t, event.Sources, 2)
	assert.Equal(t, 1, event.Sources[0].Rank)
	assert.Equal(t, "https://b.example", event.Sources[1].URL)
}

func TestSSEWriter_DoneCarriesSessionID(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteDone("sess-123"))

	assert.Contains(t, rec.Body.String(), "event: done\n")
	assert.Contains(t, rec.Body.String(), `"session_id":"sess-123"`)
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	assert.Equal(t, ": ping\n\n", rec.Body.String())
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
