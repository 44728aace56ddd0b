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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
	"github.com/exponentia-ai/comet/services/orchestrator/services"
	storage "github.com/exponentia-ai/comet/services/storage/badger"
)

const testSessionID = "2b2f0c0e-3f4a-4d5e-8f3c-1a2b3c4d5e6f"

// scriptedRunner drives the stream callbacks with a canned sequence.
type scriptedRunner struct {
	statuses []string
	sources  []datatypes.Source
	tokens   []string
	err      error
}

func (r *scriptedRunner) Run(ctx context.Context, sessionID, userMessage string, cb services.StreamCallbacks) error {
	if r.err != nil {
		return r.err
	}
	for _, s := range r.statuses {
		if err := cb.OnStatus(s); err != nil {
			return err
		}
	}
	if err := cb.OnSources(r.sources); err != nil {
		return err
	}
	for _, tok := range r.tokens {
		if err := cb.OnToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func newChatRouter(runner ChatRunner) *gin.Engine {
	router := gin.New()
	router.POST("/v1/chat/stream", HandleChatStream(runner))
	return router
}

func postChat(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleChatStream_MissingSessionID(t *testing.T) {
	router := newChatRouter(&scriptedRunner{})

	w := postChat(router, `{"message":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatStream_NonUUIDSessionID(t *testing.T) {
	router := newChatRouter(&scriptedRunner{})

	w := postChat(router, `{"session_id":"not-a-uuid","message":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatStream_InvalidJSON(t *testing.T) {
	router := newChatRouter(&scriptedRunner{})

	w := postChat(router, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatStream_HappyPathEventSequence(t *testing.T) {
	runner := &scriptedRunner{
		statuses: []string{"Searching the web..."},
		sources: []datatypes.Source{
			{Title: "Go docs", URL: "https://go.dev/doc", Content: "docs", Rank: 1},
		},
		tokens: []string{"Hello ", "world"},
	}
	router := newChatRouter(runner)

	w := postChat(router, `{"session_id":"`+testSessionID+`","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	assert.Contains(t, body, "event: status\n")
	assert.Contains(t, body, "event: sources\n")
	assert.Contains(t, body, "event: token\n")
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, "https://go.dev/doc")
	assert.Contains(t, body, testSessionID, "done event must carry the session id")

	sourcesIdx := strings.Index(body, "event: sources")
	tokenIdx := strings.Index(body, "event: token")
	doneIdx := strings.Index(body, "event: done")
	require.NotEqual(t, -1, sourcesIdx)
	require.NotEqual(t, -1, tokenIdx)
	require.NotEqual(t, -1, doneIdx)
	assert.Less(t, sourcesIdx, tokenIdx, "sources must precede tokens")
	assert.Less(t, tokenIdx, doneIdx, "done must be last")
}

func TestHandleChatStream_TokensInOrder(t *testing.T) {
	runner := &scriptedRunner{tokens: []string{"alpha", "beta", "gamma"}}
	router := newChatRouter(runner)

	w := postChat(router, `{"session_id":"`+testSessionID+`","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	alpha := strings.Index(body, "alpha")
	beta := strings.Index(body, "beta")
	gamma := strings.Index(body, "gamma")
	require.NotEqual(t, -1, alpha)
	assert.Less(t, alpha, beta)
	assert.Less(t, beta, gamma)
}

func TestHandleChatStream_SessionNotFound(t *testing.T) {
	runner := &scriptedRunner{err: storage.ErrSessionNotFound}
	router := newChatRouter(runner)

	w := postChat(router, `{"session_id":"`+testSessionID+`","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code, "the stream is already open; errors travel in-band")

	body := w.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "session not found")
	assert.NotContains(t, body, "event: done\n")
}

func TestHandleChatStream_RateLimited(t *testing.T) {
	runner := &scriptedRunner{err: services.ErrRateLimited}
	router := newChatRouter(runner)

	w := postChat(router, `{"session_id":"`+testSessionID+`","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "too many requests")
}

func TestHandleChatStream_InternalErrorIsSanitized(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("badger cache poisoned")}
	router := newChatRouter(runner)

	w := postChat(router, `{"session_id":"`+testSessionID+`","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.NotContains(t, body, "badger cache poisoned", "internal details must not leak to clients")
}

func TestHandleChatStream_MessageTooLarge(t *testing.T) {
	router := newChatRouter(&scriptedRunner{})

	big := strings.Repeat("a", datatypes.MaxMessageContentBytes+1)
	w := postChat(router, `{"session_id":"`+testSessionID+`","message":"`+big+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
