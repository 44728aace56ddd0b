// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
	storage "github.com/exponentia-ai/comet/services/storage/badger"
)

// ListSessions returns session summaries, newest first.
// The optional ?limit query parameter caps the result count.
func ListSessions(store *storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		summaries, err := store.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("Failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": summaries})
	}
}

// CreateSession creates a new session with an optional title.
// An empty title yields the default placeholder, replaced later by a
// title derived from the first user message.
func CreateSession(store *storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		// An empty or absent body is fine: the title is optional.
		var req datatypes.CreateSessionRequest
		if c.Request.Body != nil {
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		session, err := store.Create(c.Request.Context(), req.Title)
		if err != nil {
			slog.Error("Failed to create session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		slog.Info("Created session", "sessionId", session.SessionId)
		c.JSON(http.StatusCreated, session)
	}
}

// GetSession returns one session with its full message history.
func GetSession(store *storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		session, err := store.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("Failed to get session", "sessionId", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// RenameSession replaces a session's title.
func RenameSession(store *storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")

		var req datatypes.RenameSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := store.SetTitle(c.Request.Context(), id, req.Title); err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("Failed to rename session", "sessionId", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename session"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success", "session_id": id, "title": req.Title})
	}
}

// DeleteSession removes a session and all its messages.
func DeleteSession(store *storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "sessionId", id)

		if err := store.Delete(c.Request.Context(), id); err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("Failed to delete session", "sessionId", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
	}
}
