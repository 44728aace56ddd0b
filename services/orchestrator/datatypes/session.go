// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Conversation Model
// =============================================================================

// Message roles. Every stored message carries exactly one of these.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSessionTitle is used until a title is derived from the first
// user message or set explicitly.
const DefaultSessionTitle = "New Chat"

// Source is one piece of web evidence attached to an assistant message.
//
// # Fields
//
//   - Title: Page title as returned by the search provider.
//   - URL: Canonical link for citation rendering.
//   - Content: Extracted page content used for grounding.
//   - Rank: 1-based provider rank, preserved for display order.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Rank    int    `json:"rank"`
}

// Message is a single conversation turn.
//
// # Description
//
// Messages are append-only: once stored they are never edited or
// removed. Assistant messages may carry Sources (the evidence shown to
// the user) and PlainText (a markdown-stripped copy preferred when the
// message is replayed into a prompt).
type Message struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	PlainText string   `json:"plain_text,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// Session is one persisted conversation.
//
// # Fields
//
//   - SessionId: UUID v4 assigned at creation.
//   - Title: Display title. Defaults to "New Chat" until derived.
//   - CreatedAt: Unix timestamp in milliseconds (UTC).
//   - Messages: Full ordered history, oldest first.
type Session struct {
	SessionId string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// NewSession creates a Session with a fresh id and timestamp.
// An empty title falls back to DefaultSessionTitle.
func NewSession(title string) Session {
	if title == "" {
		title = DefaultSessionTitle
	}
	return Session{
		SessionId: uuid.New().String(),
		Title:     title,
		CreatedAt: time.Now().UnixMilli(),
		Messages:  []Message{},
	}
}

// SessionSummary is the list-view projection of a Session. The message
// history is omitted to keep list responses small.
type SessionSummary struct {
	SessionId string `json:"session_id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
}

// Summary returns the list-view projection of the session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionId: s.SessionId,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
	}
}
