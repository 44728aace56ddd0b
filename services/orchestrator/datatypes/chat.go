// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Input Limits
// =============================================================================

const (
	// MaxMessageContentBytes caps a single user message at 32KB.
	// Byte length, not rune count, to bound memory per request.
	MaxMessageContentBytes = 32 * 1024

	// MaxTitleBytes caps session titles.
	MaxTitleBytes = 256
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("maxmsgbytes", validateMaxMessageBytes)
	_ = chatValidate.RegisterValidation("maxtitlebytes", validateMaxTitleBytes)
}

// validateMaxMessageBytes enforces MaxMessageContentBytes on a string field.
func validateMaxMessageBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// validateMaxTitleBytes enforces MaxTitleBytes on a string field.
func validateMaxTitleBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxTitleBytes
}

// =============================================================================
// Chat Stream Request
// =============================================================================

// ChatStreamRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// One conversational turn against an existing session. The message is
// contextualized against prior history, grounded with web search and
// answered over SSE.
//
// # Validation
//
// Uses go-playground/validator:
//   - SessionId: required, must be a valid UUID v4
//   - Message: required, max 32KB (byte length)
//
// # Examples
//
//	{
//	    "session_id": "550e8400-e29b-41d4-a716-446655440000",
//	    "message": "How does it compare to last year?"
//	}
type ChatStreamRequest struct {
	SessionId string `json:"session_id" validate:"required,uuid4"`
	Message   string `json:"message" validate:"required,maxmsgbytes"`
}

// Validate validates the ChatStreamRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Session CRUD Requests
// =============================================================================

// CreateSessionRequest is the body of POST /v1/sessions.
// Title is optional; an empty title becomes "New Chat".
type CreateSessionRequest struct {
	Title string `json:"title" validate:"maxtitlebytes"`
}

// Validate validates the CreateSessionRequest fields.
func (r *CreateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// RenameSessionRequest is the body of PATCH /v1/sessions/:sessionId.
// A blank title is rejected so a rename can never erase the title.
type RenameSessionRequest struct {
	Title string `json:"title" validate:"required,maxtitlebytes"`
}

// Validate validates the RenameSessionRequest fields.
func (r *RenameSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}
