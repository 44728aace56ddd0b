// Copyright (C) 2026 Exponentia AI (oss@exponentia.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
)

// ErrSessionNotFound is returned for operations on absent session ids.
var ErrSessionNotFound = errors.New("session not found")

const (
	sessionKeyPrefix = "session:"

	// DefaultListLimit bounds GET /v1/sessions responses.
	DefaultListLimit = 20

	// appendRetries bounds optimistic-concurrency retries on conflicting
	// writes to the same session document. At least one writer commits
	// per round, so this covers well over a dozen concurrent appenders.
	appendRetries = 16
)

// SessionStore persists full conversation sessions as JSON documents,
// one Badger key per session.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store on the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// Create persists a new session and returns it.
//
// Description:
//
//	Builds a session with a fresh UUID and timestamp. An empty title
//	becomes "New Chat".
func (s *SessionStore) Create(ctx context.Context, title string) (datatypes.Session, error) {
	session := datatypes.NewSession(title)

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putSession(txn, session)
	})
	if err != nil {
		return datatypes.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Get loads a session with its full message history.
//
// Outputs:
//
//	datatypes.Session - The stored session.
//	error - ErrSessionNotFound if the id is absent.
func (s *SessionStore) Get(ctx context.Context, id string) (datatypes.Session, error) {
	var session datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		session, err = getSession(txn, id)
		return err
	})
	if err != nil {
		return datatypes.Session{}, err
	}
	return session, nil
}

// List returns session summaries, most recently created first.
//
// Inputs:
//
//	limit - Maximum entries to return. Non-positive means DefaultListLimit.
func (s *SessionStore) List(ctx context.Context, limit int) ([]datatypes.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	summaries := []datatypes.SessionSummary{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var session datatypes.Session
				if err := json.Unmarshal(val, &session); err != nil {
					return fmt.Errorf("decode session document: %w", err)
				}
				summaries = append(summaries, session.Summary())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt > summaries[j].CreatedAt
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// AppendMessage atomically appends one message to a session's history.
//
// Description:
//
//	Read-modify-write inside a single transaction so concurrent appends
//	to the same session cannot drop messages. Commit conflicts are
//	retried a bounded number of times.
//
// Outputs:
//
//	error - ErrSessionNotFound if the session is absent.
func (s *SessionStore) AppendMessage(ctx context.Context, id string, msg datatypes.Message) error {
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			session, err := getSession(txn, id)
			if err != nil {
				return err
			}
			session.Messages = append(session.Messages, msg)
			return putSession(txn, session)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("append message: %w", err)
}

// SetTitle updates a session's title.
//
// Outputs:
//
//	error - ErrSessionNotFound if the session is absent.
func (s *SessionStore) SetTitle(ctx context.Context, id string, title string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		session, err := getSession(txn, id)
		if err != nil {
			return err
		}
		session.Title = title
		return putSession(txn, session)
	})
}

// Delete removes a session and its history.
//
// Outputs:
//
//	error - ErrSessionNotFound if the session is absent.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("load session %s: %w", id, err)
		}
		return txn.Delete(sessionKey(id))
	})
}

func getSession(txn *badger.Txn, id string) (datatypes.Session, error) {
	var session datatypes.Session

	item, err := txn.Get(sessionKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return session, ErrSessionNotFound
		}
		return session, fmt.Errorf("load session %s: %w", id, err)
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &session)
	})
	if err != nil {
		return session, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session, nil
}

func putSession(txn *badger.Txn, session datatypes.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.SessionId, err)
	}
	return txn.Set(sessionKey(session.SessionId), data)
}
