// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the in-memory session list and active pointer.
//
// Sessions are ordered most-recent-first. A freshly created session is
// Temporary: it lives only in memory until its first message, and
// navigating away from an untouched Temporary session discards it, so
// at most one Temporary-empty session ever exists.
package store

import (
	"fmt"
	"sync"

	"github.com/jeranaias/chatflow/internal/model"
)

// Store manages sessions. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions []*model.Session
	activeID string

	defaultModel string
}

// New returns a Store seeded with one active Temporary session.
func New(defaultModel string) *Store {
	s := &Store{defaultModel: defaultModel}
	first := model.NewSession(defaultModel)
	s.sessions = []*model.Session{first}
	s.activeID = first.ID
	return s
}

// Active returns the active session. The store always has one.
func (s *Store) Active() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Store) activeLocked() *model.Session {
	for _, sess := range s.sessions {
		if sess.ID == s.activeID {
			return sess
		}
	}
	// Unreachable under the store's invariants, but never return nil.
	fresh := model.NewSession(s.defaultModel)
	s.sessions = append([]*model.Session{fresh}, s.sessions...)
	s.activeID = fresh.ID
	return fresh
}

// Sessions returns a copy of the session list, most recent first.
func (s *Store) Sessions() []*model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("session %s not found", id)
}

// NewChat activates an empty draft. If the active session is already a
// Temporary-empty draft it is reused, so repeated calls never pile up
// blank sessions.
func (s *Store) NewChat() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeLocked()
	if active.Temporary && active.Empty() {
		return active
	}

	fresh := model.NewSession(s.defaultModel)
	s.sessions = append([]*model.Session{fresh}, s.sessions...)
	s.activeID = fresh.ID
	return fresh
}

// Switch activates the session with the given id. A Temporary-empty
// session being navigated away from is discarded.
func (s *Store) Switch(id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *model.Session
	for _, sess := range s.sessions {
		if sess.ID == id {
			target = sess
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}

	prev := s.activeLocked()
	if prev.ID != target.ID && prev.Temporary && prev.Empty() {
		s.removeLocked(prev.ID)
	}

	s.activeID = target.ID
	return target, nil
}

// Delete removes the session with the given id. If it was active, the
// first remaining session becomes active; with nothing left, a fresh
// Temporary session is created.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeLocked(id) {
		return fmt.Errorf("session %s not found", id)
	}

	if s.activeID == id {
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		} else {
			fresh := model.NewSession(s.defaultModel)
			s.sessions = []*model.Session{fresh}
			s.activeID = fresh.ID
		}
	}
	return nil
}

func (s *Store) removeLocked(id string) bool {
	for i, sess := range s.sessions {
		if sess.ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// Load seeds the store with persisted sessions (already sorted most
// recent first) and puts a fresh Temporary draft on top as the active
// session.
func (s *Store) Load(sessions []*model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := model.NewSession(s.defaultModel)
	s.sessions = append([]*model.Session{fresh}, sessions...)
	s.activeID = fresh.ID
}

// Len returns the number of sessions, drafts included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
