// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is one chat: a history plus metadata. A Temporary session is
// a draft that has never received a message; it is not persisted and
// is discarded when the user navigates away from it.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	Temporary bool      `json:"isTemp,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	History *History `json:"-"`
}

// NewSession creates a Temporary session with an empty history.
func NewSession(model string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Title:     "New Chat",
		Model:     model,
		Temporary: true,
		CreatedAt: now,
		UpdatedAt: now,
		History:   NewHistory(),
	}
}

// Empty reports whether the session has no messages.
func (s *Session) Empty() bool {
	return s.History == nil || s.History.Len() == 0
}

// Promote clears the Temporary flag; called when the first message is
// sent.
func (s *Session) Promote() {
	s.Temporary = false
}

// Touch bumps UpdatedAt.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}
