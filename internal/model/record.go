// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// SessionRecord is the JSON wire/storage form of a session, shared by
// the persistence client and the server-side file store. Temporary
// sessions are never serialized, so the flag does not appear here.
type SessionRecord struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Model     string          `json:"model,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Messages  []MessageRecord `json:"messages"`
}

// MessageRecord is the serialized form of one message.
type MessageRecord struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	DisplayContent string    `json:"displayContent,omitempty"`
	State          string    `json:"state,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToRecord converts a session to its wire form.
func (s *Session) ToRecord() SessionRecord {
	rec := SessionRecord{
		ID:        s.ID,
		Title:     s.Title,
		Model:     s.Model,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.History != nil {
		for _, m := range s.History.Messages() {
			rec.Messages = append(rec.Messages, MessageRecord{
				ID:             m.ID,
				Role:           m.Role,
				Content:        m.Content,
				DisplayContent: m.DisplayContent,
				State:          string(m.State),
				Timestamp:      m.Timestamp,
			})
		}
	}
	return rec
}

// SessionFromRecord reconstructs a session from its wire form. Loaded
// sessions are never Temporary.
func SessionFromRecord(rec SessionRecord) *Session {
	s := &Session{
		ID:        rec.ID,
		Title:     rec.Title,
		Model:     rec.Model,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		History:   NewHistory(),
	}
	for _, mr := range rec.Messages {
		state := MessageState(mr.State)
		if state == "" || state == StateStreaming {
			// A record can only hold finished messages.
			state = StateComplete
		}
		s.History.Append(&Message{
			ID:             mr.ID,
			Role:           mr.Role,
			Content:        mr.Content,
			DisplayContent: mr.DisplayContent,
			State:          state,
			Timestamp:      mr.Timestamp,
		})
	}
	return s
}
