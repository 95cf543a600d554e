// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the chat domain types: messages, histories,
// and sessions.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageState tracks how an assistant message ended.
type MessageState string

const (
	// StateStreaming marks an assistant placeholder that is still
	// receiving tokens.
	StateStreaming MessageState = "streaming"
	// StateComplete marks a message whose generation finished normally.
	StateComplete MessageState = "complete"
	// StateStopped marks a message cancelled mid-stream with partial
	// content retained.
	StateStopped MessageState = "stopped"
	// StateFailed marks a message whose generation failed.
	StateFailed MessageState = "failed"
)

// Message is a single chat message. Assistant messages begin life as
// streaming placeholders and accumulate tokens until finalized.
//
// Content is what goes over the wire. For user messages with
// preprocessing applied, DisplayContent holds the text the user
// actually typed; for everything else it is empty and Content is
// displayed as-is.
type Message struct {
	ID             string       `json:"id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	DisplayContent string       `json:"displayContent,omitempty"`
	State          MessageState `json:"state"`
	Timestamp      time.Time    `json:"timestamp"`

	stream strings.Builder
}

// NewUserMessage creates a complete user message. stored is the
// wire-level content; display is the original typed text, or empty if
// the two are identical.
func NewUserMessage(stored, display string) *Message {
	if display == stored {
		display = ""
	}
	return &Message{
		ID:             uuid.NewString(),
		Role:           RoleUser,
		Content:        stored,
		DisplayContent: display,
		State:          StateComplete,
		Timestamp:      time.Now(),
	}
}

// NewAssistantMessage creates an empty streaming placeholder.
func NewAssistantMessage() *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		State:     StateStreaming,
		Timestamp: time.Now(),
	}
}

// AppendToken adds a streamed token. Builder-based accumulation avoids
// quadratic string concatenation over long responses.
func (m *Message) AppendToken(token string) {
	m.stream.WriteString(token)
}

// FinalizeStream moves the accumulated tokens into Content and marks
// the message complete.
func (m *Message) FinalizeStream() {
	m.Content = m.stream.String()
	m.stream.Reset()
	m.State = StateComplete
}

// MarkStopped keeps whatever partial content arrived and records that
// the stream was cancelled.
func (m *Message) MarkStopped() {
	m.Content = m.stream.String()
	m.stream.Reset()
	m.State = StateStopped
}

// MarkFailed keeps any partial content and records the failure.
func (m *Message) MarkFailed() {
	m.Content = m.stream.String()
	m.stream.Reset()
	m.State = StateFailed
}

// Display returns the text to show for this message.
func (m *Message) Display() string {
	if m.Role == RoleUser && m.DisplayContent != "" {
		return m.DisplayContent
	}
	if m.State == StateStreaming {
		return m.stream.String()
	}
	return m.Content
}

// Empty reports whether the message has no content at all, including
// unfinalized streamed tokens.
func (m *Message) Empty() bool {
	return m.Content == "" && m.stream.Len() == 0
}
