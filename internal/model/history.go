// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// History is the ordered list of messages in one session. It is not
// safe for concurrent use; callers serialize access through the chat
// controller.
type History struct {
	messages []*Message
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds a message to the end of the history.
func (h *History) Append(m *Message) {
	h.messages = append(h.messages, m)
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.messages)
}

// Messages returns a copy of the message slice. The pointed-to
// messages are shared.
func (h *History) Messages() []*Message {
	out := make([]*Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Last returns the final message, or nil if the history is empty.
func (h *History) Last() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}

// RemoveLast drops the final message. Used to discard an assistant
// placeholder that never received content.
func (h *History) RemoveLast() {
	if len(h.messages) > 0 {
		h.messages = h.messages[:len(h.messages)-1]
	}
}

// ByID returns the message with the given id, or nil.
func (h *History) ByID(id string) *Message {
	for _, m := range h.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// TruncateBefore removes the message with the given id and everything
// after it. The message immediately before the target (for a
// regenerate, the user message that prompted it) is kept.
func (h *History) TruncateBefore(id string) error {
	for i, m := range h.messages {
		if m.ID == id {
			h.messages = h.messages[:i]
			return nil
		}
	}
	return fmt.Errorf("message %s not found", id)
}

// ExchangeOrdinal returns the zero-based ordinal of the user→assistant
// exchange the assistant message with the given id belongs to, walking
// adjacent user/assistant pairs in order. Returns -1 when id does not
// name an assistant message in an exchange.
func (h *History) ExchangeOrdinal(id string) int {
	ordinal := 0
	for i := 0; i < len(h.messages)-1; i++ {
		if h.messages[i].Role == RoleUser && h.messages[i+1].Role == RoleAssistant {
			if h.messages[i+1].ID == id {
				return ordinal
			}
			ordinal++
		}
	}
	return -1
}

// AssistantByOrdinal returns the assistant message of the nth
// user→assistant exchange, or nil.
func (h *History) AssistantByOrdinal(n int) *Message {
	ordinal := 0
	for i := 0; i < len(h.messages)-1; i++ {
		if h.messages[i].Role == RoleUser && h.messages[i+1].Role == RoleAssistant {
			if ordinal == n {
				return h.messages[i+1]
			}
			ordinal++
		}
	}
	return nil
}

// LastUserContent returns the wire content of the most recent user
// message, or "".
func (h *History) LastUserContent() string {
	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == RoleUser {
			return h.messages[i].Content
		}
	}
	return ""
}

// FirstUserMessage returns the earliest user message, or nil.
func (h *History) FirstUserMessage() *Message {
	for _, m := range h.messages {
		if m.Role == RoleUser {
			return m
		}
	}
	return nil
}

// UserMessageCount returns the number of user messages.
func (h *History) UserMessageCount() int {
	n := 0
	for _, m := range h.messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
