// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist is the HTTP client for the chat persistence server.
//
// Persistence is best-effort from the chat controller's point of view:
// failures here are logged and the session stays usable in memory. The
// one exception is ErrUnauthorized, which callers treat as a signal to
// tear down their server session.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/chatflow/internal/model"
)

// ErrUnauthorized is returned on 401 or 403 responses.
var ErrUnauthorized = errors.New("persistence server rejected credentials")

// Client talks to the persistence server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client for the given server base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("persistence request failed: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("persistence server returned %d", resp.StatusCode)
	}
	return resp, nil
}

// SaveChat uploads the full session record.
func (c *Client) SaveChat(ctx context.Context, sess *model.Session) error {
	body, err := json.Marshal(sess.ToRecord())
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/save-chat", bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// LoadChats fetches all persisted sessions, most recent first.
func (c *Client) LoadChats(ctx context.Context) ([]*model.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/load-chats", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Chats []model.SessionRecord `json:"chats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode chats: %w", err)
	}

	sessions := make([]*model.Session, 0, len(payload.Chats))
	for _, rec := range payload.Chats {
		sessions = append(sessions, model.SessionFromRecord(rec))
	}
	return sessions, nil
}

// DeleteChat removes the persisted session with the given id.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/delete-chat/"+id, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
