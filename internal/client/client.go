// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client talks to the OpenAI-compatible completion API. It is
// policy-free: it streams a response for the request it is given and
// reports how the stream ended, leaving history and persistence
// decisions to the caller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jeranaias/chatflow/internal/sse"
)

// streamingClient has no timeout: stream lifetime is controlled by the
// request context so long generations are not cut off.
var streamingClient = &http.Client{}

// ChatMessage is one message in a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the completion request body.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      float64       `json:"temperature"`
	MaxTokens        int           `json:"max_tokens"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
}

// Outcome classifies how a generation ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Result is the terminal state of one generation. Text holds whatever
// content arrived, including partial content for cancelled and failed
// generations. Err is set only for OutcomeFailed.
type Result struct {
	Outcome Outcome
	Text    string
	Err     error
}

// Client issues completion and model-listing requests.
type Client struct {
	baseURL      string
	chatEndpoint string
	apiKey       string
	logger       *slog.Logger
}

// New builds a Client. logger may be nil.
func New(baseURL, chatEndpoint, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		chatEndpoint: chatEndpoint,
		apiKey:       apiKey,
		logger:       logger,
	}
}

// Generate streams a completion, invoking onDelta for each content
// delta as it arrives. It always returns a Result; cancellation via
// ctx yields OutcomeCancelled with the partial text, never an error.
func (c *Client) Generate(ctx context.Context, req ChatRequest, onDelta func(string)) Result {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.chatEndpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := streamingClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled}
		}
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("completion request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("completion API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	decoder := sse.NewDecoder(c.logger)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, delta := range decoder.Feed(string(buf[:n])) {
				onDelta(delta)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
				return Result{Outcome: OutcomeCancelled, Text: decoder.Accumulated()}
			}
			return Result{
				Outcome: OutcomeFailed,
				Text:    decoder.Accumulated(),
				Err:     fmt.Errorf("stream read failed: %w", readErr),
			}
		}
	}

	for _, delta := range decoder.Finish() {
		onDelta(delta)
	}
	return Result{Outcome: OutcomeSuccess, Text: decoder.Accumulated()}
}

// modelList mirrors the /v1/models response.
type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the model ids the API advertises.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := streamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models API returned %d", resp.StatusCode)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
