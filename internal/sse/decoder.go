// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse reconstructs streamed completion text from server-sent
// events arriving in arbitrarily sized chunks.
package sse

import (
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Chunk mirrors one streamed completion event.
type Chunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content extracts the delta text from the first choice.
func (c *Chunk) content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// Decoder incrementally parses an SSE completion stream. Feed it raw
// chunks as they arrive off the network; it buffers partial lines
// across chunk boundaries, so the deltas produced are identical no
// matter where the network splits the stream.
//
// Not safe for concurrent use; one Decoder serves one stream.
type Decoder struct {
	buf         strings.Builder
	accumulated strings.Builder
	logger      *slog.Logger
}

// NewDecoder returns a Decoder. logger may be nil.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed consumes one network chunk and returns the content deltas it
// completed, in order. An incomplete trailing line stays buffered for
// the next call.
func (d *Decoder) Feed(chunk string) []string {
	d.buf.WriteString(chunk)

	text := d.buf.String()
	var deltas []string
	for {
		i := strings.Index(text, "\n")
		if i < 0 {
			break
		}
		line := text[:i]
		text = text[i+1:]
		if delta, ok := d.decodeLine(line); ok {
			deltas = append(deltas, delta)
		}
	}

	d.buf.Reset()
	d.buf.WriteString(text)
	return deltas
}

// Finish processes any buffered trailing text as a final event and
// resets the line buffer. Streams that end without a trailing newline
// would otherwise lose their last delta.
func (d *Decoder) Finish() []string {
	rest := d.buf.String()
	d.buf.Reset()

	if strings.TrimSpace(rest) == "" || strings.Contains(rest, doneSentinel) {
		return nil
	}
	if delta, ok := d.decodeLine(rest); ok {
		return []string{delta}
	}
	return nil
}

// decodeLine parses a single SSE line, returning the content delta and
// whether one was produced. Malformed payloads are skipped so a single
// bad event cannot kill the stream.
func (d *Decoder) decodeLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		// Blank keep-alives and comment lines.
		return "", false
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return "", false
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		d.logger.Debug("skipping malformed stream event", "error", err)
		return "", false
	}

	delta := chunk.content()
	if delta == "" {
		return "", false
	}
	d.accumulated.WriteString(delta)
	return delta, true
}

// Accumulated returns all content decoded so far.
func (d *Decoder) Accumulated() string {
	return d.accumulated.String()
}

// Reset clears all decoder state for reuse on a new stream.
func (d *Decoder) Reset() {
	d.buf.Reset()
	d.accumulated.Reset()
}
