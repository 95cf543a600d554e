// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage is the persistence server's chat store: one JSON
// file per chat under a single directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/util"
)

// ErrChatNotFound is returned when a chat id has no file.
var ErrChatNotFound = errors.New("chat not found")

// ChatStore reads and writes chat records under dir.
type ChatStore struct {
	dir string
}

// NewChatStore creates the directory if needed and returns a store.
func NewChatStore(dir string) (*ChatStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chats directory: %w", err)
	}
	return &ChatStore{dir: dir}, nil
}

// path maps a chat id to its file. Ids are uuids generated by the
// client, but sanitize anyway so a hostile id cannot escape dir.
func (s *ChatStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid chat id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Save writes the chat record atomically.
func (s *ChatStore) Save(rec model.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("chat record has no id")
	}
	path, err := s.path(rec.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode chat: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write chat %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads one chat record.
func (s *ChatStore) Load(id string) (model.SessionRecord, error) {
	var rec model.SessionRecord

	path, err := s.path(id)
	if err != nil {
		return rec, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, fmt.Errorf("%w: %s", ErrChatNotFound, id)
		}
		return rec, fmt.Errorf("failed to read chat %s: %w", id, err)
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode chat %s: %w", id, err)
	}
	return rec, nil
}

// List returns all chat records sorted by creation time, newest first.
// Unreadable or corrupt files are skipped rather than failing the
// whole listing.
func (s *ChatStore) List() ([]model.SessionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chats directory: %w", err)
	}

	var recs []model.SessionRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec model.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// Delete removes one chat file.
func (s *ChatStore) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrChatNotFound, id)
		}
		return fmt.Errorf("failed to delete chat %s: %w", id, err)
	}
	return nil
}
