// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"sync"
)

// CancelManager holds the cancel function for the single in-flight
// generation. Safe for concurrent use.
type CancelManager struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCancelManager returns an empty manager.
func NewCancelManager() *CancelManager {
	return &CancelManager{}
}

// Set installs the cancel function for a new generation, cancelling
// any previous one first so two streams never run at once.
func (m *CancelManager) Set(cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
}

// Cancel aborts the in-flight generation, if any. Returns whether a
// generation was actually cancelled.
func (m *CancelManager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return false
	}
	m.cancel()
	m.cancel = nil
	return true
}

// Clear drops the stored cancel function without calling it; used when
// a generation finishes on its own.
func (m *CancelManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = nil
}

// Active reports whether a generation is in flight.
func (m *CancelManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}
