// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the policy layer tying sessions, the completion
// client, and persistence together. It owns the placeholder protocol,
// the title rule, message preprocessing, and stale-effect rejection
// around suspension points.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/chatflow/internal/client"
	"github.com/jeranaias/chatflow/internal/config"
	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/persist"
	"github.com/jeranaias/chatflow/internal/store"
	"github.com/jeranaias/chatflow/internal/util"
)

// titleMaxRunes bounds the session title derived from the first user
// message.
const titleMaxRunes = 30

// failureNotice is shown when a generation fails before producing any
// content.
const failureNotice = "Error: failed to get a response."

var (
	// ErrEmptyMessage rejects whitespace-only input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy rejects a second generation while one is in flight.
	ErrBusy = errors.New("a generation is already in flight")
	// ErrNotAssistant rejects regeneration of non-assistant messages.
	ErrNotAssistant = errors.New("only assistant messages can be regenerated")
)

// Generator streams one completion. *client.Client implements it.
type Generator interface {
	Generate(ctx context.Context, req client.ChatRequest, onDelta func(string)) client.Result
}

// Persister stores sessions remotely. *persist.Client implements it.
// A nil Persister disables persistence entirely.
type Persister interface {
	SaveChat(ctx context.Context, sess *model.Session) error
	LoadChats(ctx context.Context) ([]*model.Session, error)
	DeleteChat(ctx context.Context, id string) error
}

// Controller orchestrates sends, regenerations, and session commands.
// Safe for concurrent use; at most one generation runs at a time.
type Controller struct {
	mu     sync.Mutex
	cfg    *config.Config
	store  *store.Store
	gen    Generator
	saver  Persister
	cancel *client.CancelManager
	logger *slog.Logger

	// seq identifies the current generation. Effects computed before a
	// suspension point re-check it afterwards and drop themselves when
	// a newer generation or session change superseded them.
	seq  uint64
	busy bool
}

// NewController wires the policy layer. saver may be nil; logger may
// be nil.
func NewController(cfg *config.Config, st *store.Store, gen Generator, saver Persister, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		store:  st,
		gen:    gen,
		saver:  saver,
		cancel: client.NewCancelManager(),
		logger: logger,
	}
}

// Store exposes the session store for read-side callers.
func (c *Controller) Store() *store.Store {
	return c.store
}

// UpdateConfig swaps the config, e.g. after a live reload. In-flight
// generations keep the parameters they started with.
func (c *Controller) UpdateConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Busy reports whether a generation is in flight, so callers can
// disable send and regenerate affordances.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Stop cancels the in-flight generation, if any.
func (c *Controller) Stop() bool {
	return c.cancel.Cancel()
}

// ============================================================================
// Sending
// ============================================================================

// SendMessage runs one full exchange on the active session: append the
// (preprocessed) user message, stream the assistant reply through
// onDelta, and persist the result. It blocks until the generation
// ends; Stop may be called concurrently.
func (c *Controller) SendMessage(ctx context.Context, text string, onDelta func(string)) (client.Result, error) {
	if strings.TrimSpace(text) == "" {
		return client.Result{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return client.Result{}, ErrBusy
	}

	sess := c.store.Active()

	// First message makes a draft permanent.
	if sess.Temporary {
		sess.Promote()
	}

	stored := text
	if c.cfg.Preprocessing.Enabled {
		stored = ApplyPrefix(c.cfg.Preprocessing.Prefix, text)
	}
	userMsg := model.NewUserMessage(stored, text)
	sess.History.Append(userMsg)

	// Title rule: the first user message names the session, once.
	if sess.History.UserMessageCount() == 1 {
		sess.Title = util.TruncateRunes(text, titleMaxRunes)
	}

	placeholder := model.NewAssistantMessage()
	sess.History.Append(placeholder)

	return c.runGeneration(ctx, sess, placeholder, onDelta)
}

// Regenerate discards the assistant message with the given id plus
// everything after it, keeping the user message that prompted it, and
// streams a fresh reply.
func (c *Controller) Regenerate(ctx context.Context, assistantID string, onDelta func(string)) (client.Result, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return client.Result{}, ErrBusy
	}

	sess := c.store.Active()
	target := sess.History.ByID(assistantID)
	if target == nil || target.Role != model.RoleAssistant {
		c.mu.Unlock()
		return client.Result{}, ErrNotAssistant
	}
	if err := sess.History.TruncateBefore(assistantID); err != nil {
		c.mu.Unlock()
		return client.Result{}, err
	}

	placeholder := model.NewAssistantMessage()
	sess.History.Append(placeholder)

	return c.runGeneration(ctx, sess, placeholder, onDelta)
}

// runGeneration owns the streaming leg. Called with c.mu held; it
// releases the lock for the duration of the stream and re-acquires it
// to apply terminal effects.
func (c *Controller) runGeneration(ctx context.Context, sess *model.Session, placeholder *model.Message, onDelta func(string)) (client.Result, error) {
	c.seq++
	mySeq := c.seq
	c.busy = true

	req := c.buildRequest(sess)

	genCtx, cancelFn := context.WithCancel(ctx)
	c.cancel.Set(cancelFn)
	c.mu.Unlock()

	res := c.gen.Generate(genCtx, req, func(delta string) {
		placeholder.AppendToken(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	})
	cancelFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	// A newer generation superseded this one while we were streaming;
	// its owner already rewrote the state this one would touch.
	if c.seq != mySeq {
		return res, nil
	}
	c.busy = false
	c.cancel.Clear()

	// The session may have been deleted while the stream was running;
	// touching its history or re-saving it would resurrect it.
	if _, err := c.store.Get(sess.ID); err != nil {
		return res, nil
	}

	switch res.Outcome {
	case client.OutcomeSuccess:
		placeholder.FinalizeStream()
	case client.OutcomeCancelled:
		if placeholder.Empty() {
			// Nothing arrived; drop the placeholder entirely.
			if last := sess.History.Last(); last != nil && last.ID == placeholder.ID {
				sess.History.RemoveLast()
			}
		} else {
			placeholder.MarkStopped()
		}
	case client.OutcomeFailed:
		placeholder.MarkFailed()
		if placeholder.Content == "" {
			placeholder.Content = failureNotice
		}
		c.logger.Error("generation failed", "session", sess.ID, "error", res.Err)
	}
	sess.Touch()

	// A failed generation leaves only the in-memory failure marker;
	// nothing new is worth saving.
	if res.Outcome == client.OutcomeFailed {
		return res, nil
	}

	if err := c.persistLocked(sess); err != nil {
		return res, err
	}
	return res, nil
}

// buildRequest assembles the completion request from config and the
// session history. The configured system message is injected here and
// never stored. The trailing streaming placeholder, empty messages,
// and failure markers are excluded: the failure notice is UI text, not
// conversation content the model should see.
func (c *Controller) buildRequest(sess *model.Session) client.ChatRequest {
	var messages []client.ChatMessage
	if sys := c.cfg.Preprocessing.SystemMessage; strings.TrimSpace(sys) != "" {
		messages = append(messages, client.ChatMessage{Role: string(model.RoleSystem), Content: sys})
	}
	for _, m := range sess.History.Messages() {
		if m.State == model.StateStreaming || m.State == model.StateFailed || m.Content == "" {
			continue
		}
		messages = append(messages, client.ChatMessage{Role: string(m.Role), Content: m.Content})
	}

	modelName := sess.Model
	if modelName == "" {
		modelName = c.cfg.Chat.Model
	}
	return client.ChatRequest{
		Model:            modelName,
		Messages:         messages,
		Stream:           true,
		Temperature:      c.cfg.Chat.Temperature,
		MaxTokens:        c.cfg.Chat.MaxTokens,
		PresencePenalty:  c.cfg.Chat.PresencePenalty,
		FrequencyPenalty: c.cfg.Chat.FrequencyPenalty,
	}
}

// persistLocked saves sess best-effort. Only credential rejection is
// surfaced; other failures are logged and the in-memory session stays
// authoritative.
func (c *Controller) persistLocked(sess *model.Session) error {
	if c.saver == nil || sess.Temporary {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.saver.SaveChat(ctx, sess); err != nil {
		if errors.Is(err, persist.ErrUnauthorized) {
			return err
		}
		c.logger.Warn("failed to persist chat, keeping in memory", "session", sess.ID, "error", err)
	}
	return nil
}

// ============================================================================
// Session commands
// ============================================================================

// NewChat activates an empty draft, cancelling any in-flight
// generation first.
func (c *Controller) NewChat() *model.Session {
	c.cancel.Cancel()
	return c.store.NewChat()
}

// SwitchChat activates another session. An in-flight generation on the
// current session is cancelled; an untouched draft being left behind
// is discarded.
func (c *Controller) SwitchChat(id string) (*model.Session, error) {
	c.cancel.Cancel()
	return c.store.Switch(id)
}

// DeleteChat removes a session locally and from the persistence
// server.
func (c *Controller) DeleteChat(ctx context.Context, id string) error {
	sess, err := c.store.Get(id)
	if err != nil {
		return err
	}
	wasTemporary := sess.Temporary

	if c.store.Active().ID == id {
		c.cancel.Cancel()
	}
	if err := c.store.Delete(id); err != nil {
		return err
	}

	if c.saver != nil && !wasTemporary {
		if err := c.saver.DeleteChat(ctx, id); err != nil {
			if errors.Is(err, persist.ErrUnauthorized) {
				return err
			}
			c.logger.Warn("failed to delete persisted chat", "session", id, "error", err)
		}
	}
	return nil
}

// LoadChats seeds the store from the persistence server.
func (c *Controller) LoadChats(ctx context.Context) error {
	if c.saver == nil {
		return nil
	}
	sessions, err := c.saver.LoadChats(ctx)
	if err != nil {
		return err
	}
	c.store.Load(sessions)
	return nil
}
