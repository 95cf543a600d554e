// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/chatflow/internal/client"
	"github.com/jeranaias/chatflow/internal/config"
	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/persist"
	"github.com/jeranaias/chatflow/internal/store"
)

// fakeGen replays scripted deltas and ends with a scripted outcome.
type fakeGen struct {
	deltas  []string
	outcome client.Outcome
	err     error

	lastReq client.ChatRequest
	calls   int
}

func (f *fakeGen) Generate(ctx context.Context, req client.ChatRequest, onDelta func(string)) client.Result {
	f.lastReq = req
	f.calls++
	var text strings.Builder
	for _, d := range f.deltas {
		text.WriteString(d)
		onDelta(d)
	}
	return client.Result{Outcome: f.outcome, Text: text.String(), Err: f.err}
}

// fakeSaver records persistence calls.
type fakeSaver struct {
	saved   []*model.Session
	deleted []string
	saveErr error
}

func (f *fakeSaver) SaveChat(ctx context.Context, sess *model.Session) error {
	f.saved = append(f.saved, sess)
	return f.saveErr
}

func (f *fakeSaver) LoadChats(ctx context.Context) ([]*model.Session, error) {
	return nil, nil
}

func (f *fakeSaver) DeleteChat(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func newController(gen Generator, saver Persister, mutate func(*config.Config)) *Controller {
	cfg := config.Default()
	cfg.Chat.Model = "test-model"
	if mutate != nil {
		mutate(cfg)
	}
	return NewController(cfg, store.New(cfg.Chat.Model), gen, saver, nil)
}

func TestSendMessageSuccess(t *testing.T) {
	gen := &fakeGen{deltas: []string{"Hi ", "there"}, outcome: client.OutcomeSuccess}
	saver := &fakeSaver{}
	c := newController(gen, saver, nil)

	var streamed []string
	res, err := c.SendMessage(context.Background(), "hello", func(d string) { streamed = append(streamed, d) })
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if res.Outcome != client.OutcomeSuccess {
		t.Fatalf("Outcome = %v", res.Outcome)
	}

	sess := c.Store().Active()
	msgs := sess.History.Messages()
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hi there" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if msgs[1].State != model.StateComplete {
		t.Errorf("assistant State = %v", msgs[1].State)
	}
	if strings.Join(streamed, "") != "Hi there" {
		t.Errorf("streamed = %v", streamed)
	}
	if sess.Temporary {
		t.Error("session should be promoted on first message")
	}
	if len(saver.saved) != 1 {
		t.Errorf("saved %d times, want 1", len(saver.saved))
	}
}

func TestSendMessageEmptyIsNoOp(t *testing.T) {
	gen := &fakeGen{outcome: client.OutcomeSuccess}
	c := newController(gen, nil, nil)

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := c.SendMessage(context.Background(), input, nil)
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("SendMessage(%q) err = %v, want ErrEmptyMessage", input, err)
		}
	}

	if c.Store().Active().History.Len() != 0 {
		t.Error("empty sends must not touch the history")
	}
	if gen.calls != 0 {
		t.Error("empty sends must not hit the API")
	}
	if !c.Store().Active().Temporary {
		t.Error("empty sends must not promote the draft")
	}
}

func TestSendMessagePreprocessing(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	c := newController(gen, nil, func(cfg *config.Config) {
		cfg.Preprocessing.Enabled = true
		cfg.Preprocessing.Prefix = "Be concise:"
	})

	if _, err := c.SendMessage(context.Background(), "Explain recursion", nil); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	user := c.Store().Active().History.Messages()[0]
	if user.Content != "Be concise:\n\nExplain recursion" {
		t.Errorf("stored Content = %q", user.Content)
	}
	if user.Display() != "Explain recursion" {
		t.Errorf("Display() = %q", user.Display())
	}
	// The wire request carries the stored form.
	if gen.lastReq.Messages[len(gen.lastReq.Messages)-1].Content != "Be concise:\n\nExplain recursion" {
		t.Errorf("request content = %q", gen.lastReq.Messages[len(gen.lastReq.Messages)-1].Content)
	}
}

func TestPrefixRoundTrip(t *testing.T) {
	stored := ApplyPrefix("Be concise:", "Explain recursion")
	if stored != "Be concise:\n\nExplain recursion" {
		t.Errorf("ApplyPrefix = %q", stored)
	}
	if got := StripPrefix("Be concise:", stored); got != "Explain recursion" {
		t.Errorf("StripPrefix = %q", got)
	}
	// Unprefixed content passes through.
	if got := StripPrefix("Be concise:", "plain"); got != "plain" {
		t.Errorf("StripPrefix(plain) = %q", got)
	}
	if got := ApplyPrefix("  ", "x"); got != "x" {
		t.Errorf("blank prefix should be a no-op, got %q", got)
	}
}

func TestTitleRule(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	c := newController(gen, nil, nil)

	long := "This message is long enough to be cut at thirty runes"
	if _, err := c.SendMessage(context.Background(), long, nil); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	sess := c.Store().Active()
	want := string([]rune(long)[:30]) + "..."
	if sess.Title != want {
		t.Errorf("Title = %q, want %q", sess.Title, want)
	}

	// The second message must not rewrite the title.
	if _, err := c.SendMessage(context.Background(), "another message entirely", nil); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if sess.Title != want {
		t.Errorf("Title after second message = %q, want unchanged", sess.Title)
	}
}

func TestTitleRuleShortMessage(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	c := newController(gen, nil, nil)

	c.SendMessage(context.Background(), "short", nil)
	if got := c.Store().Active().Title; got != "short" {
		t.Errorf("Title = %q, want %q (no ellipsis)", got, "short")
	}
}

func TestTitleUsesOriginalTextNotPrefixed(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	c := newController(gen, nil, func(cfg *config.Config) {
		cfg.Preprocessing.Enabled = true
		cfg.Preprocessing.Prefix = "Be concise:"
	})

	c.SendMessage(context.Background(), "Explain recursion", nil)
	if got := c.Store().Active().Title; got != "Explain recursion" {
		t.Errorf("Title = %q, want the un-prefixed text", got)
	}
}

func TestCancelledWithPartialKeepsStopped(t *testing.T) {
	gen := &fakeGen{deltas: []string{"one", "two", "three"}, outcome: client.OutcomeCancelled}
	saver := &fakeSaver{}
	c := newController(gen, saver, nil)

	res, err := c.SendMessage(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if res.Outcome != client.OutcomeCancelled {
		t.Fatalf("Outcome = %v", res.Outcome)
	}

	msgs := c.Store().Active().History.Messages()
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	if msgs[1].State != model.StateStopped {
		t.Errorf("State = %v, want stopped", msgs[1].State)
	}
	if msgs[1].Content != "onetwothree" {
		t.Errorf("partial Content = %q, want the three deltas", msgs[1].Content)
	}
	if len(saver.saved) != 1 {
		t.Error("cancelled-with-partial should still persist")
	}
}

func TestCancelledWithNoContentRemovesPlaceholder(t *testing.T) {
	gen := &fakeGen{outcome: client.OutcomeCancelled}
	c := newController(gen, nil, nil)

	if _, err := c.SendMessage(context.Background(), "hi", nil); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs := c.Store().Active().History.Messages()
	if len(msgs) != 1 {
		t.Fatalf("history length = %d, want 1 (placeholder removed)", len(msgs))
	}
	if msgs[0].Role != model.RoleUser {
		t.Errorf("remaining message role = %v", msgs[0].Role)
	}
}

func TestFailedMarksPlaceholder(t *testing.T) {
	gen := &fakeGen{outcome: client.OutcomeFailed, err: errors.New("boom")}
	saver := &fakeSaver{}
	c := newController(gen, saver, nil)

	res, err := c.SendMessage(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if res.Outcome != client.OutcomeFailed {
		t.Fatalf("Outcome = %v", res.Outcome)
	}

	msgs := c.Store().Active().History.Messages()
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2 (user message survives)", len(msgs))
	}
	if msgs[1].State != model.StateFailed {
		t.Errorf("State = %v, want failed", msgs[1].State)
	}
	if msgs[1].Content == "" {
		t.Error("failed placeholder should carry a failure notice")
	}
	if len(saver.saved) != 0 {
		t.Errorf("failed generation was persisted %d time(s), want none", len(saver.saved))
	}
}

// The failure notice lives in the UI only; a later request must not
// feed it back to the model as assistant context.
func TestFailureMarkerExcludedFromNextRequest(t *testing.T) {
	gen := &fakeGen{outcome: client.OutcomeFailed, err: errors.New("boom")}
	c := newController(gen, nil, nil)

	if _, err := c.SendMessage(context.Background(), "first", nil); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	gen.outcome = client.OutcomeSuccess
	gen.deltas = []string{"ok"}
	if _, err := c.SendMessage(context.Background(), "second", nil); err != nil {
		t.Fatalf("second SendMessage() error = %v", err)
	}

	for _, m := range gen.lastReq.Messages {
		if m.Role == "assistant" {
			t.Errorf("request carries assistant message %q from the failed exchange", m.Content)
		}
	}
	var contents []string
	for _, m := range gen.lastReq.Messages {
		contents = append(contents, m.Content)
	}
	if strings.Join(contents, "|") != "first|second" {
		t.Errorf("request messages = %v, want [first second]", contents)
	}
}

// blockingGen holds the stream open until released, so a session
// command can race the generation.
type blockingGen struct {
	started chan struct{}
	release chan struct{}
}

func (g *blockingGen) Generate(ctx context.Context, req client.ChatRequest, onDelta func(string)) client.Result {
	close(g.started)
	onDelta("partial")
	<-g.release
	return client.Result{Outcome: client.OutcomeCancelled, Text: "partial"}
}

// Deleting the chat mid-generation must not let the generation's exit
// path re-save the deleted session.
func TestDeleteDuringGenerationDoesNotResave(t *testing.T) {
	gen := &blockingGen{started: make(chan struct{}), release: make(chan struct{})}
	saver := &fakeSaver{}
	c := newController(gen, saver, nil)

	done := make(chan struct{})
	go func() {
		c.SendMessage(context.Background(), "hi", nil)
		close(done)
	}()
	<-gen.started

	id := c.Store().Active().ID
	if err := c.DeleteChat(context.Background(), id); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}

	close(gen.release)
	<-done

	for _, sess := range saver.saved {
		if sess.ID == id {
			t.Errorf("deleted session %s was re-saved to the persistence server", id)
		}
	}
	if len(saver.deleted) != 1 || saver.deleted[0] != id {
		t.Errorf("deleted = %v, want [%s]", saver.deleted, id)
	}
	if c.Busy() {
		t.Error("controller still busy after the generation ended")
	}
}

func TestRegenerateTruncatesHistory(t *testing.T) {
	gen := &fakeGen{deltas: []string{"B"}, outcome: client.OutcomeSuccess}
	saver := &fakeSaver{}
	c := newController(gen, saver, nil)

	// Build [user:A, assistant:B, user:C, assistant:D].
	c.SendMessage(context.Background(), "A", nil)
	gen.deltas = []string{"D"}
	c.SendMessage(context.Background(), "C", nil)

	sess := c.Store().Active()
	msgs := sess.History.Messages()
	if len(msgs) != 4 {
		t.Fatalf("setup history length = %d, want 4", len(msgs))
	}
	targetID := msgs[3].ID

	gen.deltas = []string{"D2"}
	saver.saved = nil
	res, err := c.Regenerate(context.Background(), targetID, nil)
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if res.Outcome != client.OutcomeSuccess {
		t.Fatalf("Outcome = %v", res.Outcome)
	}

	// Request was built from [A, B, C]: truncation kept the preceding
	// user message and dropped D.
	var reqContents []string
	for _, m := range gen.lastReq.Messages {
		reqContents = append(reqContents, m.Content)
	}
	if strings.Join(reqContents, "|") != "A|B|C" {
		t.Errorf("request messages = %v, want [A B C]", reqContents)
	}

	msgs = sess.History.Messages()
	if len(msgs) != 4 {
		t.Fatalf("history length = %d, want 4", len(msgs))
	}
	if msgs[3].Content != "D2" {
		t.Errorf("regenerated content = %q, want %q", msgs[3].Content, "D2")
	}
	if len(saver.saved) != 1 {
		t.Error("regenerate must always persist")
	}
}

func TestRegenerateRejectsUserMessage(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	c := newController(gen, nil, nil)
	c.SendMessage(context.Background(), "A", nil)

	userID := c.Store().Active().History.Messages()[0].ID
	if _, err := c.Regenerate(context.Background(), userID, nil); !errors.Is(err, ErrNotAssistant) {
		t.Errorf("err = %v, want ErrNotAssistant", err)
	}
	if _, err := c.Regenerate(context.Background(), "missing", nil); !errors.Is(err, ErrNotAssistant) {
		t.Errorf("err = %v, want ErrNotAssistant", err)
	}
}

func TestTemporarySessionNotPersisted(t *testing.T) {
	saver := &fakeSaver{}
	c := newController(&fakeGen{outcome: client.OutcomeSuccess}, saver, nil)

	// No sends at all: delete the draft. Nothing should reach the
	// server.
	draft := c.Store().Active()
	if err := c.DeleteChat(context.Background(), draft.ID); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if len(saver.deleted) != 0 {
		t.Error("deleting a draft must not call the persistence server")
	}
	if len(saver.saved) != 0 {
		t.Error("drafts must never be saved")
	}
}

func TestDeleteChatRemovesRemotely(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	saver := &fakeSaver{}
	c := newController(gen, saver, nil)

	c.SendMessage(context.Background(), "hello", nil)
	id := c.Store().Active().ID

	if err := c.DeleteChat(context.Background(), id); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if len(saver.deleted) != 1 || saver.deleted[0] != id {
		t.Errorf("deleted = %v, want [%s]", saver.deleted, id)
	}
	// The store replaced it with a fresh draft.
	if !c.Store().Active().Temporary {
		t.Error("active session after delete should be a draft")
	}
}

func TestPersistFailureIsNonFatal(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	saver := &fakeSaver{saveErr: errors.New("disk full")}
	c := newController(gen, saver, nil)

	res, err := c.SendMessage(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("SendMessage() error = %v, persistence failures must not surface", err)
	}
	if res.Outcome != client.OutcomeSuccess {
		t.Errorf("Outcome = %v", res.Outcome)
	}
	// The message stays in memory.
	if c.Store().Active().History.Len() != 2 {
		t.Error("history lost after persistence failure")
	}
}

func TestPersistUnauthorizedSurfaces(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	saver := &fakeSaver{saveErr: persist.ErrUnauthorized}
	c := newController(gen, saver, nil)

	_, err := c.SendMessage(context.Background(), "hello", nil)
	if !errors.Is(err, persist.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSystemMessageInjectedNotStored(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	c := newController(gen, nil, func(cfg *config.Config) {
		cfg.Preprocessing.SystemMessage = "You are terse."
	})

	c.SendMessage(context.Background(), "hi", nil)

	if gen.lastReq.Messages[0].Role != "system" || gen.lastReq.Messages[0].Content != "You are terse." {
		t.Errorf("first request message = %+v, want the system message", gen.lastReq.Messages[0])
	}
	for _, m := range c.Store().Active().History.Messages() {
		if m.Role == model.RoleSystem {
			t.Error("system message must never be stored in history")
		}
	}
}

func TestRequestCarriesChatParameters(t *testing.T) {
	gen := &fakeGen{deltas: []string{"ok"}, outcome: client.OutcomeSuccess}
	c := newController(gen, nil, func(cfg *config.Config) {
		cfg.Chat.Temperature = 0.3
		cfg.Chat.MaxTokens = 512
		cfg.Chat.PresencePenalty = 0.5
		cfg.Chat.FrequencyPenalty = -0.5
	})

	c.SendMessage(context.Background(), "hi", nil)

	req := gen.lastReq
	if !req.Stream {
		t.Error("request must set stream=true")
	}
	if req.Model != "test-model" || req.Temperature != 0.3 || req.MaxTokens != 512 ||
		req.PresencePenalty != 0.5 || req.FrequencyPenalty != -0.5 {
		t.Errorf("request parameters = %+v", req)
	}
}
