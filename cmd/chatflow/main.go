// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chatflow is a line-mode chat client: it streams completions from an
// OpenAI-compatible API and keeps chat history on the chatflowd
// persistence server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/chatflow/internal/chat"
	"github.com/jeranaias/chatflow/internal/client"
	"github.com/jeranaias/chatflow/internal/config"
	"github.com/jeranaias/chatflow/internal/logging"
	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/persist"
	"github.com/jeranaias/chatflow/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatflow:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "chatflow.toml", "path to config file")
	modelFlag := flag.String("model", "", "override the configured model")
	noPersist := flag.Bool("no-persist", false, "disable the persistence server")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *modelFlag != "" {
		cfg.Chat.Model = *modelFlag
	}
	config.SetGlobal(cfg)

	logger := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Quiet:      true,
	})

	api := client.New(cfg.API.BaseURL, cfg.API.ChatEndpoint, cfg.API.APIKey, logger)

	var saver chat.Persister
	if !*noPersist {
		saver = persist.New(cfg.Server.BaseURL(), cfg.Server.AuthToken)
	}

	ctrl := chat.NewController(cfg, store.New(cfg.Chat.Model), api, saver, logger)

	ctx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	if saver != nil {
		if err := ctrl.LoadChats(ctx); err != nil {
			if errors.Is(err, persist.ErrUnauthorized) {
				return err
			}
			fmt.Fprintln(os.Stderr, "warning: could not load saved chats:", err)
		}
	}

	// Live config reload keeps long sessions in sync with edits to the
	// config file.
	go func() {
		_ = config.Watch(ctx, *configPath, logger, func(fresh *config.Config) {
			config.SetGlobal(fresh)
			ctrl.UpdateConfig(fresh)
		})
	}()

	// Ctrl+C stops the in-flight generation; a second press (or one
	// while idle) exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
			if !ctrl.Stop() {
				cancelAll()
			}
		}
	}()

	return repl(ctx, ctrl, api)
}

func repl(ctx context.Context, ctrl *chat.Controller, api *client.Client) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), ".chatflow_history")
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("chatflow — /help for commands")
	for ctx.Err() == nil {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			return nil // EOF
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := command(ctx, ctrl, api, input); quit {
				return nil
			}
			continue
		}

		send(ctx, ctrl, input)
	}
	return nil
}

func send(ctx context.Context, ctrl *chat.Controller, text string) {
	res, err := ctrl.SendMessage(ctx, text, func(delta string) {
		fmt.Print(delta)
	})
	fmt.Println()
	report(res, err)
}

func report(res client.Result, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		// Nothing to do.
	case errors.Is(err, persist.ErrUnauthorized):
		fmt.Fprintln(os.Stderr, "persistence server rejected the auth token; chats are no longer being saved")
	case err != nil:
		fmt.Fprintln(os.Stderr, "error:", err)
	case res.Outcome == client.OutcomeCancelled:
		fmt.Println("[stopped]")
	case res.Outcome == client.OutcomeFailed:
		fmt.Fprintln(os.Stderr, "error:", res.Err)
	}
}

func command(ctx context.Context, ctrl *chat.Controller, api *client.Client, input string) (quit bool) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(`commands:
  /new           start a new chat
  /chats         list chats
  /switch <n>    switch to chat n
  /delete <n>    delete chat n
  /regen         regenerate the last reply
  /stop          stop the in-flight generation (Ctrl+C also works)
  /models        list available models
  /quit          exit`)

	case "/stop":
		if !ctrl.Stop() {
			fmt.Println("nothing to stop")
		}

	case "/new":
		ctrl.NewChat()
		fmt.Println("started a new chat")

	case "/chats":
		active := ctrl.Store().Active()
		for i, sess := range ctrl.Store().Sessions() {
			marker := " "
			if sess.ID == active.ID {
				marker = "*"
			}
			title := sess.Title
			if sess.Temporary {
				title += " (draft)"
			}
			fmt.Printf("%s %2d  %s\n", marker, i+1, title)
		}

	case "/switch":
		sess, ok := sessionArg(ctrl, fields)
		if !ok {
			return false
		}
		if _, err := ctrl.SwitchChat(sess.ID); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return false
		}
		fmt.Println("switched to:", sess.Title)
		for _, m := range ctrl.Store().Active().History.Messages() {
			fmt.Printf("[%s] %s\n", m.Role, m.Display())
		}

	case "/delete":
		sess, ok := sessionArg(ctrl, fields)
		if !ok {
			return false
		}
		if err := ctrl.DeleteChat(ctx, sess.ID); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return false
		}
		fmt.Println("deleted:", sess.Title)

	case "/regen":
		history := ctrl.Store().Active().History
		var lastAssistant *model.Message
		for _, m := range history.Messages() {
			if m.Role == model.RoleAssistant {
				lastAssistant = m
			}
		}
		if lastAssistant == nil {
			fmt.Println("nothing to regenerate")
			return false
		}
		res, err := ctrl.Regenerate(ctx, lastAssistant.ID, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
		report(res, err)

	case "/models":
		models, err := api.ListModels(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return false
		}
		for _, id := range models {
			fmt.Println(id)
		}

	default:
		fmt.Println("unknown command; /help for a list")
	}
	return false
}

// sessionArg resolves a 1-based list index argument to a session.
func sessionArg(ctrl *chat.Controller, fields []string) (*model.Session, bool) {
	if len(fields) < 2 {
		fmt.Println("usage:", fields[0], "<n>")
		return nil, false
	}
	n, err := strconv.Atoi(fields[1])
	sessions := ctrl.Store().Sessions()
	if err != nil || n < 1 || n > len(sessions) {
		fmt.Println("no such chat:", fields[1])
		return nil, false
	}
	return sessions[n-1], true
}
