// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chatflowd is the chat persistence server: a small HTTP service that
// stores one JSON file per chat.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/chatflow/internal/config"
	"github.com/jeranaias/chatflow/internal/logging"
	"github.com/jeranaias/chatflow/internal/server"
	"github.com/jeranaias/chatflow/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatflowd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "chatflow.toml", "path to config file")
	port := flag.Int("port", 0, "override the configured listen port")
	chatsDir := flag.String("chats-dir", "", "override the configured chats directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *chatsDir != "" {
		cfg.Server.ChatsDir = *chatsDir
	}
	config.SetGlobal(cfg)

	logger := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	store, err := storage.NewChatStore(cfg.Server.ChatsDir)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
