package main

import (
	"errors"
	"fmt"
	"os"

	"askgpt-backend/internal/config"
	"askgpt-backend/internal/model"
	"askgpt-backend/internal/remote"
	"askgpt-backend/internal/service"
	"askgpt-backend/internal/settings"
	"askgpt-backend/internal/storage"
	"askgpt-backend/pkg/logger"

	"github.com/spf13/cobra"
)

// app holds everything a command needs.
type app struct {
	cfg      *config.Config
	records  storage.RecordStore
	settings settings.Store
	backend  *remote.Client
	chat     *service.ChatService
}

// resolveConfigPath falls back to defaults and environment when the default file is absent.
func resolveConfigPath(cmd *cobra.Command, path string) string {
	if cmd.Flags().Changed("config") {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(resolveConfigPath(cmd, configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	// 除 serve 外，stdout 只输出结果
	if cmd.Name() != "serve" {
		logger.SetOutput(cmd.ErrOrStderr())
	}

	records := storage.New(cfg.Storage)

	defaults := model.Settings{
		SystemMessage:  cfg.Chat.SystemPrompt,
		UseChatContext: cfg.Chat.UseContext,
	}
	var store settings.Store
	fileStore, err := settings.NewFileStore(cfg.Settings.Path, defaults)
	if err != nil {
		logger.Warnf("Failed to open settings file %s, keeping settings in memory: %v", cfg.Settings.Path, err)
		store = settings.NewMemoryStore(defaults)
	} else {
		store = fileStore
	}

	var backend *remote.Client
	if cfg.Backend.BaseURL != "" {
		backend = remote.NewClient(cfg.Backend)
	}

	return &app{
		cfg:      cfg,
		records:  records,
		settings: store,
		backend:  backend,
		chat:     service.NewChatService(cfg, records, backend),
	}, nil
}

func (a *app) Close() {
	if err := a.records.Close(); err != nil {
		logger.Errorf("Failed to close record store: %v", err)
	}
}

// saveConversation persists new conversation identifiers on top of the stored settings.
func (a *app) saveConversation(before, after model.Settings) error {
	if before.ConversationRequest == after.ConversationRequest {
		return nil
	}
	latest := a.settings.Get()
	latest.ConversationRequest = after.ConversationRequest
	return a.settings.Update(latest)
}
