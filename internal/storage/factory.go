package storage

import (
	"path/filepath"

	"askgpt-backend/internal/config"
	"askgpt-backend/pkg/logger"
)

// New builds and initializes the record store selected by cfg.Type.
// If the configured store fails to initialize, it falls back to memory.
func New(cfg config.StorageConfig) RecordStore {
	var store RecordStore

	switch cfg.Type {
	case "disk":
		store = NewDiskStorage(cfg.DataDir, cfg.CacheSize)
	case "badger":
		store = NewBadgerStorage(filepath.Join(cfg.DataDir, "badger"))
	default:
		store = NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize %s storage: %v", cfg.Type, err)
		store = NewMemoryStorage()
		store.Init()
	}

	return store
}
