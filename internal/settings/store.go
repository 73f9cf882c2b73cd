package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"askgpt-backend/internal/model"
	"askgpt-backend/pkg/logger"

	"gopkg.in/yaml.v3"
)

var ErrPersist = errors.New("settings persistence failed")

// Store hands out settings snapshots. Update replaces the whole snapshot (last write wins).
type Store interface {
	Get() model.Settings
	Update(s model.Settings) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	settings model.Settings
}

func NewMemoryStore(initial model.Settings) *MemoryStore {
	return &MemoryStore{settings: initial}
}

func (m *MemoryStore) Get() model.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

func (m *MemoryStore) Update(s model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

// FileStore keeps the snapshot in a YAML file and in memory.
type FileStore struct {
	path string

	mu       sync.RWMutex
	settings model.Settings
}

// NewFileStore loads path if it exists; otherwise it starts from defaults and writes them.
func NewFileStore(path string, defaults model.Settings) (*FileStore, error) {
	f := &FileStore{path: path, settings: defaults}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrPersist, err)
		}
		if err := f.write(defaults); err != nil {
			return nil, err
		}
		return f, nil
	}

	var loaded model.Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	f.settings = loaded

	logger.Debugf("Loaded settings from %s", path)
	return f, nil
}

func (f *FileStore) Get() model.Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}

func (f *FileStore) Update(s model.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.write(s); err != nil {
		return err
	}
	f.settings = s
	return nil
}

func (f *FileStore) write(s model.Settings) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	// settings 里有 api key
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}
