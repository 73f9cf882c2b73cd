package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"askgpt-backend/internal/model"
	"askgpt-backend/pkg/logger"
)

// DiskStorage keeps one JSON file per conversation under dataDir/records plus an index file.
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*diskConversation
	cacheSize int
}

type diskConversation struct {
	records   []model.Record
	updatedAt time.Time
}

type ConversationIndex struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*diskConversation),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	if err := os.MkdirAll(d.recordsDir(), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk record storage initialized successfully")
	return nil
}

func (d *DiskStorage) recordsDir() string {
	return filepath.Join(d.dataDir, "records")
}

func (d *DiskStorage) indexPath() string {
	return filepath.Join(d.dataDir, "conversations.json")
}

func (d *DiskStorage) recordsPath(conversationID string) string {
	return filepath.Join(d.recordsDir(), conversationID+".json")
}

// 会话ID直接作为文件名，必须拒绝路径分隔符
func validID(conversationID string) bool {
	if conversationID == "" || conversationID == "." || conversationID == ".." {
		return false
	}
	return !strings.ContainsAny(conversationID, `/\`)
}

func (d *DiskStorage) loadIndex() error {
	if _, err := os.Stat(d.indexPath()); os.IsNotExist(err) {
		return d.saveIndex([]*ConversationIndex{})
	}

	indexes, err := d.readIndex()
	if err != nil {
		return err
	}

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		records, err := d.loadRecordsFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load conversation %s: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = &diskConversation{records: records, updatedAt: index.UpdatedAt}
	}

	return nil
}

func (d *DiskStorage) readIndex() ([]*ConversationIndex, error) {
	data, err := os.ReadFile(d.indexPath())
	if err != nil {
		return nil, err
	}

	var indexes []*ConversationIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

func (d *DiskStorage) loadRecordsFromFile(conversationID string) ([]model.Record, error) {
	data, err := os.ReadFile(d.recordsPath(conversationID))
	if err != nil {
		return nil, err
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	return records, nil
}

func writeFileAtomic(path string, v interface{}) error {
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func (d *DiskStorage) saveIndex(indexes []*ConversationIndex) error {
	return writeFileAtomic(d.indexPath(), indexes)
}

// conversation returns the cached conversation, loading it from disk when needed.
// Callers hold d.mu for writing.
func (d *DiskStorage) conversation(conversationID string) (*diskConversation, error) {
	if conv, exists := d.cache[conversationID]; exists {
		return conv, nil
	}

	records, err := d.loadRecordsFromFile(conversationID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(d.recordsPath(conversationID))
	updatedAt := time.Now()
	if err == nil {
		updatedAt = info.ModTime()
	}

	conv := &diskConversation{records: records, updatedAt: updatedAt}
	d.cache[conversationID] = conv
	d.evictCache(conversationID)
	return conv, nil
}

func (d *DiskStorage) AddMessage(conversationID string, record *model.Record) error {
	if !validID(conversationID) || record == nil {
		return ErrInvalidData
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conv, err := d.conversation(conversationID)
	created := false
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		conv = &diskConversation{}
		created = true
	}

	// 写盘成功后才更新缓存
	next := append(slices.Clone(conv.records), *record)
	if err := writeFileAtomic(d.recordsPath(conversationID), next); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	conv.records = next
	conv.updatedAt = time.Now()
	if created {
		d.cache[conversationID] = conv
		d.evictCache(conversationID)
	}

	return d.upsertIndex(conversationID, len(conv.records), conv.updatedAt)
}

func (d *DiskStorage) GetMessages(conversationID string) ([]*model.Record, error) {
	if !validID(conversationID) {
		return []*model.Record{}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conv, err := d.conversation(conversationID)
	if err != nil {
		if os.IsNotExist(err) {
			return []*model.Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	records := make([]*model.Record, len(conv.records))
	for i := range conv.records {
		rec := conv.records[i]
		records[i] = &rec
	}

	return records, nil
}

func (d *DiskStorage) ListConversations() ([]*model.ConversationSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	indexes, err := d.readIndex()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	summaries := make([]*model.ConversationSummary, 0, len(indexes))
	for _, index := range indexes {
		summaries = append(summaries, &model.ConversationSummary{
			ConversationID: index.ID,
			MessageCount:   index.MessageCount,
			UpdatedAt:      index.UpdatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

func (d *DiskStorage) DeleteConversation(conversationID string) error {
	if !validID(conversationID) {
		return ErrConversationNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.recordsPath(conversationID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrConversationNotFound
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, conversationID)

	indexes, err := d.readIndex()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	kept := indexes[:0]
	for _, index := range indexes {
		if index.ID != conversationID {
			kept = append(kept, index)
		}
	}
	if err := d.saveIndex(kept); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) upsertIndex(conversationID string, count int, updatedAt time.Time) error {
	indexes, err := d.readIndex()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	found := false
	for _, index := range indexes {
		if index.ID == conversationID {
			index.MessageCount = count
			index.UpdatedAt = updatedAt
			found = true
			break
		}
	}
	if !found {
		indexes = append(indexes, &ConversationIndex{
			ID:           conversationID,
			MessageCount: count,
			UpdatedAt:    updatedAt,
		})
	}

	if err := d.saveIndex(indexes); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

// evictCache drops the least recently updated entries, never the one just touched.
func (d *DiskStorage) evictCache(keep string) {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}

	var entries []cacheEntry
	for id, conv := range d.cache {
		if id == keep {
			continue
		}
		entries = append(entries, cacheEntry{
			id:        id,
			updatedAt: conv.updatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict && i < len(entries); i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*diskConversation)
	return nil
}
