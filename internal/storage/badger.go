package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"askgpt-backend/internal/model"
	"askgpt-backend/pkg/logger"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	rec/<conversationID>/<seq:020d> -> JSON model.Record
//	meta/<conversationID>           -> JSON badgerMeta
const (
	recordPrefix = "rec/"
	metaPrefix   = "meta/"
)

type badgerMeta struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BadgerStorage stores records in an embedded BadgerDB.
type BadgerStorage struct {
	path     string
	inMemory bool

	// 串行化写入，避免事务冲突
	mu sync.Mutex
	db *badger.DB
}

func NewBadgerStorage(path string) *BadgerStorage {
	return &BadgerStorage{path: path}
}

// NewInMemoryBadgerStorage is used by tests; nothing touches the disk.
func NewInMemoryBadgerStorage() *BadgerStorage {
	return &BadgerStorage{inMemory: true}
}

func (b *BadgerStorage) Init() error {
	var opts badger.Options
	if b.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if b.path == "" {
			return fmt.Errorf("%w: path is required for persistent database", ErrStorageInit)
		}
		if err := os.MkdirAll(b.path, 0750); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
		opts = badger.DefaultOptions(b.path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	b.db = db

	logger.Infof("Badger record storage initialized (in_memory=%v)", b.inMemory)
	return nil
}

func recordKey(conversationID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", recordPrefix, conversationID, seq))
}

func recordsPrefix(conversationID string) []byte {
	return []byte(recordPrefix + conversationID + "/")
}

func metaKey(conversationID string) []byte {
	return []byte(metaPrefix + conversationID)
}

func readMeta(txn *badger.Txn, conversationID string) (badgerMeta, error) {
	var meta badgerMeta

	item, err := txn.Get(metaKey(conversationID))
	if err != nil {
		return meta, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	return meta, err
}

func (b *BadgerStorage) AddMessage(conversationID string, record *model.Record) error {
	if conversationID == "" || strings.Contains(conversationID, "/") || record == nil {
		return ErrInvalidData
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		meta, err := readMeta(txn, conversationID)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(recordKey(conversationID, meta.Count), data); err != nil {
			return err
		}

		meta.Count++
		meta.UpdatedAt = time.Now()
		metaData, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return txn.Set(metaKey(conversationID), metaData)
	})
}

func (b *BadgerStorage) GetMessages(conversationID string) ([]*model.Record, error) {
	records := []*model.Record{}
	if conversationID == "" {
		return records, nil
	}

	prefix := recordsPrefix(conversationID)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec model.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidData, err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (b *BadgerStorage) ListConversations() ([]*model.ConversationSummary, error) {
	summaries := []*model.ConversationSummary{}
	prefix := []byte(metaPrefix)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var meta badgerMeta
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidData, err)
			}
			summaries = append(summaries, &model.ConversationSummary{
				ConversationID: strings.TrimPrefix(string(item.Key()), metaPrefix),
				MessageCount:   meta.Count,
				UpdatedAt:      meta.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (b *BadgerStorage) DeleteConversation(conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(conversationID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return err
	}

	// meta/<id> 不能按前缀删除，否则会误删 meta/<id>xxx
	if err := b.db.DropPrefix(recordsPrefix(conversationID)); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(conversationID))
	})
}

func (b *BadgerStorage) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through logrus at reduced verbosity.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { logger.Errorf(format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { logger.Warnf(format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { logger.Debugf(format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { logger.Debugf(format, args...) }
