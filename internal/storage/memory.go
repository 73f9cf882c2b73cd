package storage

import (
	"sort"
	"sync"
	"time"

	"askgpt-backend/internal/model"
)

type memoryConversation struct {
	records   []model.Record
	updatedAt time.Time
}

type MemoryStorage struct {
	conversations map[string]*memoryConversation
	mu            sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*memoryConversation),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) AddMessage(conversationID string, record *model.Record) error {
	if conversationID == "" || record == nil {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		conv = &memoryConversation{}
		m.conversations[conversationID] = conv
	}

	conv.records = append(conv.records, *record)
	conv.updatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) GetMessages(conversationID string) ([]*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return []*model.Record{}, nil
	}

	records := make([]*model.Record, len(conv.records))
	for i := range conv.records {
		rec := conv.records[i]
		records[i] = &rec
	}

	return records, nil
}

func (m *MemoryStorage) ListConversations() ([]*model.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]*model.ConversationSummary, 0, len(m.conversations))
	for id, conv := range m.conversations {
		summaries = append(summaries, &model.ConversationSummary{
			ConversationID: id,
			MessageCount:   len(conv.records),
			UpdatedAt:      conv.updatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

func (m *MemoryStorage) DeleteConversation(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversationID]; !exists {
		return ErrConversationNotFound
	}

	delete(m.conversations, conversationID)
	return nil
}
