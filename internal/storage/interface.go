package storage

import (
	"askgpt-backend/internal/model"
)

// RecordStore is the append-only per-conversation message log.
type RecordStore interface {
	// 消息管理
	// GetMessages returns the turns of a conversation in insertion order.
	// An unknown conversation yields an empty slice, not an error.
	GetMessages(conversationID string) ([]*model.Record, error)
	AddMessage(conversationID string, record *model.Record) error

	// 会话管理
	ListConversations() ([]*model.ConversationSummary, error)
	DeleteConversation(conversationID string) error

	// 存储管理
	Init() error
	Close() error
}
