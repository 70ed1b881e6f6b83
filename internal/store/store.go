// Package store persists conversation history. Two backends share one SQL
// implementation: an embedded SQLite file and Postgres.
package store

import (
	"context"
	"time"
)

// DefaultTitle is the title of a conversation before the leader names it.
const DefaultTitle = "New conversation"

// StoredMessage is one persisted conversation record.
type StoredMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Thoughts  []string  `json:"thoughts,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
}

// ConversationSummary is the list/search row shape.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation is a summary plus its ordered messages.
type Conversation struct {
	ConversationSummary
	Messages []StoredMessage `json:"messages"`
}

// HistoryStore is the conversation persistence contract. Messages within a
// conversation are returned in append order.
type HistoryStore interface {
	Initialize(ctx context.Context) error
	Create(ctx context.Context, title string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	GetOrCreate(ctx context.Context, id string) (*Conversation, error)
	ListSummaries(ctx context.Context) ([]ConversationSummary, error)
	SearchSummaries(ctx context.Context, query string) ([]ConversationSummary, error)
	AddMessage(ctx context.Context, conversationID string, msg StoredMessage) error
	UpdateTitle(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
	Close() error
}
