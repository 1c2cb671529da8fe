package domain

import (
	"context"
	"time"
)

// Session is the last turn seen for a conversation.
type Session struct {
	ConversationID string    `json:"conversation_id"`
	Turn           Turn      `json:"turn"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SessionStore keeps at most one session per conversation id; Put overwrites.
type SessionStore interface {
	Put(ctx context.Context, conversationID string, turn Turn) error
	// Get returns ok=false when no live session exists.
	Get(ctx context.Context, conversationID string) (*Session, bool, error)
	Clear(ctx context.Context, conversationID string) error
	Close() error
}
