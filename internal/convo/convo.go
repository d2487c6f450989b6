// Package convo provides the persistent conversation store the listener
// resolves escalation sessions against. A conversation is a serialized list
// of prior context records owned by the conversational engine; each origin
// (adapter-scoped room key) may have one "current" conversation bound to it.
package convo

import (
	"context"
	"time"
)

// Conversation is a stored conversation with its serialized prior context.
type Conversation struct {
	ID        string
	Origin    string
	History   string // JSON array of {role, content} records
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Manager is the conversation store interface.
type Manager interface {
	// CurrentConversationID returns the conversation bound as current for
	// an origin, or "" when none is bound.
	CurrentConversationID(ctx context.Context, origin string) (string, error)

	// Conversation fetches a stored conversation. Returns (nil, nil) when
	// the conversation does not exist.
	Conversation(ctx context.Context, origin, id string) (*Conversation, error)

	// SaveConversation upserts a conversation's serialized history.
	SaveConversation(ctx context.Context, origin, id, history string) error

	// SetCurrent binds a conversation as current for an origin.
	SetCurrent(ctx context.Context, origin, id string) error

	// Close releases the underlying store.
	Close() error
}

// Pruner is implemented by stores that support retention pruning.
type Pruner interface {
	// PruneStale deletes conversations not updated since the cutoff and
	// returns how many were removed.
	PruneStale(ctx context.Context, cutoff time.Time) (int, error)
}
