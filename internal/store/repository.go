package store

import (
	"context"
	"errors"
	"time"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/state"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// MessageRepository defines operations for message persistence.
type MessageRepository interface {
	Store(ctx context.Context, msg *Message) error
	GetByID(ctx context.Context, msgID string) (*Message, error)
	List(ctx context.Context, chatJID string, limit int) ([]Message, error)
	Count(ctx context.Context, chatJID string) (int, error)
}

// ChatRepository defines operations for chat persistence.
type ChatRepository interface {
	Upsert(ctx context.Context, chat *Chat) error
	GetByJID(ctx context.Context, jid string) (*Chat, error)
	ListGroups(ctx context.Context) ([]Chat, error)
	UpdateLastMessage(ctx context.Context, jid string, t time.Time) error
}

// StateRepository defines operations for state persistence.
type StateRepository interface {
	GetState(ctx context.Context) (state.State, error)
	SaveState(ctx context.Context, s state.State) error
	LogTransition(ctx context.Context, from, to state.State, trigger, errMsg string) error
	GetTransitionHistory(ctx context.Context, limit int) ([]Transition, error)
}

var (
	_ MessageRepository = (*SQLiteMessageRepo)(nil)
	_ ChatRepository    = (*SQLiteChatRepo)(nil)
	_ StateRepository   = (*SQLiteStateRepo)(nil)
)
