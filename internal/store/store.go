// Package store defines the persistence port shared by the reconciliation
// engine and the HTTP collaborators. Implementations must enforce the
// uniqueness rules below themselves; callers never check-then-insert.
//
//   - contacts: one row per (tenant, channel identifier)
//   - conversations: one open row per (contact, channel)
//   - messages: one row per (tenant, channel, external id)
package store

import (
	"context"
	"errors"
	"time"

	"omnichannel-backend/internal/models"
)

var (
	// ErrNotFound is returned by lookups that matched no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by conditional inserts that hit a uniqueness rule.
	ErrConflict = errors.New("store: unique conflict")
)

type ContactStore interface {
	FindContactByExternalID(ctx context.Context, tenantID string, ch models.Channel, externalID string) (*models.Contact, error)
	// CreateContact inserts c and fills its ID and timestamps.
	CreateContact(ctx context.Context, c *models.Contact) error
	// TouchContact sets last_contact_date and, when name is non-empty, the name.
	TouchContact(ctx context.Context, id string, name string, at time.Time) error
}

type ConversationStore interface {
	FindOpenConversation(ctx context.Context, contactID string, ch models.Channel) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, tenantID string) ([]models.Conversation, error)
	// DeleteConversation removes the conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error
}

// MessageFilter selects messages of one conversation. An empty SenderType
// matches both sides.
type MessageFilter struct {
	ConversationID string
	SenderType     string
}

type MessageStore interface {
	// InsertMessage stores m unless a message with the same tenant, channel
	// and external id exists, in which case it returns ErrConflict.
	InsertMessage(ctx context.Context, m *models.Message) error
	// InsertInboundMessage stores a customer message like InsertMessage and,
	// in the same atomic write, adds one unread message to its conversation
	// and moves last_message_at forward to m.CreatedAt. A duplicate returns
	// ErrConflict and leaves the conversation untouched.
	InsertInboundMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns messages ordered by created_at, then id.
	ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error)
	// MarkMessagesRead stamps read_at on unread messages among ids and
	// recomputes unread_count of the affected conversations. It returns the
	// number of messages changed.
	MarkMessagesRead(ctx context.Context, ids []string, at time.Time) (int64, error)
	DeleteMessage(ctx context.Context, id string) error
}

type Store interface {
	ContactStore
	ConversationStore
	MessageStore
}
