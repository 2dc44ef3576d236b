package models

import "time"

const (
	ConversationStatusOpen   = "open"
	ConversationStatusClosed = "closed"
)

// MetadataThreadID is the conversation metadata key holding the channel-native thread id.
const MetadataThreadID = "thread_id"

type Conversation struct {
	ID            string            `json:"id" db:"id"`
	TenantID      string            `json:"tenant_id" db:"tenant_id"`
	ContactID     string            `json:"contact_id" db:"contact_id"`
	Channel       Channel           `json:"channel" db:"channel"`
	Status        string            `json:"status" db:"status"`
	LastMessageAt time.Time         `json:"last_message_at" db:"last_message_at"`
	UnreadCount   int               `json:"unread_count" db:"unread_count"`
	Metadata      map[string]string `json:"metadata" db:"metadata"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

func (c *Conversation) IsOpen() bool {
	return c.Status == ConversationStatusOpen
}
