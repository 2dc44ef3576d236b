package models

import (
	"time"
)

const (
	SenderContact = "contact"
	SenderAgent   = "agent"
)

const (
	ContentText  = "text"
	ContentImage = "image"
	ContentFile  = "file"
)

const (
	DeliveryReceived = "received"
	DeliverySent     = "sent"
	DeliveryRead     = "read"
)

type Message struct {
	ID             string            `json:"id" db:"id"`
	TenantID       string            `json:"tenant_id" db:"tenant_id"`
	ConversationID string            `json:"conversation_id" db:"conversation_id"`
	ContactID      string            `json:"contact_id" db:"contact_id"`
	SenderType     string            `json:"sender_type" db:"sender_type"`
	Channel        Channel           `json:"channel" db:"channel"`
	ContentType    string            `json:"content_type" db:"content_type"`
	Content        string            `json:"content" db:"content"`
	MediaURL       *string           `json:"media_url,omitempty" db:"media_url"`
	ExternalID     string            `json:"external_id" db:"external_id"`
	Status         string            `json:"status" db:"status"`
	ReadAt         *time.Time        `json:"read_at,omitempty" db:"read_at"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

type SendMessageRequest struct {
	Content     string  `json:"content"`
	ContentType string  `json:"content_type"`
	MediaURL    *string `json:"media_url"`
	ExternalID  string  `json:"external_id"`
}

type MarkReadRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}
