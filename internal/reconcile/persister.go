package reconcile

import (
	"context"
	"errors"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

type Outcome int

const (
	OutcomePersisted Outcome = iota + 1
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomePersisted:
		return "persisted"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return "unknown"
}

const metadataSyntheticID = "synthetic_id"

// Persister stores each external message at most once. It relies solely on
// the store's conditional insert; a conflict is a duplicate, not an error.
// The conversation's unread_count and last_message_at are credited by the
// same write, so only newly stored messages are ever counted.
type Persister struct {
	messages store.MessageStore
}

func NewPersister(messages store.MessageStore) *Persister {
	return &Persister{messages: messages}
}

func (p *Persister) Persist(ctx context.Context, env channel.Envelope, conv *models.Conversation) (Outcome, *models.Message, error) {
	msg := &models.Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		SenderType:     models.SenderContact,
		Channel:        env.Channel,
		ContentType:    env.ContentType(),
		Content:        env.Text,
		MediaURL:       env.MediaURL(),
		ExternalID:     env.ExternalMessageID,
		Status:         models.DeliveryReceived,
		Metadata:       map[string]string{},
		CreatedAt:      env.OccurredAt,
	}
	if env.ThreadID != "" {
		msg.Metadata[models.MetadataThreadID] = env.ThreadID
	}
	if env.SyntheticID {
		msg.Metadata[metadataSyntheticID] = "true"
	}

	err := p.messages.InsertInboundMessage(ctx, msg)
	switch {
	case err == nil:
		return OutcomePersisted, msg, nil
	case errors.Is(err, store.ErrConflict):
		return OutcomeDuplicate, nil, nil
	default:
		return 0, nil, err
	}
}
