package reconcile

import (
	"context"
	"time"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

// Router keeps one open conversation per (contact, channel). Provider thread
// ids are stored as metadata only and never split a conversation.
type Router struct {
	conversations store.ConversationStore
	now           func() time.Time
}

func NewRouter(conversations store.ConversationStore) *Router {
	return &Router{conversations: conversations, now: utcNow}
}

func (r *Router) Route(ctx context.Context, contact *models.Contact, ch models.Channel, threadID string) (*models.Conversation, bool, error) {
	return ResolveOrCreate(ctx,
		func(ctx context.Context) (*models.Conversation, error) {
			return r.conversations.FindOpenConversation(ctx, contact.ID, ch)
		},
		func(ctx context.Context) (*models.Conversation, error) {
			conv := &models.Conversation{
				TenantID:      contact.TenantID,
				ContactID:     contact.ID,
				Channel:       ch,
				Status:        models.ConversationStatusOpen,
				LastMessageAt: r.now(),
				UnreadCount:   0,
				Metadata:      map[string]string{},
			}
			if threadID != "" {
				conv.Metadata[models.MetadataThreadID] = threadID
			}
			if err := r.conversations.CreateConversation(ctx, conv); err != nil {
				return nil, err
			}
			return conv, nil
		},
	)
}
