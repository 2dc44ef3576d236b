// Package memory is an in-process store.Store used by tests and demo mode.
// It enforces the same uniqueness rules as the Postgres schema.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

type Store struct {
	mu            sync.Mutex
	contacts      map[string]*models.Contact
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		contacts:      make(map[string]*models.Contact),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
	}
}

func copyContact(c *models.Contact) *models.Contact {
	out := *c
	if c.Phone != nil {
		v := *c.Phone
		out.Phone = &v
	}
	if c.MessengerID != nil {
		v := *c.MessengerID
		out.MessengerID = &v
	}
	if c.InstagramID != nil {
		v := *c.InstagramID
		out.InstagramID = &v
	}
	return &out
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}

func copyMessage(m *models.Message) *models.Message {
	out := *m
	out.Metadata = maps.Clone(m.Metadata)
	if m.MediaURL != nil {
		v := *m.MediaURL
		out.MediaURL = &v
	}
	if m.ReadAt != nil {
		v := *m.ReadAt
		out.ReadAt = &v
	}
	return &out
}

func (s *Store) FindContactByExternalID(_ context.Context, tenantID string, ch models.Channel, externalID string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.contactByExternalID(tenantID, ch, externalID); c != nil {
		return copyContact(c), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) contactByExternalID(tenantID string, ch models.Channel, externalID string) *models.Contact {
	for _, c := range s.contacts {
		if c.TenantID == tenantID && externalID != "" && c.ExternalID(ch) == externalID {
			return c
		}
	}
	return nil
}

func (s *Store) CreateContact(_ context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range models.Channels {
		if id := c.ExternalID(ch); id != "" && s.contactByExternalID(c.TenantID, ch, id) != nil {
			return store.ErrConflict
		}
	}
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.contacts[c.ID] = copyContact(c)
	return nil
}

func (s *Store) TouchContact(_ context.Context, id string, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return store.ErrNotFound
	}
	if at.After(c.LastContactDate) {
		c.LastContactDate = at
	}
	if name != "" {
		c.Name = name
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) FindOpenConversation(_ context.Context, contactID string, ch models.Channel) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.openConversation(contactID, ch); c != nil {
		return copyConversation(c), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) openConversation(contactID string, ch models.Channel) *models.Conversation {
	for _, c := range s.conversations {
		if c.ContactID == contactID && c.Channel == ch && c.IsOpen() {
			return c
		}
	}
	return nil
}

func (s *Store) CreateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[conv.ContactID]; !ok {
		return store.ErrNotFound
	}
	if conv.IsOpen() && s.openConversation(conv.ContactID, conv.Channel) != nil {
		return store.ErrConflict
	}
	now := time.Now().UTC()
	conv.ID = uuid.NewString()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.Metadata == nil {
		conv.Metadata = map[string]string{}
	}
	s.conversations[conv.ID] = copyConversation(conv)
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyConversation(c), nil
}

func (s *Store) ListConversations(_ context.Context, tenantID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Conversation{}
	for _, c := range s.conversations {
		if c.TenantID == tenantID {
			out = append(out, *copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return store.ErrNotFound
	}
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	delete(s.conversations, id)
	return nil
}

func (s *Store) InsertMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMessage(m)
}

func (s *Store) InsertInboundMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertMessage(m); err != nil {
		return err
	}
	c := s.conversations[m.ConversationID]
	c.UnreadCount++
	if m.CreatedAt.After(c.LastMessageAt) {
		c.LastMessageAt = m.CreatedAt
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) insertMessage(m *models.Message) error {
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return store.ErrNotFound
	}
	for _, existing := range s.messages {
		if existing.TenantID == m.TenantID && existing.Channel == m.Channel && existing.ExternalID == m.ExternalID {
			return store.ErrConflict
		}
	}
	m.ID = uuid.NewString()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.ID] = copyMessage(m)
	return nil
}

func (s *Store) ListMessages(_ context.Context, filter store.MessageFilter) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, m := range s.messages {
		if m.ConversationID != filter.ConversationID {
			continue
		}
		if filter.SenderType != "" && m.SenderType != filter.SenderType {
			continue
		}
		out = append(out, *copyMessage(m))
	}
	slices.SortFunc(out, func(a, b models.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) MarkMessagesRead(_ context.Context, ids []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	touched := map[string]struct{}{}
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.ReadAt != nil {
			continue
		}
		readAt := at
		m.ReadAt = &readAt
		m.Status = models.DeliveryRead
		touched[m.ConversationID] = struct{}{}
		changed++
	}
	for convID := range touched {
		conv, ok := s.conversations[convID]
		if !ok {
			continue
		}
		unread := 0
		for _, m := range s.messages {
			if m.ConversationID == convID && m.SenderType == models.SenderContact && m.ReadAt == nil {
				unread++
			}
		}
		conv.UnreadCount = unread
	}
	return changed, nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

// Counts reports the number of stored contacts, conversations and messages.
func (s *Store) Counts() (contacts, conversations, messages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contacts), len(s.conversations), len(s.messages)
}

// Contacts returns a snapshot of all contacts.
func (s *Store) Contacts() []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *copyContact(c))
	}
	return out
}
