// Package storetest holds a behavioural suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

// Run executes the suite. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("ContactUniqueness", func(t *testing.T) { testContactUniqueness(t, newStore(t)) })
	t.Run("TouchContact", func(t *testing.T) { testTouchContact(t, newStore(t)) })
	t.Run("OneOpenConversation", func(t *testing.T) { testOneOpenConversation(t, newStore(t)) })
	t.Run("MessageDedup", func(t *testing.T) { testMessageDedup(t, newStore(t)) })
	t.Run("ConcurrentMessageInsert", func(t *testing.T) { testConcurrentMessageInsert(t, newStore(t)) })
	t.Run("InboundMessageCredit", func(t *testing.T) { testInboundMessageCredit(t, newStore(t)) })
	t.Run("ListMessagesOrderAndFilter", func(t *testing.T) { testListMessages(t, newStore(t)) })
	t.Run("MarkMessagesRead", func(t *testing.T) { testMarkMessagesRead(t, newStore(t)) })
	t.Run("Deletes", func(t *testing.T) { testDeletes(t, newStore(t)) })
}

// tenant returns a fresh tenant so suites can share one database.
func tenant() string {
	return "t-" + uuid.NewString()
}

func newContact(tenantID string, ch models.Channel, externalID string) *models.Contact {
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &models.Contact{
		TenantID:         tenantID,
		Name:             models.PlaceholderName(ch, externalID),
		Status:           models.ContactStatusActive,
		Source:           ch,
		FirstContactDate: now,
		LastContactDate:  now,
	}
	c.SetExternalID(ch, externalID)
	return c
}

func seedConversation(t *testing.T, s store.Store, tenantID string) (*models.Contact, *models.Conversation) {
	t.Helper()
	ctx := context.Background()
	contact := newContact(tenantID, models.ChannelMessenger, uuid.NewString())
	require.NoError(t, s.CreateContact(ctx, contact))
	conv := &models.Conversation{
		TenantID:      tenantID,
		ContactID:     contact.ID,
		Channel:       models.ChannelMessenger,
		Status:        models.ConversationStatusOpen,
		LastMessageAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:      map[string]string{models.MetadataThreadID: "t_1"},
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	return contact, conv
}

func newMessage(tenantID string, conv *models.Conversation, externalID string, at time.Time) *models.Message {
	return &models.Message{
		TenantID:       tenantID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		SenderType:     models.SenderContact,
		Channel:        conv.Channel,
		ContentType:    models.ContentText,
		Content:        "hello " + externalID,
		ExternalID:     externalID,
		Status:         models.DeliveryReceived,
		CreatedAt:      at,
	}
}

func testContactUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()

	first := newContact(tid, models.ChannelInstagram, "ig-1")
	require.NoError(t, s.CreateContact(ctx, first))
	require.NotEmpty(t, first.ID)

	dup := newContact(tid, models.ChannelInstagram, "ig-1")
	assert.ErrorIs(t, s.CreateContact(ctx, dup), store.ErrConflict)

	// same id on another channel or tenant is a different person
	require.NoError(t, s.CreateContact(ctx, newContact(tid, models.ChannelMessenger, "ig-1")))
	require.NoError(t, s.CreateContact(ctx, newContact(tenant(), models.ChannelInstagram, "ig-1")))

	found, err := s.FindContactByExternalID(ctx, tid, models.ChannelInstagram, "ig-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "ig-1", found.ExternalID(models.ChannelInstagram))

	_, err = s.FindContactByExternalID(ctx, tid, models.ChannelWhatsApp, "ig-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTouchContact(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	c := newContact(tid, models.ChannelWhatsApp, "5511")
	require.NoError(t, s.CreateContact(ctx, c))

	later := c.LastContactDate.Add(time.Hour)
	require.NoError(t, s.TouchContact(ctx, c.ID, "", later))
	got, err := s.FindContactByExternalID(ctx, tid, models.ChannelWhatsApp, "5511")
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.True(t, got.LastContactDate.Equal(later))

	require.NoError(t, s.TouchContact(ctx, c.ID, "Maria", later))
	got, err = s.FindContactByExternalID(ctx, tid, models.ChannelWhatsApp, "5511")
	require.NoError(t, err)
	assert.Equal(t, "Maria", got.Name)

	assert.ErrorIs(t, s.TouchContact(ctx, uuid.NewString(), "", later), store.ErrNotFound)
}

func testOneOpenConversation(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	contact, conv := seedConversation(t, s, tid)

	again := &models.Conversation{
		TenantID:  tid,
		ContactID: contact.ID,
		Channel:   models.ChannelMessenger,
		Status:    models.ConversationStatusOpen,
	}
	assert.ErrorIs(t, s.CreateConversation(ctx, again), store.ErrConflict)

	found, err := s.FindOpenConversation(ctx, contact.ID, models.ChannelMessenger)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)
	assert.Equal(t, "t_1", found.Metadata[models.MetadataThreadID])
	assert.Equal(t, 0, found.UnreadCount)

	_, err = s.FindOpenConversation(ctx, contact.ID, models.ChannelInstagram)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMessageDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	_, conv := seedConversation(t, s, tid)
	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	m := newMessage(tid, conv, "mid-1", at)
	require.NoError(t, s.InsertMessage(ctx, m))
	assert.NotEmpty(t, m.ID)

	assert.ErrorIs(t, s.InsertMessage(ctx, newMessage(tid, conv, "mid-1", at)), store.ErrConflict)

	msgs, err := s.ListMessages(ctx, store.MessageFilter{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testConcurrentMessageInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	_, conv := seedConversation(t, s, tid)
	at := time.Now().UTC().Truncate(time.Microsecond)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InsertInboundMessage(ctx, newMessage(tid, conv, "race", at))
		}()
	}
	wg.Wait()
	close(errs)

	inserted := 0
	for err := range errs {
		if err == nil {
			inserted++
			continue
		}
		assert.ErrorIs(t, err, store.ErrConflict)
	}
	assert.Equal(t, 1, inserted)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
}

func testInboundMessageCredit(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	_, conv := seedConversation(t, s, tid)

	newer := conv.LastMessageAt.Add(time.Hour)
	older := conv.LastMessageAt.Add(-time.Hour)
	require.NoError(t, s.InsertInboundMessage(ctx, newMessage(tid, conv, "in-1", newer)))
	require.NoError(t, s.InsertInboundMessage(ctx, newMessage(tid, conv, "in-2", older)))
	assert.ErrorIs(t, s.InsertInboundMessage(ctx, newMessage(tid, conv, "in-1", newer.Add(time.Hour))), store.ErrConflict)

	// agent messages never count as unread
	reply := newMessage(tid, conv, "out-1", newer)
	reply.SenderType = models.SenderAgent
	require.NoError(t, s.InsertMessage(ctx, reply))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)
	assert.True(t, got.LastMessageAt.Equal(newer), "last_message_at must not move backwards")

	// nothing is written for an unknown conversation
	orphan := *conv
	orphan.ID = uuid.NewString()
	assert.ErrorIs(t, s.InsertInboundMessage(ctx, newMessage(tid, &orphan, "in-3", newer)), store.ErrNotFound)
	msgs, err := s.ListMessages(ctx, store.MessageFilter{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func testListMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	_, conv := seedConversation(t, s, tid)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertMessage(ctx, newMessage(tid, conv, "c", base.Add(2*time.Minute))))
	require.NoError(t, s.InsertMessage(ctx, newMessage(tid, conv, "a", base)))
	reply := newMessage(tid, conv, "b", base.Add(time.Minute))
	reply.SenderType = models.SenderAgent
	require.NoError(t, s.InsertMessage(ctx, reply))

	all, err := s.ListMessages(ctx, store.MessageFilter{ConversationID: conv.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ExternalID, all[1].ExternalID, all[2].ExternalID})

	agent, err := s.ListMessages(ctx, store.MessageFilter{ConversationID: conv.ID, SenderType: models.SenderAgent})
	require.NoError(t, err)
	require.Len(t, agent, 1)
	assert.Equal(t, "b", agent[0].ExternalID)
}

func testMarkMessagesRead(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	_, conv := seedConversation(t, s, tid)
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for _, ext := range []string{"r1", "r2", "r3"} {
		m := newMessage(tid, conv, ext, at)
		require.NoError(t, s.InsertInboundMessage(ctx, m))
		ids = append(ids, m.ID)
	}

	readAt := at.Add(time.Minute)
	n, err := s.MarkMessagesRead(ctx, ids[:2], readAt)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.MarkMessagesRead(ctx, ids[:2], readAt)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)

	msgs, err := s.ListMessages(ctx, store.MessageFilter{ConversationID: conv.ID})
	require.NoError(t, err)
	read := 0
	for _, m := range msgs {
		if m.ReadAt != nil {
			read++
			assert.Equal(t, models.DeliveryRead, m.Status)
		}
	}
	assert.Equal(t, 2, read)
}

func testDeletes(t *testing.T, s store.Store) {
	ctx := context.Background()
	tid := tenant()
	contact, conv := seedConversation(t, s, tid)
	at := time.Now().UTC().Truncate(time.Microsecond)

	m1 := newMessage(tid, conv, "d1", at)
	require.NoError(t, s.InsertMessage(ctx, m1))
	require.NoError(t, s.InsertMessage(ctx, newMessage(tid, conv, "d2", at)))

	require.NoError(t, s.DeleteMessage(ctx, m1.ID))
	assert.ErrorIs(t, s.DeleteMessage(ctx, m1.ID), store.ErrNotFound)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))
	_, err := s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	msgs, err := s.ListMessages(ctx, store.MessageFilter{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// the contact survives and may open a new conversation
	_, err = s.FindContactByExternalID(ctx, tid, models.ChannelMessenger, contact.ExternalID(models.ChannelMessenger))
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeleteConversation(ctx, conv.ID), store.ErrNotFound)
}
