package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
	"omnichannel-backend/internal/store/memory"
)

const tenantID = "acme"

func newPipeline() (*Pipeline, *memory.Store) {
	st := memory.New()
	return NewPipeline(tenantID, st, zerolog.Nop()), st
}

func envelope(sender, mid string, at time.Time) channel.Envelope {
	return channel.Envelope{
		Channel:           models.ChannelInstagram,
		ExternalSenderID:  sender,
		Text:              "hi " + mid,
		ExternalMessageID: mid,
		OccurredAt:        at,
	}
}

func TestResolveOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		got, created, err := ResolveOrCreate(ctx,
			func(context.Context) (int, error) { return 7, nil },
			func(context.Context) (int, error) { t.Fatal("create must not run"); return 0, nil },
		)
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.False(t, created)
	})

	t.Run("created", func(t *testing.T) {
		got, created, err := ResolveOrCreate(ctx,
			func(context.Context) (int, error) { return 0, store.ErrNotFound },
			func(context.Context) (int, error) { return 9, nil },
		)
		require.NoError(t, err)
		assert.Equal(t, 9, got)
		assert.True(t, created)
	})

	t.Run("conflict re-reads", func(t *testing.T) {
		calls := 0
		got, created, err := ResolveOrCreate(ctx,
			func(context.Context) (int, error) {
				calls++
				if calls == 1 {
					return 0, store.ErrNotFound
				}
				return 42, nil
			},
			func(context.Context) (int, error) { return 0, store.ErrConflict },
		)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.False(t, created)
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors propagate", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := ResolveOrCreate(ctx,
			func(context.Context) (int, error) { return 0, boom },
			func(context.Context) (int, error) { return 0, nil },
		)
		assert.ErrorIs(t, err, boom)

		_, _, err = ResolveOrCreate(ctx,
			func(context.Context) (int, error) { return 0, store.ErrNotFound },
			func(context.Context) (int, error) { return 0, boom },
		)
		assert.ErrorIs(t, err, boom)
	})
}

func TestResolverNameUpgrade(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	r := NewResolver(st)

	c, created, err := r.Resolve(ctx, tenantID, models.ChannelInstagram, "ig-9", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Instagram ig-9", c.Name)
	assert.Equal(t, models.ChannelInstagram, c.Source)
	assert.Equal(t, models.ContactStatusActive, c.Status)

	c2, created, err := r.Resolve(ctx, tenantID, models.ChannelInstagram, "ig-9", "Dana")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, c2.ID)
	assert.Equal(t, "Dana", c2.Name)

	// a real name is not overwritten by a later one
	c3, _, err := r.Resolve(ctx, tenantID, models.ChannelInstagram, "ig-9", "dana_ig")
	require.NoError(t, err)
	assert.Equal(t, "Dana", c3.Name)

	stored, err := st.FindContactByExternalID(ctx, tenantID, models.ChannelInstagram, "ig-9")
	require.NoError(t, err)
	assert.Equal(t, "Dana", stored.Name)
	assert.False(t, stored.LastContactDate.Before(c.LastContactDate))
}

func TestResolverKeepsRealNameResemblingPlaceholder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	r := NewResolver(st)

	c, created, err := r.Resolve(ctx, tenantID, models.ChannelInstagram, "ig-fan", "Instagram Fan Club")
	require.NoError(t, err)
	require.True(t, created)

	c2, _, err := r.Resolve(ctx, tenantID, models.ChannelInstagram, "ig-fan", "someone")
	require.NoError(t, err)
	assert.Equal(t, c.ID, c2.ID)
	assert.Equal(t, "Instagram Fan Club", c2.Name)
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	p, st := newPipeline()
	env := envelope("u1", "m1", time.Now().UTC())

	res, err := p.Ingest(ctx, SourceWebhook, env)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, res.Outcome)
	assert.True(t, res.ContactCreated)
	assert.True(t, res.ConversationCreated)
	assert.NotEmpty(t, res.MessageID)

	res2, err := p.Ingest(ctx, SourceSync, env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res2.Outcome)
	assert.Equal(t, res.ConversationID, res2.ConversationID)

	contacts, conversations, messages := st.Counts()
	assert.Equal(t, 1, contacts)
	assert.Equal(t, 1, conversations)
	assert.Equal(t, 1, messages)

	conv, err := st.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestIngestConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	p, st := newPipeline()
	env := envelope("new-user", "m-race", time.Now().UTC())

	const workers = 16
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Ingest(ctx, SourceWebhook, env)
			assert.NoError(t, err)
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	persisted := 0
	for o := range outcomes {
		if o == OutcomePersisted {
			persisted++
		}
	}
	assert.Equal(t, 1, persisted)

	contacts, conversations, messages := st.Counts()
	assert.Equal(t, 1, contacts)
	assert.Equal(t, 1, conversations)
	assert.Equal(t, 1, messages)

	convs, err := st.ListConversations(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)
}

func TestConcurrentFirstContactDistinctMessages(t *testing.T) {
	ctx := context.Background()
	p, st := newPipeline()
	now := time.Now().UTC()

	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Ingest(ctx, SourceWebhook, envelope("burst", fmt.Sprintf("m-%d", i), now))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	contacts, conversations, messages := st.Counts()
	assert.Equal(t, 1, contacts)
	assert.Equal(t, 1, conversations)
	assert.Equal(t, n, messages)

	convs, err := st.ListConversations(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, n, convs[0].UnreadCount)
}

func TestOneConversationAcrossThreadIDs(t *testing.T) {
	ctx := context.Background()
	p, st := newPipeline()
	now := time.Now().UTC()

	a := envelope("u1", "m1", now)
	a.ThreadID = "thread-A"
	b := envelope("u1", "m2", now.Add(time.Second))
	b.ThreadID = "thread-B"

	r1, err := p.Ingest(ctx, SourceWebhook, a)
	require.NoError(t, err)
	r2, err := p.Ingest(ctx, SourceSync, b)
	require.NoError(t, err)
	assert.Equal(t, r1.ConversationID, r2.ConversationID)

	_, conversations, _ := st.Counts()
	assert.Equal(t, 1, conversations)

	conv, err := st.GetConversation(ctx, r1.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "thread-A", conv.Metadata[models.MetadataThreadID])
}

func TestUnreadAccounting(t *testing.T) {
	ctx := context.Background()
	p, st := newPipeline()
	base := time.Now().UTC()

	const n = 5
	var convID string
	for i := range n {
		res, err := p.Ingest(ctx, SourceWebhook, envelope("u1", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		convID = res.ConversationID
	}
	for i := range n {
		res, err := p.Ingest(ctx, SourceSync, envelope("u1", fmt.Sprintf("m%d", i), base))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
	}

	conv, err := st.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, n, conv.UnreadCount)
	assert.False(t, conv.LastMessageAt.Before(base.Add((n-1)*time.Second)))
}

func TestPersisterMapsEnvelope(t *testing.T) {
	ctx := context.Background()
	p, st := newPipeline()
	url := "https://cdn/pic.png"
	env := channel.Envelope{
		Channel:           models.ChannelMessenger,
		ExternalSenderID:  "u7",
		Attachments:       []channel.Attachment{{Type: "image", URL: url}},
		ExternalMessageID: "synthetic:abc",
		SyntheticID:       true,
		ThreadID:          "t_7",
		OccurredAt:        time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}

	res, err := p.Ingest(ctx, SourceWebhook, env)
	require.NoError(t, err)

	msgs, err := st.ListMessages(ctx, store.MessageFilter{ConversationID: res.ConversationID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, models.SenderContact, m.SenderType)
	assert.Equal(t, models.ContentImage, m.ContentType)
	require.NotNil(t, m.MediaURL)
	assert.Equal(t, url, *m.MediaURL)
	assert.Equal(t, res.ContactID, m.ContactID)
	assert.Equal(t, "true", m.Metadata["synthetic_id"])
	assert.Equal(t, "t_7", m.Metadata[models.MetadataThreadID])
	assert.True(t, m.CreatedAt.Equal(env.OccurredAt))
}

type failingMessages struct {
	store.Store
	err error
}

func (f failingMessages) InsertInboundMessage(context.Context, *models.Message) error {
	return f.err
}

func TestIngestPersistenceErrorIsStaged(t *testing.T) {
	boom := errors.New("connection reset")
	st := failingMessages{Store: memory.New(), err: boom}
	p := NewPipeline(tenantID, st, zerolog.Nop())

	_, err := p.Ingest(context.Background(), SourceWebhook, envelope("u1", "m1", time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StagePersist, se.Stage)
}

// flakyMessages fails the first n inbound writes.
type flakyMessages struct {
	store.Store
	mu    sync.Mutex
	fails int
}

func (f *flakyMessages) InsertInboundMessage(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("transient")
	}
	f.mu.Unlock()
	return f.Store.InsertInboundMessage(ctx, m)
}

func TestRetryAfterFailedWriteCountsMessageOnce(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	p := NewPipeline(tenantID, &flakyMessages{Store: mem, fails: 1}, zerolog.Nop())
	env := envelope("u1", "m1", time.Now().UTC())

	_, err := p.Ingest(ctx, SourceWebhook, env)
	require.Error(t, err)
	_, _, messages := mem.Counts()
	assert.Zero(t, messages)

	res, err := p.Ingest(ctx, SourceWebhook, env)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, res.Outcome)

	res, err = p.Ingest(ctx, SourceWebhook, env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	conv, err := mem.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
	_, _, messages = mem.Counts()
	assert.Equal(t, 1, messages)
}
