package pullsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/provider"
	"omnichannel-backend/internal/reconcile"
	"omnichannel-backend/internal/store"
	"omnichannel-backend/internal/store/memory"
)

const (
	tenantID  = "acme"
	igAccount = "IG_1"
)

type fakeClient struct {
	convs    []provider.Conversation
	messages map[string][]json.RawMessage
	failing  map[string]error
	listErr  error
}

func (f *fakeClient) ListConversations(context.Context) ([]provider.Conversation, error) {
	return f.convs, f.listErr
}

func (f *fakeClient) ListMessages(_ context.Context, conv provider.Conversation) ([]json.RawMessage, error) {
	if err := f.failing[conv.ID]; err != nil {
		return nil, err
	}
	return f.messages[conv.ID], nil
}

func igConversation(id, customer string) provider.Conversation {
	return provider.Conversation{
		ID: id,
		Participants: []provider.Participant{
			{ID: igAccount, Name: "shop"},
			{ID: customer, Name: customer + "_name"},
		},
	}
}

func igItem(id, from, text string, at time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"created_time":%q,"from":{"id":%q},"message":%q}`,
		id, at.UTC().Format("2006-01-02T15:04:05-0700"), from, text))
}

func testConfig() *config.Config {
	return &config.Config{
		TenantID:  tenantID,
		Instagram: config.ChannelConfig{AccountID: igAccount, AccessToken: "tok"},
		Sync:      config.SyncConfig{Concurrency: 1, ProviderTimeout: time.Second},
	}
}

type harness struct {
	store    *memory.Store
	pipeline *reconcile.Pipeline
	orch     *Orchestrator
	built    atomic.Int32
}

func newHarness(t *testing.T, cfg *config.Config, client provider.Client, opts ...Option) *harness {
	t.Helper()
	h := &harness{store: memory.New()}
	h.pipeline = reconcile.NewPipeline(cfg.TenantID, h.store, zerolog.Nop())
	factory := func(models.Channel, config.ChannelConfig, time.Duration) (provider.Client, error) {
		h.built.Add(1)
		return client, nil
	}
	opts = append([]Option{WithClientFactory(factory)}, opts...)
	h.orch = New(cfg, h.pipeline, channel.NewAdapters(cfg), zerolog.Nop(), opts...)
	return h
}

func TestRunInstagramBackfill(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		convs: []provider.Conversation{igConversation("c1", "U1")},
		messages: map[string][]json.RawMessage{
			"c1": {
				igItem("m1", "U1", "first", base),
				igItem("m2", "U1", "second", base.Add(time.Minute)),
				igItem("m3", "U1", "third", base.Add(2*time.Minute)),
			},
		},
	}
	h := newHarness(t, testConfig(), client)

	// m2 already arrived through the webhook
	pushed, err := h.pipeline.Ingest(ctx, reconcile.SourceWebhook, channel.Envelope{
		Channel:           models.ChannelInstagram,
		ExternalSenderID:  "U1",
		Text:              "second",
		ExternalMessageID: "m2",
		OccurredAt:        base.Add(time.Minute),
	})
	require.NoError(t, err)
	before, err := h.store.GetConversation(ctx, pushed.ConversationID)
	require.NoError(t, err)

	sum := h.orch.Run(ctx, models.ChannelInstagram)

	assert.True(t, sum.Success)
	assert.Empty(t, sum.Errors)
	assert.Equal(t, 1, sum.ConversationsProcessed)
	assert.Equal(t, 3, sum.TotalMessagesSeen)
	assert.Equal(t, 2, sum.NewMessagesPersisted)
	assert.False(t, sum.FinishedAt.Before(sum.StartedAt))

	after, err := h.store.GetConversation(ctx, pushed.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, before.UnreadCount+2, after.UnreadCount)

	msgs, err := h.store.ListMessages(ctx, store.MessageFilter{ConversationID: pushed.ConversationID})
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	contacts, conversations, _ := h.store.Counts()
	assert.Equal(t, 1, contacts)
	assert.Equal(t, 1, conversations)

	// a second run over the same window stores nothing new
	again := h.orch.Run(ctx, models.ChannelInstagram)
	assert.True(t, again.Success)
	assert.Equal(t, 3, again.TotalMessagesSeen)
	assert.Equal(t, 0, again.NewMessagesPersisted)
	final, err := h.store.GetConversation(ctx, pushed.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, after.UnreadCount, final.UnreadCount)
}

func TestRunNotConfigured(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeClient{})

	sum := h.orch.Run(context.Background(), models.ChannelMessenger)

	assert.False(t, sum.Success)
	assert.Equal(t, "not configured", sum.Error)
	assert.ElementsMatch(t, []string{"MESSENGER_ACCOUNT_ID", "MESSENGER_ACCESS_TOKEN"}, sum.Missing)
	assert.Zero(t, h.built.Load())

	contacts, conversations, messages := h.store.Counts()
	assert.Zero(t, contacts+conversations+messages)
	assert.False(t, h.orch.Configured(models.ChannelMessenger))
	assert.True(t, h.orch.Configured(models.ChannelInstagram))
}

func TestRunPartialFailure(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		messages: map[string][]json.RawMessage{},
		failing: map[string]error{
			"c3": &provider.APIError{Channel: models.ChannelInstagram, Operation: "list_messages", StatusCode: http.StatusInternalServerError},
		},
	}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("c%d", i)
		user := fmt.Sprintf("U%d", i)
		client.convs = append(client.convs, igConversation(id, user))
		client.messages[id] = []json.RawMessage{
			igItem(id+"-m1", user, "a", base),
			igItem(id+"-m2", user, "b", base.Add(time.Second)),
		}
	}
	h := newHarness(t, testConfig(), client)

	sum := h.orch.Run(ctx, models.ChannelInstagram)

	assert.False(t, sum.Success)
	assert.Empty(t, sum.Error)
	assert.Equal(t, 4, sum.ConversationsProcessed)
	assert.Equal(t, 8, sum.TotalMessagesSeen)
	assert.Equal(t, 8, sum.NewMessagesPersisted)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "c3", sum.Errors[0].ConversationID)
	assert.Equal(t, "list_messages", sum.Errors[0].Stage)
	assert.Contains(t, sum.Errors[0].Error, "status 500")

	_, _, messages := h.store.Counts()
	assert.Equal(t, 8, messages)
}

func TestRunSkipsEchoAndForeignSenders(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		convs: []provider.Conversation{igConversation("c1", "U1")},
		messages: map[string][]json.RawMessage{
			"c1": {
				igItem("m1", "U1", "hello", base),
				igItem("m2", igAccount, "reply from the shop", base.Add(time.Second)),
				igItem("m3", "U9", "someone else", base.Add(2*time.Second)),
				json.RawMessage(`{"id":"m4","created_time":"garbage","from":{"id":"U1"},"message":"x"}`),
			},
		},
	}
	h := newHarness(t, testConfig(), client)

	sum := h.orch.Run(context.Background(), models.ChannelInstagram)

	assert.True(t, sum.Success)
	assert.Equal(t, 4, sum.TotalMessagesSeen)
	assert.Equal(t, 1, sum.NewMessagesPersisted)
	assert.Equal(t, 3, sum.MessagesSkipped)
}

func TestRunListConversationsFailure(t *testing.T) {
	client := &fakeClient{listErr: &provider.APIError{Channel: models.ChannelInstagram, Operation: "list_conversations", Code: 190, Message: "expired token"}}
	h := newHarness(t, testConfig(), client)

	sum := h.orch.Run(context.Background(), models.ChannelInstagram)

	assert.False(t, sum.Success)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "list_conversations", sum.Errors[0].Stage)
	assert.Contains(t, sum.Errors[0].Error, "expired token")
}

func TestRunBusy(t *testing.T) {
	locker := NewLocalLocker()
	h := newHarness(t, testConfig(), &fakeClient{}, WithLocker(locker))

	unlock, ok, err := locker.TryLock(context.Background(), tenantID+":"+string(models.ChannelInstagram))
	require.NoError(t, err)
	require.True(t, ok)

	sum := h.orch.Run(context.Background(), models.ChannelInstagram)
	assert.False(t, sum.Success)
	assert.Equal(t, "sync already running", sum.Error)
	assert.Zero(t, h.built.Load())

	unlock()
	sum = h.orch.Run(context.Background(), models.ChannelInstagram)
	assert.True(t, sum.Success)
}

func TestRunParallelSameCustomer(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{messages: map[string][]json.RawMessage{}}
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("c%d", i)
		client.convs = append(client.convs, igConversation(id, "U1"))
		client.messages[id] = []json.RawMessage{igItem(id+"-m", "U1", "hi", base.Add(time.Duration(i)*time.Second))}
	}
	cfg := testConfig()
	cfg.Sync.Concurrency = 4
	h := newHarness(t, cfg, client)

	sum := h.orch.Run(context.Background(), models.ChannelInstagram)

	assert.True(t, sum.Success)
	assert.Equal(t, 6, sum.NewMessagesPersisted)
	contacts, conversations, messages := h.store.Counts()
	assert.Equal(t, 1, contacts)
	assert.Equal(t, 1, conversations)
	assert.Equal(t, 6, messages)

	convs, err := h.store.ListConversations(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 6, convs[0].UnreadCount)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	unlock, ok, err := l.TryLock(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(context.Background(), "k")
	assert.False(t, ok)
	_, ok, _ = l.TryLock(context.Background(), "other")
	assert.True(t, ok)

	unlock()
	_, ok, _ = l.TryLock(context.Background(), "k")
	assert.True(t, ok)
}
