// Package pullsync backfills conversations from channel APIs through the
// same reconciliation pipeline the webhooks use.
package pullsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/metrics"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/provider"
	"omnichannel-backend/internal/reconcile"
)

var (
	ErrNotConfigured = errors.New("not configured")
	ErrBusy          = errors.New("sync already running")
)

// ItemError is one failed conversation or message inside a run.
type ItemError struct {
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Stage          string `json:"stage"`
	Error          string `json:"error"`
}

// Summary is the result of one run. Success is true only when Errors is empty.
type Summary struct {
	Channel                models.Channel `json:"channel"`
	Success                bool           `json:"success"`
	Error                  string         `json:"error,omitempty"`
	Missing                []string       `json:"missing,omitempty"`
	ConversationsProcessed int            `json:"conversations_processed"`
	TotalMessagesSeen      int            `json:"total_messages_seen"`
	NewMessagesPersisted   int            `json:"new_messages_persisted"`
	MessagesSkipped        int            `json:"messages_skipped"`
	Errors                 []ItemError    `json:"errors"`
	StartedAt              time.Time      `json:"started_at"`
	FinishedAt             time.Time      `json:"finished_at"`
}

// ClientFactory builds the provider client for a configured channel.
type ClientFactory func(ch models.Channel, cc config.ChannelConfig, timeout time.Duration) (provider.Client, error)

type Orchestrator struct {
	cfg       *config.Config
	pipeline  *reconcile.Pipeline
	adapters  map[models.Channel]channel.Adapter
	newClient ClientFactory
	locker    Locker
	log       zerolog.Logger
}

type Option func(*Orchestrator)

func WithClientFactory(f ClientFactory) Option {
	return func(o *Orchestrator) { o.newClient = f }
}

func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

func New(cfg *config.Config, pipeline *reconcile.Pipeline, adapters map[models.Channel]channel.Adapter, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		pipeline:  pipeline,
		adapters:  adapters,
		newClient: provider.NewClient,
		locker:    NewLocalLocker(),
		log:       log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Configured reports whether ch has everything a run needs.
func (o *Orchestrator) Configured(ch models.Channel) bool {
	return o.cfg.Channel(ch).Configured(ch)
}

// Run performs one pull-sync of ch. It never returns an error; every failure
// ends up in the summary.
func (o *Orchestrator) Run(ctx context.Context, ch models.Channel) Summary {
	sum := Summary{Channel: ch, StartedAt: time.Now().UTC(), Errors: []ItemError{}}
	log := o.log.With().Str("channel", string(ch)).Logger()

	result := o.run(ctx, ch, &sum, log)

	sum.FinishedAt = time.Now().UTC()
	sum.Success = sum.Error == "" && len(sum.Errors) == 0
	metrics.SyncRunsTotal.WithLabelValues(string(ch), result).Inc()
	metrics.SyncDuration.WithLabelValues(string(ch)).Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())

	ev := log.Info()
	if !sum.Success {
		ev = log.Warn()
	}
	ev.Str("result", result).
		Int("conversations_processed", sum.ConversationsProcessed).
		Int("total_messages_seen", sum.TotalMessagesSeen).
		Int("new_messages_persisted", sum.NewMessagesPersisted).
		Int("errors", len(sum.Errors)).
		Dur("took", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("pull-sync finished")
	return sum
}

func (o *Orchestrator) run(ctx context.Context, ch models.Channel, sum *Summary, log zerolog.Logger) string {
	cc := o.cfg.Channel(ch)
	adapter, known := o.adapters[ch]
	if !known || !cc.Configured(ch) {
		sum.Error = ErrNotConfigured.Error()
		sum.Missing = cc.Missing(ch)
		log.Warn().Strs("missing", sum.Missing).Msg("pull-sync skipped: channel not configured")
		return "not_configured"
	}

	unlock, ok, err := o.locker.TryLock(ctx, o.pipeline.TenantID()+":"+string(ch))
	if err != nil {
		sum.Error = fmt.Sprintf("acquire lock: %v", err)
		return "failed"
	}
	if !ok {
		sum.Error = ErrBusy.Error()
		return "busy"
	}
	defer unlock()

	client, err := o.newClient(ch, cc, o.cfg.Sync.ProviderTimeout)
	if err != nil {
		sum.Error = err.Error()
		return "failed"
	}

	convs, err := client.ListConversations(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, ItemError{Stage: "list_conversations", Error: err.Error()})
		log.Error().Err(err).Msg("list conversations failed")
		return "failed"
	}

	w := &worker{
		pipeline:   o.pipeline,
		adapter:    adapter,
		client:     client,
		businessID: businessID(ch, cc),
		log:        log,
	}

	results := make([]convResult, len(convs))
	var g errgroup.Group
	g.SetLimit(max(o.cfg.Sync.Concurrency, 1))
	for i, conv := range convs {
		g.Go(func() error {
			results[i] = w.syncConversation(ctx, ch, conv)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		sum.TotalMessagesSeen += r.seen
		sum.NewMessagesPersisted += r.persisted
		sum.MessagesSkipped += r.skipped
		sum.Errors = append(sum.Errors, r.errs...)
		if r.processed {
			sum.ConversationsProcessed++
		}
	}
	if len(sum.Errors) > 0 {
		return "partial"
	}
	return "success"
}

func businessID(ch models.Channel, cc config.ChannelConfig) string {
	if ch == models.ChannelWhatsApp {
		return channel.JIDUser(cc.AccountID)
	}
	return cc.AccountID
}
