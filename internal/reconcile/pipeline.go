package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/metrics"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

type Stage string

const (
	StageResolve Stage = "resolve"
	StageRoute   Stage = "route"
	StagePersist Stage = "persist"
)

// StageError records which pipeline stage failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Source labels where an envelope came from, for logs and metrics.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceSync    Source = "sync"
)

type Result struct {
	Outcome             Outcome
	ContactID           string
	ConversationID      string
	MessageID           string
	ContactCreated      bool
	ConversationCreated bool
}

// Pipeline chains resolver, router and persister for one tenant.
type Pipeline struct {
	tenantID  string
	resolver  *Resolver
	router    *Router
	persister *Persister
	log       zerolog.Logger
}

func NewPipeline(tenantID string, st store.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		tenantID:  tenantID,
		resolver:  NewResolver(st),
		router:    NewRouter(st),
		persister: NewPersister(st),
		log:       log,
	}
}

func (p *Pipeline) TenantID() string {
	return p.tenantID
}

// Thread is a resolved contact and its open conversation on one channel.
type Thread struct {
	Contact             *models.Contact
	Conversation        *models.Conversation
	ContactCreated      bool
	ConversationCreated bool
}

// OpenThread runs the resolve and route stages.
func (p *Pipeline) OpenThread(ctx context.Context, ch models.Channel, externalSenderID, name, threadID string) (Thread, error) {
	contact, contactCreated, err := p.resolver.Resolve(ctx, p.tenantID, ch, externalSenderID, name)
	if err != nil {
		return Thread{}, &StageError{Stage: StageResolve, Err: err}
	}
	conv, convCreated, err := p.router.Route(ctx, contact, ch, threadID)
	if err != nil {
		return Thread{}, &StageError{Stage: StageRoute, Err: err}
	}
	return Thread{
		Contact:             contact,
		Conversation:        conv,
		ContactCreated:      contactCreated,
		ConversationCreated: convCreated,
	}, nil
}

// Record runs the persist stage. Newly stored messages are credited to the
// conversation's unread count in the same write; duplicates are not.
func (p *Pipeline) Record(ctx context.Context, src Source, env channel.Envelope, conv *models.Conversation) (Outcome, string, error) {
	outcome, msg, err := p.persister.Persist(ctx, env, conv)
	if err != nil {
		metrics.IngestOutcomesTotal.WithLabelValues(string(env.Channel), string(src), string(StagePersist)).Inc()
		return 0, "", &StageError{Stage: StagePersist, Err: err}
	}
	metrics.IngestOutcomesTotal.WithLabelValues(string(env.Channel), string(src), outcome.String()).Inc()

	if outcome == OutcomeDuplicate {
		p.log.Debug().
			Str("channel", string(env.Channel)).
			Str("external_message_id", env.ExternalMessageID).
			Str("conversation_id", conv.ID).
			Msg("duplicate message skipped")
		return outcome, "", nil
	}

	ev := p.log.Info()
	if env.SyntheticID {
		ev = p.log.Warn().Bool("synthetic_id", true)
	}
	ev.Str("channel", string(env.Channel)).
		Str("source", string(src)).
		Str("external_message_id", env.ExternalMessageID).
		Str("conversation_id", conv.ID).
		Str("message_id", msg.ID).
		Msg("message persisted")
	return outcome, msg.ID, nil
}

// Ingest runs every stage for one envelope.
func (p *Pipeline) Ingest(ctx context.Context, src Source, env channel.Envelope) (Result, error) {
	thread, err := p.OpenThread(ctx, env.Channel, env.ExternalSenderID, env.SenderDisplayName, env.ThreadID)
	if err != nil {
		metrics.IngestOutcomesTotal.WithLabelValues(string(env.Channel), string(src), string(stageOf(err))).Inc()
		return Result{}, err
	}
	res := Result{
		ContactID:           thread.Contact.ID,
		ConversationID:      thread.Conversation.ID,
		ContactCreated:      thread.ContactCreated,
		ConversationCreated: thread.ConversationCreated,
	}
	res.Outcome, res.MessageID, err = p.Record(ctx, src, env, thread.Conversation)
	return res, err
}

func stageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
