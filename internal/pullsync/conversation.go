package pullsync

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/provider"
	"omnichannel-backend/internal/reconcile"
)

// convResult is the outcome of syncing one provider conversation. processed
// is false when the conversation could not be read or resolved at all.
type convResult struct {
	processed bool
	seen      int
	persisted int
	skipped   int
	errs      []ItemError
}

func (r *convResult) fail(convID, messageID string, stage string, err error) {
	r.errs = append(r.errs, ItemError{ConversationID: convID, MessageID: messageID, Stage: stage, Error: err.Error()})
}

type worker struct {
	pipeline   *reconcile.Pipeline
	adapter    channel.Adapter
	client     provider.Client
	businessID string
	log        zerolog.Logger
}

func (w *worker) syncConversation(ctx context.Context, ch models.Channel, conv provider.Conversation) convResult {
	var res convResult
	log := w.log.With().Str("provider_conversation_id", conv.ID).Logger()

	customer, ok := conv.Counterpart(w.businessID)
	if !ok {
		res.fail(conv.ID, "", "participants", errors.New("no customer participant"))
		log.Warn().Msg("conversation has no customer participant")
		return res
	}

	thread, err := w.pipeline.OpenThread(ctx, ch, customer.ID, customer.Name, conv.ID)
	if err != nil {
		res.fail(conv.ID, "", stageName(err), err)
		log.Error().Err(err).Msg("resolve conversation failed")
		return res
	}

	items, err := w.client.ListMessages(ctx, conv)
	if err != nil {
		res.fail(conv.ID, "", "list_messages", err)
		log.Error().Err(err).Msg("list messages failed")
		return res
	}
	res.processed = true

	for _, item := range items {
		res.seen++
		env, keep, err := w.adapter.ParseItem(item)
		if err != nil {
			res.skipped++
			log.Warn().Err(err).Msg("unparseable message item skipped")
			continue
		}
		if !keep {
			res.skipped++
			continue
		}
		if env.ExternalSenderID != customer.ID {
			res.skipped++
			log.Debug().Str("sender", env.ExternalSenderID).Msg("message from unexpected sender skipped")
			continue
		}
		if env.ThreadID == "" {
			env.ThreadID = conv.ID
		}

		outcome, _, err := w.pipeline.Record(ctx, reconcile.SourceSync, env, thread.Conversation)
		if err != nil {
			res.fail(conv.ID, env.ExternalMessageID, stageName(err), err)
			log.Error().Err(err).Str("external_message_id", env.ExternalMessageID).Msg("store message failed")
			continue
		}
		if outcome == reconcile.OutcomePersisted {
			res.persisted++
		}
	}
	return res
}

func stageName(err error) string {
	var se *reconcile.StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return "unknown"
}
