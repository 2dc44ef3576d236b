package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/metrics"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/queue"
)

const (
	subscribeMode   = "subscribe"
	signatureHeader = "X-Hub-Signature-256"
	defaultMaxBody  = 1 << 20

	defaultProcessTimeout = 8 * time.Second
)

type WebhookHandler struct {
	cfg        *config.Config
	adapters   map[models.Channel]channel.Adapter
	dispatcher queue.Dispatcher
	log        zerolog.Logger
}

func NewWebhookHandler(cfg *config.Config, adapters map[models.Channel]channel.Adapter, dispatcher queue.Dispatcher, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, adapters: adapters, dispatcher: dispatcher, log: log}
}

// queryParam reads the Graph-style "hub.<name>" parameter, falling back to
// the bare name.
func queryParam(c *gin.Context, name string) string {
	if v, ok := c.GetQuery("hub." + name); ok {
		return v
	}
	return c.Query(name)
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	ch, ok := models.ParseChannel(c.Param("channel"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown channel"})
		return
	}

	expected := h.cfg.Channel(ch).VerifyToken
	mode := queryParam(c, "mode")
	token := queryParam(c, "verify_token")
	challenge := queryParam(c, "challenge")

	if mode != subscribeMode || expected == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		h.log.Warn().Str("channel", string(ch)).Str("mode", mode).Msg("webhook verification rejected")
		c.Status(http.StatusForbidden)
		return
	}

	h.log.Info().Str("channel", string(ch)).Msg("webhook verified")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
}

// Receive accepts a push delivery. It always answers 200 {ok:true}; every
// failure is logged and counted instead of surfaced to the provider.
func (h *WebhookHandler) Receive(c *gin.Context) {
	defer c.JSON(http.StatusOK, gin.H{"ok": true})

	raw := c.Param("channel")
	ch, ok := models.ParseChannel(raw)
	if !ok {
		h.log.Warn().Str("channel", raw).Msg("webhook for unknown channel dropped")
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "unknown_channel").Inc()
		return
	}
	log := h.log.With().Str("channel", string(ch)).Logger()

	limit := h.cfg.Webhook.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		log.Error().Err(err).Msg("read webhook body")
		metrics.WebhookEventsTotal.WithLabelValues(string(ch), "body_error").Inc()
		return
	}
	if int64(len(body)) > limit {
		log.Warn().Int64("limit", limit).Msg("webhook body too large, dropped")
		metrics.WebhookEventsTotal.WithLabelValues(string(ch), "body_error").Inc()
		return
	}

	if secret := h.cfg.Channel(ch).AppSecret; secret != "" && !validSignature(secret, body, c.GetHeader(signatureHeader)) {
		log.Warn().Msg("webhook signature mismatch, dropped")
		metrics.WebhookEventsTotal.WithLabelValues(string(ch), "bad_signature").Inc()
		return
	}

	adapter, ok := h.adapters[ch]
	if !ok {
		log.Warn().Msg("no adapter for channel")
		metrics.WebhookEventsTotal.WithLabelValues(string(ch), "unknown_channel").Inc()
		return
	}
	envelopes, err := adapter.Parse(body)
	if err != nil {
		log.Warn().Err(err).Msg("webhook payload not understood")
		metrics.WebhookEventsTotal.WithLabelValues(string(ch), "parse_error").Inc()
		return
	}

	// One budget covers the whole delivery. It is detached from the request
	// so a provider hanging up does not abort a half-finished write.
	budget := h.cfg.Webhook.ProcessTimeout
	if budget <= 0 {
		budget = defaultProcessTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), budget)
	defer cancel()

	done := make(chan int, 1)
	go func() { done <- h.dispatchAll(ctx, ch, log, envelopes) }()

	select {
	case dispatched := <-done:
		if dispatched == 0 {
			metrics.WebhookEventsTotal.WithLabelValues(string(ch), "ignored").Inc()
		}
		log.Debug().Int("dispatched", dispatched).Msg("webhook handled")
	case <-ctx.Done():
		log.Warn().Dur("budget", budget).Msg("webhook processing budget exhausted, remaining events left to pull-sync")
		metrics.WebhookEventsTotal.WithLabelValues(string(ch), "deadline").Inc()
	}
}

// dispatchAll hands every envelope to the dispatcher until ctx expires and
// returns how many were accepted.
func (h *WebhookHandler) dispatchAll(ctx context.Context, ch models.Channel, log zerolog.Logger, envelopes iter.Seq2[channel.Envelope, error]) int {
	dispatched := 0
	for env, err := range envelopes {
		if err != nil {
			log.Warn().Err(err).Msg("webhook event skipped")
			metrics.WebhookEventsTotal.WithLabelValues(string(ch), "parse_error").Inc()
			continue
		}
		if ctx.Err() != nil {
			return dispatched
		}
		if err := h.dispatcher.Dispatch(ctx, env); err != nil {
			log.Error().Err(err).Str("external_message_id", env.ExternalMessageID).Msg("webhook message not ingested")
			metrics.WebhookEventsTotal.WithLabelValues(string(ch), "dispatch_error").Inc()
			continue
		}
		dispatched++
		metrics.WebhookEventsTotal.WithLabelValues(string(ch), "dispatched").Inc()
	}
	return dispatched
}

// validSignature checks an "sha256=<hex>" HMAC of the raw body.
func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
