// Package provider talks to the channel REST APIs used by pull-sync.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/metrics"
	"omnichannel-backend/internal/models"
)

// ErrAPI matches every *APIError.
var ErrAPI = errors.New("provider: channel api error")

// APIError is a non-success response or an error object returned by a
// channel API.
type APIError struct {
	Channel    models.Channel
	Operation  string
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s failed", e.Channel, e.Operation)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Code != 0 {
		fmt.Fprintf(&sb, " code %d", e.Code)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

type Participant struct {
	ID   string
	Name string
}

// Conversation is one provider-side thread as listed by the channel API.
type Conversation struct {
	ID           string
	UpdatedAt    time.Time
	Participants []Participant
}

// Counterpart returns the first participant that is not the business
// account itself.
func (c Conversation) Counterpart(businessID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != "" && p.ID != businessID {
			return p, true
		}
	}
	return Participant{}, false
}

// Client lists conversations and their recent messages. Message items are
// returned raw; the channel adapter owns their field mapping.
type Client interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	ListMessages(ctx context.Context, conv Conversation) ([]json.RawMessage, error)
}

// NewClient builds the client for ch. The caller checks cc.Configured first.
func NewClient(ch models.Channel, cc config.ChannelConfig, timeout time.Duration) (Client, error) {
	switch ch {
	case models.ChannelMessenger, models.ChannelInstagram:
		return NewGraphClient(ch, cc, timeout), nil
	case models.ChannelWhatsApp:
		return NewBridgeClient(cc, timeout), nil
	}
	return nil, fmt.Errorf("no provider client for channel %q", ch)
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "omnichannel-backend/1.0").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
}

// withTimeout bounds one outbound call even when the parent context has no
// deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func countError(ch models.Channel, operation string) {
	metrics.ProviderErrorsTotal.WithLabelValues(string(ch), operation).Inc()
}
