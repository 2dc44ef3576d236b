package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnichannel-backend/internal/models"
)

// ErrParse marks a provider payload whose shape could not be understood.
var ErrParse = errors.New("channel: malformed provider payload")

func parseErrorf(ch models.Channel, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrParse, ch, fmt.Sprintf(format, args...))
}

type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Envelope is the channel-agnostic shape every adapter normalises into.
type Envelope struct {
	Channel           models.Channel `json:"channel"`
	ExternalSenderID  string         `json:"external_sender_id"`
	SenderDisplayName string         `json:"sender_display_name"`
	Text              string         `json:"text"`
	Attachments       []Attachment   `json:"attachments,omitempty"`
	ExternalMessageID string         `json:"external_message_id"`
	// SyntheticID is set when the provider gave no message id and
	// ExternalMessageID was derived from (channel, sender, timestamp).
	// Two distinct messages from one sender within the same millisecond
	// collapse into one under such an id.
	SyntheticID bool      `json:"synthetic_id,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ContentType derives the message content kind from the first attachment.
func (e Envelope) ContentType() string {
	if len(e.Attachments) == 0 {
		return models.ContentText
	}
	t := strings.ToLower(e.Attachments[0].Type)
	if t == "image" || strings.HasPrefix(t, "image/") {
		return models.ContentImage
	}
	return models.ContentFile
}

// MediaURL is the first attachment's URL, or nil.
func (e Envelope) MediaURL() *string {
	if len(e.Attachments) == 0 || e.Attachments[0].URL == "" {
		return nil
	}
	u := e.Attachments[0].URL
	return &u
}

func (e Envelope) empty() bool {
	return strings.TrimSpace(e.Text) == "" && len(e.Attachments) == 0
}

var syntheticNamespace = uuid.MustParse("9a3c5e1f-7b2d-4c6e-8f0a-1b3d5f7a9c2e")

// SyntheticMessageID derives a stable message id for providers that omit one.
func SyntheticMessageID(ch models.Channel, senderID string, at time.Time) string {
	name := string(ch) + "|" + senderID + "|" + strconv.FormatInt(at.UnixMilli(), 10)
	return "synthetic:" + uuid.NewSHA1(syntheticNamespace, []byte(name)).String()
}

// finalize applies the rules shared by all adapters: echo and empty events
// are dropped and missing message ids are synthesised from the payload's own
// timestamp. An event carrying neither is a parse error.
func finalize(env Envelope, businessID string) (Envelope, bool, error) {
	if env.ExternalSenderID == "" {
		return Envelope{}, false, nil
	}
	if businessID != "" && env.ExternalSenderID == businessID {
		return Envelope{}, false, nil
	}
	if env.empty() {
		return Envelope{}, false, nil
	}
	if env.ExternalMessageID == "" {
		if env.OccurredAt.IsZero() {
			return Envelope{}, false, parseErrorf(env.Channel, "event from %s has neither message id nor timestamp", env.ExternalSenderID)
		}
		env.ExternalMessageID = SyntheticMessageID(env.Channel, env.ExternalSenderID, env.OccurredAt)
		env.SyntheticID = true
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	return env, true, nil
}
