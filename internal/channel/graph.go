package channel

import (
	"encoding/json"
	"iter"
	"strings"
	"time"

	"omnichannel-backend/internal/models"
)

// graphAdapter handles the Graph-style webhook and conversation API shared
// by Messenger and Instagram.
type graphAdapter struct {
	channel    models.Channel
	object     string
	businessID string
}

func NewMessengerAdapter(pageID string) Adapter {
	return &graphAdapter{channel: models.ChannelMessenger, object: "page", businessID: strings.TrimSpace(pageID)}
}

func NewInstagramAdapter(accountID string) Adapter {
	return &graphAdapter{channel: models.ChannelInstagram, object: "instagram", businessID: strings.TrimSpace(accountID)}
}

func (a *graphAdapter) Channel() models.Channel {
	return a.channel
}

type graphWebhook struct {
	Object string       `json:"object"`
	Entry  []graphEntry `json:"entry"`
}

type graphEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []graphMessaging `json:"messaging"`
}

type graphParty struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

type graphMessaging struct {
	Sender    graphParty    `json:"sender"`
	Recipient graphParty    `json:"recipient"`
	Timestamp int64         `json:"timestamp"`
	Message   *graphMessage `json:"message,omitempty"`
}

type graphMessage struct {
	MID         string                `json:"mid"`
	Text        string                `json:"text"`
	IsEcho      bool                  `json:"is_echo"`
	Attachments []graphPushAttachment `json:"attachments"`
}

type graphPushAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

func (a *graphAdapter) Parse(raw []byte) (iter.Seq2[Envelope, error], error) {
	var payload graphWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, parseErrorf(a.channel, "decode webhook: %v", err)
	}
	if payload.Object != "" && payload.Object != a.object {
		return nil, parseErrorf(a.channel, "unexpected object %q", payload.Object)
	}

	return func(yield func(Envelope, error) bool) {
		for _, entry := range payload.Entry {
			for _, ev := range entry.Messaging {
				env, ok, err := a.fromMessaging(entry, ev)
				if !ok && err == nil {
					continue
				}
				if !yield(env, err) {
					return
				}
			}
		}
	}, nil
}

func (a *graphAdapter) fromMessaging(entry graphEntry, ev graphMessaging) (Envelope, bool, error) {
	if ev.Message == nil || ev.Message.IsEcho {
		return Envelope{}, false, nil
	}
	env := Envelope{
		Channel:           a.channel,
		ExternalSenderID:  ev.Sender.ID,
		SenderDisplayName: firstNonEmpty(ev.Sender.Name, ev.Sender.Username),
		Text:              ev.Message.Text,
		ExternalMessageID: ev.Message.MID,
	}
	switch {
	case ev.Timestamp > 0:
		env.OccurredAt = time.UnixMilli(ev.Timestamp).UTC()
	case entry.Time > 0:
		env.OccurredAt = time.UnixMilli(entry.Time).UTC()
	}
	for _, att := range ev.Message.Attachments {
		env.Attachments = append(env.Attachments, Attachment{Type: att.Type, URL: att.Payload.URL})
	}
	return finalize(env, a.businessID)
}

// graphItem is one entry of /{conversation-id}/messages.
type graphItem struct {
	ID          string     `json:"id"`
	CreatedTime string     `json:"created_time"`
	From        graphParty `json:"from"`
	Message     string     `json:"message"`
	Attachments struct {
		Data []graphItemAttachment `json:"data"`
	} `json:"attachments"`
}

type graphItemAttachment struct {
	MimeType  string `json:"mime_type"`
	Name      string `json:"name"`
	FileURL   string `json:"file_url"`
	ImageData *struct {
		URL string `json:"url"`
	} `json:"image_data"`
	VideoData *struct {
		URL string `json:"url"`
	} `json:"video_data"`
}

const graphTimeLayout = "2006-01-02T15:04:05-0700"

func (a *graphAdapter) ParseItem(raw json.RawMessage) (Envelope, bool, error) {
	var item graphItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return Envelope{}, false, parseErrorf(a.channel, "decode message item: %v", err)
	}
	env := Envelope{
		Channel:           a.channel,
		ExternalSenderID:  item.From.ID,
		SenderDisplayName: firstNonEmpty(item.From.Name, item.From.Username),
		Text:              item.Message,
		ExternalMessageID: item.ID,
	}
	if item.CreatedTime != "" {
		at, err := parseGraphTime(item.CreatedTime)
		if err != nil {
			return Envelope{}, false, parseErrorf(a.channel, "created_time %q: %v", item.CreatedTime, err)
		}
		env.OccurredAt = at
	}
	for _, att := range item.Attachments.Data {
		switch {
		case att.ImageData != nil:
			env.Attachments = append(env.Attachments, Attachment{Type: "image", URL: att.ImageData.URL})
		case att.VideoData != nil:
			env.Attachments = append(env.Attachments, Attachment{Type: "video", URL: att.VideoData.URL})
		default:
			t := "file"
			if strings.HasPrefix(att.MimeType, "image/") {
				t = "image"
			}
			env.Attachments = append(env.Attachments, Attachment{Type: t, URL: att.FileURL})
		}
	}
	return finalize(env, a.businessID)
}

func parseGraphTime(raw string) (time.Time, error) {
	at, err := time.Parse(graphTimeLayout, raw)
	if err != nil {
		at, err = time.Parse(time.RFC3339, raw)
	}
	if err != nil {
		return time.Time{}, err
	}
	return at.UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
