package channel

import (
	"bytes"
	"encoding/json"
	"iter"
	"strconv"
	"strings"
	"time"

	"omnichannel-backend/internal/models"
)

const bridgeUpsertEvent = "messages.upsert"

type whatsappAdapter struct {
	businessID string
}

// NewWhatsAppAdapter parses events from an Evolution-style WhatsApp bridge.
// ownNumber is the business phone number; it is compared against the sender
// for echo filtering in addition to the bridge's own fromMe flag.
func NewWhatsAppAdapter(ownNumber string) Adapter {
	return &whatsappAdapter{businessID: JIDUser(ownNumber)}
}

func (a *whatsappAdapter) Channel() models.Channel {
	return models.ChannelWhatsApp
}

type bridgeEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type bridgeMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string        `json:"pushName"`
	Message          bridgeContent `json:"message"`
	MessageTimestamp flexUnix      `json:"messageTimestamp"`
}

type bridgeMedia struct {
	URL      string `json:"url"`
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
}

type bridgeContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *bridgeMedia `json:"imageMessage"`
	DocumentMessage *bridgeMedia `json:"documentMessage"`
	VideoMessage    *bridgeMedia `json:"videoMessage"`
	AudioMessage    *bridgeMedia `json:"audioMessage"`
}

// flexUnix accepts unix seconds encoded either as a JSON number or a string.
type flexUnix int64

func (f *flexUnix) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexUnix(n)
	return nil
}

func (a *whatsappAdapter) Parse(raw []byte) (iter.Seq2[Envelope, error], error) {
	var ev bridgeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, parseErrorf(models.ChannelWhatsApp, "decode webhook: %v", err)
	}
	if !strings.EqualFold(ev.Event, bridgeUpsertEvent) {
		return func(func(Envelope, error) bool) {}, nil
	}
	msgs, err := decodeBridgeData(ev.Data)
	if err != nil {
		return nil, parseErrorf(models.ChannelWhatsApp, "decode data: %v", err)
	}

	return func(yield func(Envelope, error) bool) {
		for _, m := range msgs {
			env, ok, err := a.fromMessage(m)
			if !ok && err == nil {
				continue
			}
			if !yield(env, err) {
				return
			}
		}
	}, nil
}

// decodeBridgeData handles data being either a single message or a batch.
func decodeBridgeData(data json.RawMessage) ([]bridgeMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var msgs []bridgeMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var m bridgeMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, err
	}
	return []bridgeMessage{m}, nil
}

func (a *whatsappAdapter) ParseItem(raw json.RawMessage) (Envelope, bool, error) {
	var m bridgeMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Envelope{}, false, parseErrorf(models.ChannelWhatsApp, "decode message item: %v", err)
	}
	return a.fromMessage(m)
}

func (a *whatsappAdapter) fromMessage(m bridgeMessage) (Envelope, bool, error) {
	jid := m.Key.RemoteJID
	if m.Key.FromMe || jid == "" || strings.HasSuffix(jid, "@g.us") || jid == "status@broadcast" {
		return Envelope{}, false, nil
	}
	env := Envelope{
		Channel:           models.ChannelWhatsApp,
		ExternalSenderID:  JIDUser(jid),
		SenderDisplayName: strings.TrimSpace(m.PushName),
		ExternalMessageID: m.Key.ID,
		ThreadID:          jid,
	}
	if m.MessageTimestamp > 0 {
		env.OccurredAt = time.Unix(int64(m.MessageTimestamp), 0).UTC()
	}

	c := m.Message
	switch {
	case c.Conversation != "":
		env.Text = c.Conversation
	case c.ExtendedTextMessage != nil:
		env.Text = c.ExtendedTextMessage.Text
	}
	if c.ImageMessage != nil {
		env.Text = firstNonEmpty(env.Text, c.ImageMessage.Caption)
		env.Attachments = append(env.Attachments, Attachment{Type: "image", URL: c.ImageMessage.URL})
	}
	for _, media := range []*bridgeMedia{c.DocumentMessage, c.VideoMessage, c.AudioMessage} {
		if media == nil {
			continue
		}
		env.Text = firstNonEmpty(env.Text, media.Caption)
		env.Attachments = append(env.Attachments, Attachment{Type: firstNonEmpty(media.Mimetype, "file"), URL: media.URL})
	}
	return finalize(env, a.businessID)
}

// JIDUser strips the server part of a WhatsApp JID ("5511...@s.whatsapp.net")
// and any device suffix, leaving the bare phone number.
func JIDUser(jid string) string {
	user := strings.TrimSpace(jid)
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return strings.TrimPrefix(user, "+")
}
