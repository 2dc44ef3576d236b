package channel

import (
	"encoding/json"
	"iter"

	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/models"
)

// Adapter turns a provider's native payloads into envelopes. Provider field
// mapping stays inside each implementation.
type Adapter interface {
	Channel() models.Channel
	// Parse decodes a push payload. Echo and empty events are not yielded;
	// an event that cannot be turned into an envelope yields an ErrParse
	// error and iteration continues with the next one.
	Parse(raw []byte) (iter.Seq2[Envelope, error], error)
	// ParseItem decodes one message item from a pull-sync listing. The bool
	// is false when the item was dropped.
	ParseItem(raw json.RawMessage) (Envelope, bool, error)
}

// NewAdapters builds one adapter per channel from the process configuration.
func NewAdapters(cfg *config.Config) map[models.Channel]Adapter {
	return map[models.Channel]Adapter{
		models.ChannelMessenger: NewMessengerAdapter(cfg.Messenger.AccountID),
		models.ChannelInstagram: NewInstagramAdapter(cfg.Instagram.AccountID),
		models.ChannelWhatsApp:  NewWhatsAppAdapter(cfg.WhatsApp.AccountID),
	}
}
