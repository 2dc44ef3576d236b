package models

import "strings"

type Channel string

const (
	ChannelMessenger Channel = "messenger"
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
)

var Channels = []Channel{ChannelMessenger, ChannelInstagram, ChannelWhatsApp}

func ParseChannel(raw string) (Channel, bool) {
	ch := Channel(strings.ToLower(strings.TrimSpace(raw)))
	switch ch {
	case ChannelMessenger, ChannelInstagram, ChannelWhatsApp:
		return ch, true
	}
	return "", false
}

// Label is the human-readable channel name used in placeholder contact names.
func (c Channel) Label() string {
	switch c {
	case ChannelMessenger:
		return "Messenger"
	case ChannelInstagram:
		return "Instagram"
	case ChannelWhatsApp:
		return "WhatsApp"
	}
	return string(c)
}

// IdentifierColumn is the contacts column that anchors identities for the channel.
func (c Channel) IdentifierColumn() string {
	switch c {
	case ChannelMessenger:
		return "messenger_id"
	case ChannelInstagram:
		return "instagram_id"
	case ChannelWhatsApp:
		return "phone"
	}
	return ""
}
