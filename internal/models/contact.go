package models

import (
	"strings"
	"time"
)

const (
	ContactStatusActive   = "active"
	ContactStatusInactive = "inactive"
	ContactStatusCustomer = "customer"
	ContactStatusVIP      = "vip"
)

type Contact struct {
	ID               string    `json:"id" db:"id"`
	TenantID         string    `json:"tenant_id" db:"tenant_id"`
	Name             string    `json:"name" db:"name"`
	Phone            *string   `json:"phone,omitempty" db:"phone"`
	MessengerID      *string   `json:"messenger_id,omitempty" db:"messenger_id"`
	InstagramID      *string   `json:"instagram_id,omitempty" db:"instagram_id"`
	Status           string    `json:"status" db:"status"`
	Source           Channel   `json:"source" db:"source"`
	FirstContactDate time.Time `json:"first_contact_date" db:"first_contact_date"`
	LastContactDate  time.Time `json:"last_contact_date" db:"last_contact_date"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// ExternalID returns the identifier the contact owns on the given channel.
func (c *Contact) ExternalID(ch Channel) string {
	var v *string
	switch ch {
	case ChannelMessenger:
		v = c.MessengerID
	case ChannelInstagram:
		v = c.InstagramID
	case ChannelWhatsApp:
		v = c.Phone
	}
	if v == nil {
		return ""
	}
	return *v
}

func (c *Contact) SetExternalID(ch Channel, id string) {
	switch ch {
	case ChannelMessenger:
		c.MessengerID = &id
	case ChannelInstagram:
		c.InstagramID = &id
	case ChannelWhatsApp:
		c.Phone = &id
	}
}

// PlaceholderName is the name given to a contact before the channel reports a real one.
func PlaceholderName(ch Channel, externalID string) string {
	return ch.Label() + " " + externalID
}

// HasPlaceholderName reports whether the stored name is empty or exactly the
// auto-generated label for one of the contact's own channel identifiers, and
// may therefore be replaced by a name reported by the channel.
func (c *Contact) HasPlaceholderName() bool {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return true
	}
	for _, ch := range Channels {
		if id := c.ExternalID(ch); id != "" && name == PlaceholderName(ch, id) {
			return true
		}
	}
	return false
}
