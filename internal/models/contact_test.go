package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPlaceholderName(t *testing.T) {
	c := &Contact{Source: ChannelInstagram}
	c.SetExternalID(ChannelInstagram, "1789")

	for name, want := range map[string]bool{
		"":                   true,
		"Instagram 1789":     true,
		"Instagram 42":       false,
		"Instagram Fan Club": false,
		"Messenger 1789":     false,
		"Dana":               false,
	} {
		c.Name = name
		assert.Equal(t, want, c.HasPlaceholderName(), name)
	}

	// a placeholder from another channel the contact owns also counts
	c.SetExternalID(ChannelMessenger, "psid-7")
	c.Name = "Messenger psid-7"
	assert.True(t, c.HasPlaceholderName())
}
