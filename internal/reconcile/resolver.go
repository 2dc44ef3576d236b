package reconcile

import (
	"context"
	"strings"
	"time"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

// Resolver finds or creates the contact owning a channel identifier.
type Resolver struct {
	contacts store.ContactStore
	now      func() time.Time
}

func NewResolver(contacts store.ContactStore) *Resolver {
	return &Resolver{contacts: contacts, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Resolve returns the contact for (tenant, channel, externalID). An existing
// contact has its last contact date refreshed, and its name replaced when it
// only holds a placeholder and the channel reported a real one.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, ch models.Channel, externalID, name string) (*models.Contact, bool, error) {
	name = strings.TrimSpace(name)
	now := r.now()

	contact, created, err := ResolveOrCreate(ctx,
		func(ctx context.Context) (*models.Contact, error) {
			return r.contacts.FindContactByExternalID(ctx, tenantID, ch, externalID)
		},
		func(ctx context.Context) (*models.Contact, error) {
			c := &models.Contact{
				TenantID:         tenantID,
				Name:             name,
				Status:           models.ContactStatusActive,
				Source:           ch,
				FirstContactDate: now,
				LastContactDate:  now,
			}
			if c.Name == "" {
				c.Name = models.PlaceholderName(ch, externalID)
			}
			c.SetExternalID(ch, externalID)
			if err := r.contacts.CreateContact(ctx, c); err != nil {
				return nil, err
			}
			return c, nil
		},
	)
	if err != nil {
		return nil, false, err
	}
	if created {
		return contact, true, nil
	}

	upgrade := ""
	if name != "" && name != contact.Name && contact.HasPlaceholderName() {
		upgrade = name
	}
	if err := r.contacts.TouchContact(ctx, contact.ID, upgrade, now); err != nil {
		return nil, false, err
	}
	if upgrade != "" {
		contact.Name = upgrade
	}
	if now.After(contact.LastContactDate) {
		contact.LastContactDate = now
	}
	return contact, false, nil
}
