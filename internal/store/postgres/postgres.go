// Package postgres implements store.Store on top of the pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"omnichannel-backend/internal/database"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/store"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

type Store struct {
	db *database.Database
}

var _ store.Store = (*Store)(nil)

func New(db *database.Database) *Store {
	return &Store{db: db}
}

// mapErr translates driver errors into the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		case codeInvalidText:
			// a malformed uuid can never match a row
			return store.ErrNotFound
		}
	}
	return err
}

const contactColumns = `id, tenant_id, name, phone, messenger_id, instagram_id, status, source,
	first_contact_date, last_contact_date, created_at, updated_at`

func scanContact(row pgx.Row) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.MessengerID, &c.InstagramID,
		&c.Status, &c.Source, &c.FirstContactDate, &c.LastContactDate, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) FindContactByExternalID(ctx context.Context, tenantID string, ch models.Channel, externalID string) (*models.Contact, error) {
	column := ch.IdentifierColumn()
	if column == "" {
		return nil, fmt.Errorf("find contact: unknown channel %q", ch)
	}
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE tenant_id = $1 AND %s = $2`, contactColumns, column)
	return scanContact(s.db.QueryRow(ctx, query, tenantID, externalID))
}

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	// ON CONFLICT DO NOTHING without a target covers every partial unique
	// index on contacts; a conflict surfaces as no returned row.
	query := `
		INSERT INTO contacts (tenant_id, name, phone, messenger_id, instagram_id, status, source,
			first_contact_date, last_contact_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		c.TenantID, c.Name, c.Phone, c.MessengerID, c.InstagramID, c.Status, c.Source,
		c.FirstContactDate, c.LastContactDate,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrConflict
	}
	return mapErr(err)
}

func (s *Store) TouchContact(ctx context.Context, id string, name string, at time.Time) error {
	query := `
		UPDATE contacts
		SET last_contact_date = GREATEST(last_contact_date, $2),
			name = COALESCE(NULLIF($3, ''), name),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, at, name)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const conversationColumns = `id, tenant_id, contact_id, channel, status, last_message_at, unread_count,
	metadata, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.ContactID, &c.Channel, &c.Status, &c.LastMessageAt,
		&c.UnreadCount, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return &c, nil
}

func (s *Store) FindOpenConversation(ctx context.Context, contactID string, ch models.Channel) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE contact_id = $1 AND channel = $2 AND status = 'open'`
	return scanConversation(s.db.QueryRow(ctx, query, contactID, ch))
}

func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.Metadata == nil {
		conv.Metadata = map[string]string{}
	}
	query := `
		INSERT INTO conversations (tenant_id, contact_id, channel, status, last_message_at, unread_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		conv.TenantID, conv.ContactID, conv.Channel, conv.Status, conv.LastMessageAt, conv.UnreadCount, conv.Metadata,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrConflict
	}
	return mapErr(err)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(s.db.QueryRow(ctx, query, id))
}

func (s *Store) ListConversations(ctx context.Context, tenantID string) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1
		ORDER BY last_message_at DESC, id`
	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *c)
	}
	return conversations, mapErr(rows.Err())
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return mapErr(err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return mapErr(tx.Commit(ctx))
}

const insertMessage = `
	INSERT INTO messages (tenant_id, conversation_id, contact_id, sender_type, channel, content_type,
		content, media_url, external_id, status, read_at, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (tenant_id, channel, external_id) DO NOTHING
	RETURNING id`

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	return s.insertMessage(ctx, insertMessage, m)
}

// InsertInboundMessage credits the conversation in the same statement as the
// insert, so a stored message is never left uncounted.
func (s *Store) InsertInboundMessage(ctx context.Context, m *models.Message) error {
	query := `
		WITH ins AS (` + insertMessage + `
		), credit AS (
			UPDATE conversations
			SET unread_count = unread_count + 1,
				last_message_at = GREATEST(last_message_at, $13),
				updated_at = NOW()
			WHERE id = $2 AND EXISTS (SELECT 1 FROM ins)
		)
		SELECT id FROM ins`
	return s.insertMessage(ctx, query, m)
}

func (s *Store) insertMessage(ctx context.Context, query string, m *models.Message) error {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx, query,
		m.TenantID, m.ConversationID, m.ContactID, m.SenderType, m.Channel, m.ContentType,
		m.Content, m.MediaURL, m.ExternalID, m.Status, m.ReadAt, m.Metadata, m.CreatedAt,
	).Scan(&m.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrConflict
	}
	return mapErr(err)
}

func (s *Store) ListMessages(ctx context.Context, filter store.MessageFilter) ([]models.Message, error) {
	query := `
		SELECT id, tenant_id, conversation_id, contact_id, sender_type, channel, content_type,
			content, media_url, external_id, status, read_at, metadata, created_at
		FROM messages
		WHERE conversation_id = $1 AND ($2::text = '' OR sender_type = $2::text)
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, query, filter.ConversationID, filter.SenderType)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.ContactID, &m.SenderType,
			&m.Channel, &m.ContentType, &m.Content, &m.MediaURL, &m.ExternalID, &m.Status,
			&m.ReadAt, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		messages = append(messages, m)
	}
	return messages, mapErr(rows.Err())
}

func (s *Store) MarkMessagesRead(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE messages
		SET read_at = $2, status = 'read'
		WHERE id = ANY($1::uuid[]) AND read_at IS NULL
		RETURNING conversation_id`, ids, at)
	if err != nil {
		return 0, mapErr(err)
	}
	convIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, mapErr(err)
	}

	if len(convIDs) > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE conversations c
			SET unread_count = (
					SELECT COUNT(*) FROM messages m
					WHERE m.conversation_id = c.id AND m.sender_type = 'contact' AND m.read_at IS NULL
				),
				updated_at = NOW()
			WHERE c.id = ANY($1::uuid[])`, convIDs)
		if err != nil {
			return 0, mapErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapErr(err)
	}
	return int64(len(convIDs)), nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
