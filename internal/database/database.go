package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"omnichannel-backend/internal/config"
)

type Database struct {
	Pool *pgxpool.Pool
}

func NewConnection(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	log.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("connected to database")
	return &Database{Pool: pool}, nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations applies the schema. Every statement is idempotent so the
// list can run on each start-up.
func RunMigrations(ctx context.Context, db *Database, log zerolog.Logger) error {
	createContactsTable := `
	CREATE TABLE IF NOT EXISTS contacts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(100) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		phone VARCHAR(64),
		messenger_id VARCHAR(128),
		instagram_id VARCHAR(128),
		status VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'customer', 'vip')),
		source VARCHAR(20) NOT NULL,
		first_contact_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		last_contact_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	createConversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(100) NOT NULL,
		contact_id UUID NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		channel VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
		last_message_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		unread_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(100) NOT NULL,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		contact_id UUID NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		sender_type VARCHAR(20) NOT NULL CHECK (sender_type IN ('contact', 'agent')),
		channel VARCHAR(20) NOT NULL,
		content_type VARCHAR(20) NOT NULL DEFAULT 'text',
		content TEXT NOT NULL DEFAULT '',
		media_url TEXT,
		external_id VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'received',
		read_at TIMESTAMP WITH TIME ZONE,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	// The partial unique indexes are what the conditional inserts rely on.
	createUniqueIndexes := `
	CREATE UNIQUE INDEX IF NOT EXISTS uq_contacts_phone ON contacts(tenant_id, phone) WHERE phone IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_contacts_messenger ON contacts(tenant_id, messenger_id) WHERE messenger_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_contacts_instagram ON contacts(tenant_id, instagram_id) WHERE instagram_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_open ON conversations(contact_id, channel) WHERE status = 'open';
	CREATE UNIQUE INDEX IF NOT EXISTS uq_messages_external ON messages(tenant_id, channel, external_id);`

	createIndexes := `
	CREATE INDEX IF NOT EXISTS idx_conversations_tenant_last ON conversations(tenant_id, last_message_at DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id) WHERE read_at IS NULL;`

	migrations := []string{
		createContactsTable,
		createConversationsTable,
		createMessagesTable,
		createUniqueIndexes,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i, err)
		}
	}

	log.Info().Int("statements", len(migrations)).Msg("database migrations completed")
	return nil
}

func (db *Database) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.Pool.Begin(ctx)
}

func (db *Database) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.Pool.QueryRow(ctx, sql, args...)
}

func (db *Database) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.Pool.Query(ctx, sql, args...)
}

func (db *Database) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.Pool.Exec(ctx, sql, args...)
}
