// Package store provides Postgres persistence for accounts, routing
// rules, email logs, tracking events, and link mappings. Credential
// fields are sealed through the vault before they touch a row.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/mailrouter/internal/vault"
)

// Store wraps the database handle and the credential vault.
type Store struct {
	db    *sql.DB
	vault *vault.Vault
}

// New creates a Store.
func New(db *sql.DB, v *vault.Vault) *Store {
	return &Store{db: db, vault: v}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema creates the tables if they do not exist. Deployments that
// manage migrations externally can skip this.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS router_accounts (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	provider TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '',
	oauth_token TEXT NOT NULL DEFAULT '',
	from_email TEXT NOT NULL,
	from_name TEXT NOT NULL DEFAULT '',
	reply_to TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT true,
	is_primary BOOLEAN NOT NULL DEFAULT false,
	priority INT NOT NULL DEFAULT 0,
	daily_limit INT NOT NULL DEFAULT 0,
	hourly_limit INT NOT NULL DEFAULT 0,
	sent_today INT NOT NULL DEFAULT 0,
	sent_this_hour INT NOT NULL DEFAULT 0,
	total_sent BIGINT NOT NULL DEFAULT 0,
	last_used TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS router_rules (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	match_type TEXT NOT NULL,
	match_value TEXT NOT NULL,
	custom_field TEXT NOT NULL DEFAULT '',
	target_account TEXT NOT NULL,
	fallback_account TEXT NOT NULL DEFAULT '',
	priority INT NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT true,
	whatsapp_fallback BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS router_email_logs (
	id UUID PRIMARY KEY,
	email_id TEXT NOT NULL UNIQUE,
	recipient TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	template TEXT NOT NULL DEFAULT '',
	account_used TEXT NOT NULL DEFAULT '',
	sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	delivered_at TIMESTAMPTZ,
	open_count INT NOT NULL DEFAULT 0,
	click_count INT NOT NULL DEFAULT 0,
	first_opened_at TIMESTAMPTZ,
	last_opened_at TIMESTAMPTZ,
	bounced BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS router_email_events (
	id UUID PRIMARY KEY,
	email_log_id UUID NOT NULL REFERENCES router_email_logs(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	device_type TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	bot BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS router_link_mappings (
	id UUID PRIMARY KEY,
	email_log_id UUID NOT NULL REFERENCES router_email_logs(id) ON DELETE CASCADE,
	link_hash TEXT NOT NULL,
	original_url TEXT NOT NULL,
	click_count INT NOT NULL DEFAULT 0,
	first_clicked_at TIMESTAMPTZ,
	last_clicked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (email_log_id, link_hash)
);

CREATE TABLE IF NOT EXISTS router_templates (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL DEFAULT '',
	html TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
