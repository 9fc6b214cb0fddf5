package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
)

// AccountInput carries the plaintext account fields for create/update.
// ProviderConfig and OAuthToken are sealed before persistence; plaintext
// is never stored.
type AccountInput struct {
	Name           string              `json:"name"`
	Provider       domain.ProviderType `json:"provider"`
	ProviderConfig any                 `json:"provider_config,omitempty"`
	OAuthToken     *domain.OAuthToken  `json:"oauth_token,omitempty"`
	FromEmail      string              `json:"from_email"`
	FromName       string              `json:"from_name"`
	ReplyTo        string              `json:"reply_to"`
	IsActive       bool                `json:"is_active"`
	IsPrimary      bool                `json:"is_primary"`
	Priority       int                 `json:"priority"`
	DailyLimit     int                 `json:"daily_limit"`
	HourlyLimit    int                 `json:"hourly_limit"`
}

const accountColumns = `id, name, provider, config, oauth_token, from_email, from_name,
	reply_to, is_active, is_primary, priority, daily_limit, hourly_limit,
	sent_today, sent_this_hour, total_sent, last_used, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.Name, &a.Provider, &a.Config, &a.OAuthToken,
		&a.FromEmail, &a.FromName, &a.ReplyTo, &a.IsActive, &a.IsPrimary,
		&a.Priority, &a.DailyLimit, &a.HourlyLimit, &a.SentToday,
		&a.SentThisHour, &a.TotalSent, &a.LastUsed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func redactAccount(a *domain.Account) {
	if a.Config != "" {
		a.Config = domain.RedactedSecret
	}
	if a.OAuthToken != "" {
		a.OAuthToken = domain.RedactedSecret
	}
}

// CreateAccount seals the credential blobs and inserts the account.
// Setting IsPrimary clears the flag on every other account first, so at
// most one primary exists at any time.
func (s *Store) CreateAccount(ctx context.Context, in AccountInput) (*domain.Account, error) {
	configBlob, err := s.vault.EncryptJSON(in.ProviderConfig)
	if err != nil {
		return nil, err
	}
	tokenBlob := ""
	if in.OAuthToken != nil {
		if tokenBlob, err = s.vault.EncryptJSON(in.OAuthToken); err != nil {
			return nil, err
		}
	}

	id := uuid.New()
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if in.IsPrimary {
		if _, err := tx.ExecContext(ctx, `UPDATE router_accounts SET is_primary = false, updated_at = NOW() WHERE is_primary = true`); err != nil {
			return nil, fmt.Errorf("unset primary: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO router_accounts (id, name, provider, config, oauth_token, from_email,
			from_name, reply_to, is_active, is_primary, priority, daily_limit, hourly_limit,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		id, in.Name, in.Provider, configBlob, tokenBlob, in.FromEmail, in.FromName,
		in.ReplyTo, in.IsActive, in.IsPrimary, in.Priority, in.DailyLimit, in.HourlyLimit,
		now, now)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetAccount(ctx, id)
}

// UpdateAccount re-seals any supplied credential blobs and updates the
// row. A nil ProviderConfig/OAuthToken keeps the stored blob untouched.
func (s *Store) UpdateAccount(ctx context.Context, id uuid.UUID, in AccountInput) (*domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if in.IsPrimary {
		if _, err := tx.ExecContext(ctx, `UPDATE router_accounts SET is_primary = false, updated_at = NOW() WHERE is_primary = true AND id <> $1`, id); err != nil {
			return nil, fmt.Errorf("unset primary: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE router_accounts SET name = $2, provider = $3, from_email = $4,
			from_name = $5, reply_to = $6, is_active = $7, is_primary = $8,
			priority = $9, daily_limit = $10, hourly_limit = $11, updated_at = NOW()
		WHERE id = $1`,
		id, in.Name, in.Provider, in.FromEmail, in.FromName, in.ReplyTo,
		in.IsActive, in.IsPrimary, in.Priority, in.DailyLimit, in.HourlyLimit)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}

	if in.ProviderConfig != nil {
		blob, err := s.vault.EncryptJSON(in.ProviderConfig)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE router_accounts SET config = $2 WHERE id = $1`, id, blob); err != nil {
			return nil, fmt.Errorf("update config: %w", err)
		}
	}
	if in.OAuthToken != nil {
		blob, err := s.vault.EncryptJSON(in.OAuthToken)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE router_accounts SET oauth_token = $2 WHERE id = $1`, id, blob); err != nil {
			return nil, fmt.Errorf("update oauth token: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetAccount(ctx, id)
}

// GetAccount returns an account with credential fields redacted.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM router_accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	redactAccount(a)
	return a, nil
}

// GetAccountDecrypted returns an account with the credential blobs
// opened to their plaintext JSON. This is the only accessor that yields
// usable secrets; it exists for edit flows.
func (s *Store) GetAccountDecrypted(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM router_accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if a.Config != "" {
		plain, err := s.vault.Decrypt(a.Config)
		if err != nil {
			return nil, err
		}
		a.Config = string(plain)
	}
	if a.OAuthToken != "" {
		plain, err := s.vault.Decrypt(a.OAuthToken)
		if err != nil {
			return nil, err
		}
		a.OAuthToken = string(plain)
	}
	return a, nil
}

// ListAccounts returns all accounts with credential fields redacted.
func (s *Store) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	accounts, err := s.listAccounts(ctx, `SELECT `+accountColumns+` FROM router_accounts ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		redactAccount(a)
	}
	return accounts, nil
}

// ListActiveAccounts returns active accounts with encrypted blobs intact,
// ordered for deterministic rule resolution (priority desc, creation
// order as tie-break). Adapters open the blobs through the vault.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]*domain.Account, error) {
	return s.listAccounts(ctx, `SELECT `+accountColumns+` FROM router_accounts WHERE is_active = true ORDER BY priority DESC, created_at ASC`)
}

func (s *Store) listAccounts(ctx context.Context, query string) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes the account. Historical email logs keep their
// account_used name; there is no cascade.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM router_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// IncrementUsage bumps the usage counters after a successful send. The
// increment happens in SQL, not read-then-write, so concurrent sends
// against the same account cannot under-count.
func (s *Store) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE router_accounts
		SET sent_today = sent_today + 1,
			sent_this_hour = sent_this_hour + 1,
			total_sent = total_sent + 1,
			last_used = NOW(),
			updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// ResetCounters zeroes the daily or hourly counter on every account.
// Invoked by an external scheduler at midnight / top-of-hour.
func (s *Store) ResetCounters(ctx context.Context, granularity string) error {
	var query string
	switch granularity {
	case "daily":
		query = `UPDATE router_accounts SET sent_today = 0, updated_at = NOW()`
	case "hourly":
		query = `UPDATE router_accounts SET sent_this_hour = 0, updated_at = NOW()`
	default:
		return fmt.Errorf("unknown counter granularity %q", granularity)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("reset %s counters: %w", granularity, err)
	}
	return nil
}

// UpdateOAuthToken seals and persists a refreshed token for the account.
func (s *Store) UpdateOAuthToken(ctx context.Context, id uuid.UUID, token *domain.OAuthToken) error {
	blob, err := s.vault.EncryptJSON(token)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE router_accounts SET oauth_token = $2, updated_at = NOW() WHERE id = $1`, id, blob)
	if err != nil {
		return fmt.Errorf("update oauth token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountAccounts returns the number of configured accounts, for license
// quota checks.
func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM router_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}
