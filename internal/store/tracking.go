package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
)

// CreateEmailLog inserts the tracking record for one dispatched message.
// The row is created before provider dispatch and never rolled back, so
// delivery failures stay auditable.
func (s *Store) CreateEmailLog(ctx context.Context, log *domain.EmailLog) error {
	log.ID = uuid.New()
	if log.SentAt.IsZero() {
		log.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_email_logs (id, email_id, recipient, subject, template, account_used, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ID, log.EmailID, log.Recipient, log.Subject, log.Template, log.AccountUsed, log.SentAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// GetEmailLog looks up the log by its opaque tracking identifier.
func (s *Store) GetEmailLog(ctx context.Context, emailID string) (*domain.EmailLog, error) {
	l := &domain.EmailLog{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email_id, recipient, subject, template, account_used, sent_at,
			delivered_at, open_count, click_count, first_opened_at, last_opened_at, bounced
		FROM router_email_logs WHERE email_id = $1`, emailID).Scan(
		&l.ID, &l.EmailID, &l.Recipient, &l.Subject, &l.Template, &l.AccountUsed,
		&l.SentAt, &l.DeliveredAt, &l.OpenCount, &l.ClickCount,
		&l.FirstOpenedAt, &l.LastOpenedAt, &l.Bounced)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("email log %s: %w", emailID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get email log: %w", err)
	}
	return l, nil
}

// MarkDelivered records the account that carried the message and the
// delivery timestamp after a successful provider send.
func (s *Store) MarkDelivered(ctx context.Context, emailID, accountUsed string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE router_email_logs SET account_used = $2, delivered_at = NOW()
		WHERE email_id = $1`, emailID, accountUsed)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// InsertEvent appends one open/click event.
func (s *Store) InsertEvent(ctx context.Context, ev *domain.EmailEvent) error {
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_email_events (id, email_log_id, type, ip_address, user_agent, device_type, url, bot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.EmailLogID, ev.Type, ev.IPAddress, ev.UserAgent, ev.DeviceType, ev.URL, ev.Bot, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecordOpen bumps the open counters in SQL. Repeat opens increment
// again; there is no dedup window.
func (s *Store) RecordOpen(ctx context.Context, logID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE router_email_logs
		SET open_count = open_count + 1,
			first_opened_at = COALESCE(first_opened_at, NOW()),
			last_opened_at = NOW()
		WHERE id = $1`, logID)
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	return nil
}

// RecordClick bumps the log's click counter.
func (s *Store) RecordClick(ctx context.Context, logID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE router_email_logs SET click_count = click_count + 1 WHERE id = $1`, logID)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

// GetOrCreateLinkMapping returns the mapping for (logID, linkHash),
// creating it if absent. Creation is idempotent: a concurrent insert of
// the same pair loses the ON CONFLICT race benignly and the follow-up
// lookup returns the winner's row.
func (s *Store) GetOrCreateLinkMapping(ctx context.Context, logID uuid.UUID, linkHash, originalURL string) (*domain.LinkMapping, error) {
	if m, err := s.GetLinkMapping(ctx, logID, linkHash); err == nil {
		return m, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_link_mappings (id, email_log_id, link_hash, original_url, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (email_log_id, link_hash) DO NOTHING`,
		uuid.New(), logID, linkHash, originalURL)
	if err != nil {
		return nil, fmt.Errorf("insert link mapping: %w", err)
	}

	return s.GetLinkMapping(ctx, logID, linkHash)
}

// GetLinkMapping returns the mapping for (logID, linkHash).
func (s *Store) GetLinkMapping(ctx context.Context, logID uuid.UUID, linkHash string) (*domain.LinkMapping, error) {
	m := &domain.LinkMapping{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email_log_id, link_hash, original_url, click_count,
			first_clicked_at, last_clicked_at, created_at
		FROM router_link_mappings WHERE email_log_id = $1 AND link_hash = $2`,
		logID, linkHash).Scan(
		&m.ID, &m.EmailLogID, &m.LinkHash, &m.OriginalURL, &m.ClickCount,
		&m.FirstClickedAt, &m.LastClickedAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("link mapping %s: %w", linkHash, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get link mapping: %w", err)
	}
	return m, nil
}

// RecordLinkClick bumps the mapping's click counters in SQL.
func (s *Store) RecordLinkClick(ctx context.Context, mappingID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE router_link_mappings
		SET click_count = click_count + 1,
			first_clicked_at = COALESCE(first_clicked_at, NOW()),
			last_clicked_at = NOW()
		WHERE id = $1`, mappingID)
	if err != nil {
		return fmt.Errorf("record link click: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
