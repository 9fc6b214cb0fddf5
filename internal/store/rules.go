package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
)

const ruleColumns = `id, name, match_type, match_value, custom_field, target_account,
	fallback_account, priority, is_active, whatsapp_fallback, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*domain.RoutingRule, error) {
	r := &domain.RoutingRule{}
	err := row.Scan(&r.ID, &r.Name, &r.MatchType, &r.MatchValue, &r.CustomField,
		&r.TargetAccount, &r.FallbackAccount, &r.Priority, &r.IsActive,
		&r.WhatsAppFallback, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateRule inserts a routing rule.
func (s *Store) CreateRule(ctx context.Context, r *domain.RoutingRule) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_rules (id, name, match_type, match_value, custom_field,
			target_account, fallback_account, priority, is_active, whatsapp_fallback,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Name, r.MatchType, r.MatchValue, r.CustomField, r.TargetAccount,
		r.FallbackAccount, r.Priority, r.IsActive, r.WhatsAppFallback,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// UpdateRule updates a routing rule in place.
func (s *Store) UpdateRule(ctx context.Context, r *domain.RoutingRule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE router_rules SET name = $2, match_type = $3, match_value = $4,
			custom_field = $5, target_account = $6, fallback_account = $7,
			priority = $8, is_active = $9, whatsapp_fallback = $10, updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.Name, r.MatchType, r.MatchValue, r.CustomField, r.TargetAccount,
		r.FallbackAccount, r.Priority, r.IsActive, r.WhatsAppFallback)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", r.ID, domain.ErrNotFound)
	}
	return nil
}

// GetRule returns one routing rule.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*domain.RoutingRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM router_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// ListRules returns every rule ordered for evaluation.
func (s *Store) ListRules(ctx context.Context) ([]*domain.RoutingRule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM router_rules ORDER BY priority DESC, created_at ASC`)
}

// ListActiveRules returns active rules in deterministic evaluation order:
// priority descending, creation order breaking ties.
func (s *Store) ListActiveRules(ctx context.Context) ([]*domain.RoutingRule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM router_rules WHERE is_active = true ORDER BY priority DESC, created_at ASC`)
}

func (s *Store) listRules(ctx context.Context, query string) ([]*domain.RoutingRule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.RoutingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a routing rule.
func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM router_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountRules returns the number of configured rules, for license quota
// checks.
func (s *Store) CountRules(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM router_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}
