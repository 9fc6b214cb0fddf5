package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailrouter/internal/domain"
)

// SaveTemplate inserts or replaces a named template.
func (s *Store) SaveTemplate(ctx context.Context, t *domain.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_templates (id, name, subject, html, text, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET subject = EXCLUDED.subject,
			html = EXCLUDED.html, text = EXCLUDED.text,
			category = EXCLUDED.category, updated_at = NOW()`,
		t.ID, t.Name, t.Subject, t.HTML, t.Text, t.Category, now, now)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// GetTemplate returns a template by name.
func (s *Store) GetTemplate(ctx context.Context, name string) (*domain.Template, error) {
	t := &domain.Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subject, html, text, category, created_at, updated_at
		FROM router_templates WHERE name = $1`, name).Scan(
		&t.ID, &t.Name, &t.Subject, &t.HTML, &t.Text, &t.Category,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
