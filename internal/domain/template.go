package domain

import (
	"time"

	"github.com/google/uuid"
)

// Template is a stored message template. Bodies use Liquid syntax and
// are rendered by the template collaborator at dispatch time.
type Template struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	HTML      string    `json:"html" db:"html"`
	Text      string    `json:"text" db:"text"`
	Category  string    `json:"category,omitempty" db:"category"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
