// Package persona stores buyer personas and the Sales Navigator search
// URLs generated from them.
package persona

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("persona: not found")

// Filters are the structured search criteria a persona resolves to,
// e.g. {"title": "VP Engineering", "company_size": "51-200"}.
type Filters map[string]string

// Persona is one saved ideal-customer profile.
type Persona struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Filters     Filters   `json:"filters,omitempty"`
	SearchURL   string    `json:"searchUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Generated is what the generator produces from a free-form prompt.
type Generated struct {
	Name      string
	Filters   Filters
	SearchURL string
}

// Generator turns a plain-language audience description into persona
// filters and a search URL. Prompting and URL templating live behind
// this interface.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Generated, error)
}

// Store persists personas.
type Store interface {
	Create(ctx context.Context, p *Persona) error
	GetByID(ctx context.Context, id string) (*Persona, error)
	ListByUser(ctx context.Context, userID string) ([]*Persona, error)
	Update(ctx context.Context, p *Persona) error
	Delete(ctx context.Context, id string) error
}
