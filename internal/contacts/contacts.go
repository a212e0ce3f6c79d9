// Package contacts manages contact lists and the contacts in them.
package contacts

import (
	"context"
	"errors"
	"time"

	"github.com/leadpilot/leadpilot/internal/pagination"
)

var (
	ErrListNotFound    = errors.New("contacts: list not found")
	ErrContactNotFound = errors.New("contacts: contact not found")
	ErrNotOwner        = errors.New("contacts: not the owner")
)

// EnrichmentStatus tracks whether a contact has been run through enrichment.
type EnrichmentStatus string

const (
	EnrichmentPending EnrichmentStatus = "pending"
	EnrichmentDone    EnrichmentStatus = "enriched"
	EnrichmentFailed  EnrichmentStatus = "failed"
	EnrichmentPartial EnrichmentStatus = "partial"
)

// List is a named collection of contacts owned by one user.
type List struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Contact is one person in a list.
type Contact struct {
	ID               string           `json:"id"`
	ListID           string           `json:"listId"`
	UserID           string           `json:"userId"`
	FirstName        string           `json:"firstName,omitempty"`
	LastName         string           `json:"lastName,omitempty"`
	Company          string           `json:"company,omitempty"`
	Title            string           `json:"title,omitempty"`
	LinkedInURL      string           `json:"linkedinUrl,omitempty"`
	Email            string           `json:"email,omitempty"`
	EmailVerified    bool             `json:"emailVerified"`
	Phone            string           `json:"phone,omitempty"`
	EnrichmentStatus EnrichmentStatus `json:"enrichmentStatus"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Store persists lists and contacts.
type Store interface {
	CreateList(ctx context.Context, l *List) error
	GetList(ctx context.Context, id string) (*List, error)
	ListsByUser(ctx context.Context, userID string) ([]*List, error)
	DeleteList(ctx context.Context, id string) error

	CreateContact(ctx context.Context, c *Contact) error
	// CreateContacts inserts a batch; used by CSV import.
	CreateContacts(ctx context.Context, cs []*Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	// ContactsByList returns contacts newest-first with cursor pagination.
	ContactsByList(ctx context.Context, listID string, limit int, cursor *pagination.Cursor) ([]*Contact, error)
	UpdateContact(ctx context.Context, c *Contact) error
	DeleteContact(ctx context.Context, id string) error
	CountByList(ctx context.Context, listID string) (int64, error)
}
