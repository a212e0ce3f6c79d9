// Package enrich finds emails and phone numbers for contacts through
// third-party data providers, charging credits per successful lookup.
package enrich

import (
	"context"
	"errors"
)

// ErrNoResult is returned when no provider could find the requested field.
var ErrNoResult = errors.New("enrich: no result")

// Lookup carries the identifying fields providers match on.
type Lookup struct {
	FirstName   string
	LastName    string
	Company     string
	Domain      string
	LinkedInURL string
}

type EmailResult struct {
	Email    string
	Verified bool
}

type PhoneResult struct {
	Phone string
}

// EmailProvider resolves a work email for a person.
// A miss is (nil, nil); errors are transport or upstream failures.
type EmailProvider interface {
	Name() string
	FindEmail(ctx context.Context, q Lookup) (*EmailResult, error)
}

// PhoneProvider resolves a direct phone number for a person.
type PhoneProvider interface {
	Name() string
	FindPhone(ctx context.Context, q Lookup) (*PhoneResult, error)
}
