package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadpilot/leadpilot/internal/contacts"
	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/metrics"
)

// ErrInsufficientCredits mirrors the ledger error so handlers can map
// it without importing ledger internals.
var ErrInsufficientCredits = credits.ErrInsufficientCredits

// Service runs enrichment lookups: cache first, then providers in
// order, debiting credits only when a lookup actually produced data.
type Service struct {
	ledger   *credits.Ledger
	contacts contacts.Store
	cache    Cache
	email    []EmailProvider
	phone    PhoneProvider
	logger   *slog.Logger
}

func NewService(ledger *credits.Ledger, store contacts.Store, cache Cache, email []EmailProvider, phone PhoneProvider, logger *slog.Logger) *Service {
	return &Service{
		ledger:   ledger,
		contacts: store,
		cache:    cache,
		email:    email,
		phone:    phone,
		logger:   logger,
	}
}

// EnrichEmail finds an email for the contact and charges the email
// lookup cost. The contact must belong to userID.
func (s *Service) EnrichEmail(ctx context.Context, userID, contactID string) (*contacts.Contact, error) {
	contact, err := s.ownedContact(ctx, userID, contactID)
	if err != nil {
		return nil, err
	}

	ok, err := s.ledger.HasSufficientCredits(ctx, userID, credits.OpEmailLookup)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}

	result, provider, err := s.findEmail(ctx, contact)
	if err != nil {
		return nil, err
	}
	if result == nil {
		s.markFailed(ctx, contact)
		return nil, ErrNoResult
	}

	if _, err := s.ledger.DebitOperation(ctx, userID, credits.OpEmailLookup, "email lookup", lookupMeta(contact)); err != nil {
		return nil, fmt.Errorf("debit email lookup: %w", err)
	}

	contact.Email = result.Email
	if result.Verified {
		contact.EmailVerified = true
	}
	s.markEnriched(ctx, contact)
	s.poolResult(ctx, contact, &CacheEntry{
		LinkedInURL:   contact.LinkedInURL,
		Email:         result.Email,
		EmailVerified: result.Verified,
	})

	s.logger.Info("email lookup succeeded",
		"contact_id", contact.ID, "provider", provider)
	return contact, nil
}

// EnrichPhone finds a phone number for the contact and charges the
// phone lookup cost.
func (s *Service) EnrichPhone(ctx context.Context, userID, contactID string) (*contacts.Contact, error) {
	contact, err := s.ownedContact(ctx, userID, contactID)
	if err != nil {
		return nil, err
	}

	ok, err := s.ledger.HasSufficientCredits(ctx, userID, credits.OpPhoneLookup)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}

	result, provider, err := s.findPhone(ctx, contact)
	if err != nil {
		return nil, err
	}
	if result == nil {
		s.markFailed(ctx, contact)
		return nil, ErrNoResult
	}

	if _, err := s.ledger.DebitOperation(ctx, userID, credits.OpPhoneLookup, "phone lookup", lookupMeta(contact)); err != nil {
		return nil, fmt.Errorf("debit phone lookup: %w", err)
	}

	contact.Phone = result.Phone
	s.markEnriched(ctx, contact)
	s.poolResult(ctx, contact, &CacheEntry{
		LinkedInURL: contact.LinkedInURL,
		Phone:       result.Phone,
	})

	s.logger.Info("phone lookup succeeded",
		"contact_id", contact.ID, "provider", provider)
	return contact, nil
}

// BulkResult summarizes a list-wide email enrichment run.
type BulkResult struct {
	Enriched int `json:"enriched"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// EnrichList runs an email lookup for every contact in the list that
// does not already have an email. Each success is debited separately;
// the run stops early once the balance cannot cover another lookup.
func (s *Service) EnrichList(ctx context.Context, userID, listID string) (*BulkResult, error) {
	list, err := s.contacts.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list.UserID != userID {
		return nil, contacts.ErrListNotFound
	}

	batch, err := s.contacts.ContactsByList(ctx, listID, 0, nil)
	if err != nil {
		return nil, err
	}

	res := &BulkResult{}
	for i, contact := range batch {
		if contact.Email != "" {
			res.Skipped++
			continue
		}
		_, err := s.EnrichEmail(ctx, userID, contact.ID)
		switch {
		case err == nil:
			res.Enriched++
		case errors.Is(err, ErrInsufficientCredits):
			res.Skipped += len(batch) - i
			return res, nil
		case errors.Is(err, ErrNoResult):
			res.Failed++
		default:
			return res, err
		}
	}
	return res, nil
}

// findEmail checks the cache, then walks the providers in order.
func (s *Service) findEmail(ctx context.Context, contact *contacts.Contact) (*EmailResult, string, error) {
	if contact.LinkedInURL != "" {
		entry, err := s.cache.Get(ctx, contact.LinkedInURL)
		if err != nil {
			s.logger.Warn("cache lookup failed", "error", err)
		} else if entry != nil && entry.Email != "" {
			metrics.EnrichmentLookupsTotal.WithLabelValues("cache", "hit").Inc()
			return &EmailResult{Email: entry.Email, Verified: entry.EmailVerified}, "cache", nil
		}
	}

	q := contactLookup(contact)
	for _, p := range s.email {
		result, err := p.FindEmail(ctx, q)
		if err != nil {
			metrics.EnrichmentLookupsTotal.WithLabelValues(p.Name(), "error").Inc()
			s.logger.Warn("email provider failed", "provider", p.Name(), "error", err)
			continue
		}
		if result == nil {
			metrics.EnrichmentLookupsTotal.WithLabelValues(p.Name(), "miss").Inc()
			continue
		}
		metrics.EnrichmentLookupsTotal.WithLabelValues(p.Name(), "found").Inc()
		return result, p.Name(), nil
	}
	return nil, "", nil
}

func (s *Service) findPhone(ctx context.Context, contact *contacts.Contact) (*PhoneResult, string, error) {
	if contact.LinkedInURL != "" {
		entry, err := s.cache.Get(ctx, contact.LinkedInURL)
		if err != nil {
			s.logger.Warn("cache lookup failed", "error", err)
		} else if entry != nil && entry.Phone != "" {
			metrics.EnrichmentLookupsTotal.WithLabelValues("cache", "hit").Inc()
			return &PhoneResult{Phone: entry.Phone}, "cache", nil
		}
	}

	result, err := s.phone.FindPhone(ctx, contactLookup(contact))
	if err != nil {
		metrics.EnrichmentLookupsTotal.WithLabelValues(s.phone.Name(), "error").Inc()
		return nil, "", fmt.Errorf("phone lookup: %w", err)
	}
	if result == nil {
		metrics.EnrichmentLookupsTotal.WithLabelValues(s.phone.Name(), "miss").Inc()
		return nil, "", nil
	}
	metrics.EnrichmentLookupsTotal.WithLabelValues(s.phone.Name(), "found").Inc()
	return result, s.phone.Name(), nil
}

func (s *Service) ownedContact(ctx context.Context, userID, contactID string) (*contacts.Contact, error) {
	contact, err := s.contacts.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.UserID != userID {
		return nil, contacts.ErrContactNotFound
	}
	return contact, nil
}

func (s *Service) markEnriched(ctx context.Context, contact *contacts.Contact) {
	contact.EnrichmentStatus = contacts.EnrichmentDone
	if err := s.contacts.UpdateContact(ctx, contact); err != nil {
		s.logger.Error("persist enrichment failed", "error", err, "contact_id", contact.ID)
	}
}

// markFailed records a miss unless the contact already has enriched data.
func (s *Service) markFailed(ctx context.Context, contact *contacts.Contact) {
	if contact.EnrichmentStatus == contacts.EnrichmentDone {
		contact.EnrichmentStatus = contacts.EnrichmentPartial
	} else {
		contact.EnrichmentStatus = contacts.EnrichmentFailed
	}
	if err := s.contacts.UpdateContact(ctx, contact); err != nil {
		s.logger.Error("persist enrichment failed", "error", err, "contact_id", contact.ID)
	}
}

func (s *Service) poolResult(ctx context.Context, contact *contacts.Contact, entry *CacheEntry) {
	if contact.LinkedInURL == "" {
		return
	}
	if _, err := s.cache.Merge(ctx, entry); err != nil {
		s.logger.Warn("cache merge failed", "error", err, "contact_id", contact.ID)
	}
}

func lookupMeta(contact *contacts.Contact) credits.Metadata {
	return credits.Metadata{
		credits.MetaContactID: contact.ID,
		credits.MetaListID:    contact.ListID,
	}
}

func contactLookup(contact *contacts.Contact) Lookup {
	return Lookup{
		FirstName:   contact.FirstName,
		LastName:    contact.LastName,
		Company:     contact.Company,
		Domain:      emailDomain(contact.Email),
		LinkedInURL: contact.LinkedInURL,
	}
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
