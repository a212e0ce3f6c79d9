package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ApolloClient calls the Apollo people-match API. It can resolve both
// emails and phone numbers, so it serves as the phone provider and as
// the email fallback.
type ApolloClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewApolloClient(baseURL, apiKey string) *ApolloClient {
	return &ApolloClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *ApolloClient) Name() string { return "apollo" }

type apolloPerson struct {
	Email        string `json:"email"`
	EmailStatus  string `json:"email_status"`
	PhoneNumbers []struct {
		SanitizedNumber string `json:"sanitized_number"`
		RawNumber       string `json:"raw_number"`
	} `json:"phone_numbers"`
}

func (a *ApolloClient) FindEmail(ctx context.Context, q Lookup) (*EmailResult, error) {
	person, err := a.match(ctx, q, false)
	if err != nil {
		return nil, err
	}
	if person == nil || person.Email == "" {
		return nil, nil
	}
	return &EmailResult{
		Email:    person.Email,
		Verified: person.EmailStatus == "verified",
	}, nil
}

func (a *ApolloClient) FindPhone(ctx context.Context, q Lookup) (*PhoneResult, error) {
	person, err := a.match(ctx, q, true)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, nil
	}
	for _, n := range person.PhoneNumbers {
		if n.SanitizedNumber != "" {
			return &PhoneResult{Phone: n.SanitizedNumber}, nil
		}
		if n.RawNumber != "" {
			return &PhoneResult{Phone: n.RawNumber}, nil
		}
	}
	return nil, nil
}

func (a *ApolloClient) match(ctx context.Context, q Lookup, revealPhone bool) (*apolloPerson, error) {
	payload := map[string]any{
		"api_key":           a.apiKey,
		"first_name":        q.FirstName,
		"last_name":         q.LastName,
		"organization_name": q.Company,
		"domain":            q.Domain,
		"linkedin_url":      q.LinkedInURL,
	}
	if revealPhone {
		payload["reveal_phone_number"] = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode apollo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create apollo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apollo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apollo returned status %d", resp.StatusCode)
	}

	var result struct {
		Person *apolloPerson `json:"person"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode apollo response: %w", err)
	}
	return result.Person, nil
}
