package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HunterClient calls the Hunter email-finder API. Email only; it is
// tried before Apollo because its hit rate on company domains is better.
type HunterClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHunterClient(baseURL, apiKey string) *HunterClient {
	return &HunterClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (h *HunterClient) Name() string { return "hunter" }

func (h *HunterClient) FindEmail(ctx context.Context, q Lookup) (*EmailResult, error) {
	if q.Domain == "" && q.Company == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("api_key", h.apiKey)
	params.Set("first_name", q.FirstName)
	params.Set("last_name", q.LastName)
	if q.Domain != "" {
		params.Set("domain", q.Domain)
	} else {
		params.Set("company", q.Company)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create hunter request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hunter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hunter returned status %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Email        string `json:"email"`
			Score        int    `json:"score"`
			Verification struct {
				Status string `json:"status"`
			} `json:"verification"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode hunter response: %w", err)
	}
	if result.Data.Email == "" {
		return nil, nil
	}
	return &EmailResult{
		Email:    result.Data.Email,
		Verified: result.Data.Verification.Status == "valid" || result.Data.Score >= 90,
	}, nil
}
