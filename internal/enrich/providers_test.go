package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHunterFindEmail(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"api_key":    r.URL.Query().Get("api_key"),
			"domain":     r.URL.Query().Get("domain"),
			"first_name": r.URL.Query().Get("first_name"),
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"email": "grace@navy.mil",
				"score": 95,
				"verification": map[string]any{
					"status": "valid",
				},
			},
		})
	}))
	defer srv.Close()

	client := NewHunterClient(srv.URL, "hunter-key")
	got, err := client.FindEmail(context.Background(), Lookup{
		FirstName: "Grace", LastName: "Hopper", Domain: "navy.mil",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "grace@navy.mil", got.Email)
	assert.True(t, got.Verified)
	assert.Equal(t, "hunter-key", gotQuery["api_key"])
	assert.Equal(t, "navy.mil", gotQuery["domain"])
	assert.Equal(t, "Grace", gotQuery["first_name"])
}

func TestHunterMissAndErrors(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewHunterClient(srv.URL, "k")
	q := Lookup{FirstName: "Grace", Domain: "navy.mil"}

	got, err := client.FindEmail(context.Background(), q)
	require.NoError(t, err)
	assert.Nil(t, got)

	status = http.StatusTooManyRequests
	_, err = client.FindEmail(context.Background(), q)
	assert.Error(t, err)
}

func TestHunterSkipsLookupWithoutDomainOrCompany(t *testing.T) {
	client := NewHunterClient("http://unreachable.invalid", "k")
	got, err := client.FindEmail(context.Background(), Lookup{FirstName: "Grace"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApolloFindEmail(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"person": map[string]any{
				"email":        "grace@navy.mil",
				"email_status": "verified",
			},
		})
	}))
	defer srv.Close()

	client := NewApolloClient(srv.URL, "apollo-key")
	got, err := client.FindEmail(context.Background(), Lookup{
		FirstName: "Grace", LastName: "Hopper", LinkedInURL: "https://linkedin.com/in/grace",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "grace@navy.mil", got.Email)
	assert.True(t, got.Verified)
	assert.Equal(t, "apollo-key", gotBody["api_key"])
	assert.Equal(t, "https://linkedin.com/in/grace", gotBody["linkedin_url"])
	assert.Nil(t, gotBody["reveal_phone_number"])
}

func TestApolloFindPhone(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"person": map[string]any{
				"phone_numbers": []map[string]any{
					{"raw_number": "555 0100", "sanitized_number": "+15550100"},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewApolloClient(srv.URL, "apollo-key")
	got, err := client.FindPhone(context.Background(), Lookup{FirstName: "Grace"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "+15550100", got.Phone)
	assert.Equal(t, true, gotBody["reveal_phone_number"])
}

func TestApolloNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"person": nil})
	}))
	defer srv.Close()

	client := NewApolloClient(srv.URL, "k")
	got, err := client.FindEmail(context.Background(), Lookup{FirstName: "Nobody"})
	require.NoError(t, err)
	assert.Nil(t, got)
}
