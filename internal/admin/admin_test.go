package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/users"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

type fixture struct {
	users  *users.MemoryStore
	plans  *plans.MemoryStore
	ledger *credits.Ledger
	router *gin.Engine
}

func newFixture(t *testing.T, actingAdmin string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	f := &fixture{
		users: users.NewMemoryStore(),
		plans: plans.NewMemoryStore(),
	}
	f.ledger = credits.New(credits.NewMemoryStore(f.users), logger)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	grp := r.Group("/admin")
	grp.Use(func(c *gin.Context) { c.Set("user_id", actingAdmin) })
	NewHandler(f.users, f.plans, f.ledger, logger).RegisterRoutes(grp)
	f.router = r
	return f
}

func (f *fixture) addUser(t *testing.T, id string, role users.Role) *users.User {
	t.Helper()
	u := &users.User{
		ID:    id,
		Email: id + "@example.com",
		Role:  role,
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGrantCreditsRecordsAdmin(t *testing.T) {
	f := newFixture(t, "usr_admin")
	f.addUser(t, "usr_admin", users.RoleAdmin)
	f.addUser(t, "usr_target", users.RoleUser)

	w := doJSON(f.router, http.MethodPost, "/admin/users/usr_target/credits",
		gin.H{"amount": 50, "reason": "support goodwill"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 50, resp.Balance)

	history, err := f.ledger.GetHistory(context.Background(), "usr_target", 10, nil, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "usr_admin", history[0].Metadata[credits.MetaGrantedBy])
	assert.Equal(t, "support goodwill", history[0].Reason)
}

func TestGrantRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, "usr_admin")
	f.addUser(t, "usr_target", users.RoleUser)

	w := doJSON(f.router, http.MethodPost, "/admin/users/usr_target/credits", gin.H{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	balance, err := f.ledger.GetBalance(context.Background(), "usr_target")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestGrantUnknownUser(t *testing.T) {
	f := newFixture(t, "usr_admin")
	w := doJSON(f.router, http.MethodPost, "/admin/users/usr_ghost/credits", gin.H{"amount": 5})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUsersPaginates(t *testing.T) {
	f := newFixture(t, "usr_admin")
	for i := 0; i < 5; i++ {
		f.addUser(t, fmt.Sprintf("usr_%02d", i), users.RoleUser)
	}

	w := doJSON(f.router, http.MethodGet, "/admin/users?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first struct {
		Users   []*users.User `json:"users"`
		HasMore bool          `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Len(t, first.Users, 3)
	assert.True(t, first.HasMore)

	w = doJSON(f.router, http.MethodGet, "/admin/users?limit=3&offset=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second struct {
		Users   []*users.User `json:"users"`
		HasMore bool          `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Len(t, second.Users, 2)
	assert.False(t, second.HasMore)
}

func TestSetRolePromotes(t *testing.T) {
	f := newFixture(t, "usr_admin")
	f.addUser(t, "usr_target", users.RoleUser)

	w := doJSON(f.router, http.MethodPut, "/admin/users/usr_target/role", gin.H{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)

	u, err := f.users.GetByID(context.Background(), "usr_target")
	require.NoError(t, err)
	assert.Equal(t, users.RoleAdmin, u.Role)
}

func TestSetRoleRejectsSelfDemotion(t *testing.T) {
	f := newFixture(t, "usr_admin")
	f.addUser(t, "usr_admin", users.RoleAdmin)

	w := doJSON(f.router, http.MethodPut, "/admin/users/usr_admin/role", gin.H{"role": "user"})
	assert.Equal(t, http.StatusConflict, w.Code)

	u, err := f.users.GetByID(context.Background(), "usr_admin")
	require.NoError(t, err)
	assert.Equal(t, users.RoleAdmin, u.Role)
}

func TestSetRoleRejectsUnknownRole(t *testing.T) {
	f := newFixture(t, "usr_admin")
	f.addUser(t, "usr_target", users.RoleUser)

	w := doJSON(f.router, http.MethodPut, "/admin/users/usr_target/role", gin.H{"role": "superuser"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAndUpdatePlan(t *testing.T) {
	f := newFixture(t, "usr_admin")

	w := doJSON(f.router, http.MethodPost, "/admin/plans", gin.H{
		"name":         "Scale",
		"priceCents":   19900,
		"billingCycle": "monthly",
		"credits":      2000,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created plans.Plan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Active)
	assert.EqualValues(t, 2000, created.Credits)

	w = doJSON(f.router, http.MethodPut, "/admin/plans/"+created.ID, gin.H{
		"name":         "Scale",
		"priceCents":   24900,
		"billingCycle": "monthly",
		"credits":      2500,
		"active":       false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	p, err := f.plans.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 24900, p.PriceCents)
	assert.False(t, p.Active)
}

func TestCreatePlanRejectsBadCycle(t *testing.T) {
	f := newFixture(t, "usr_admin")
	w := doJSON(f.router, http.MethodPost, "/admin/plans", gin.H{
		"name":         "Weird",
		"billingCycle": "fortnightly",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUserIncludesBalance(t *testing.T) {
	f := newFixture(t, "usr_admin")
	f.addUser(t, "usr_target", users.RoleUser)
	_, err := f.ledger.Credit(context.Background(), "usr_target", 12, "seed", nil)
	require.NoError(t, err)

	w := doJSON(f.router, http.MethodGet, "/admin/users/usr_target", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 12, resp.Balance)
}
