package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/leadpilot/internal/users"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestService(t *testing.T) (*Service, *users.MemoryStore, *TokenManager) {
	t.Helper()
	store := users.NewMemoryStore()
	tokens := NewTokenManager("test-secret-which-is-long-enough!", time.Hour)
	svc := NewService(store, tokens, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	return svc, store, tokens
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, tokens := newTestService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "sam@example.com", "hunter2hunter2", "Sam")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, users.RoleUser, user.Role)
	assert.Equal(t, users.ProviderLocal, user.AuthProvider)
	assert.NotEqual(t, "hunter2hunter2", user.PasswordHash)

	identity, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)

	got, _, err := svc.Login(ctx, "sam@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, _, err = svc.Login(ctx, "sam@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "dup@example.com", "password123", "")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "dup@example.com", "password456", "")
	assert.ErrorIs(t, err, users.ErrEmailTaken)
}

func TestOnSignupHookRuns(t *testing.T) {
	svc, _, _ := newTestService(t)

	var hooked []string
	svc.OnSignup = func(_ context.Context, u *users.User) {
		hooked = append(hooked, u.ID)
	}

	user, _, err := svc.Register(context.Background(), "new@example.com", "password123", "")
	require.NoError(t, err)
	assert.Equal(t, []string{user.ID}, hooked)
}

func TestOAuthSignInCreatesThenReuses(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	svc.RegisterExchange(users.ProviderGoogle, func(_ context.Context, code string) (*Profile, error) {
		if code != "good-code" {
			return nil, errors.New("exchange failed")
		}
		return &Profile{Email: "g@example.com", Name: "Gee", Picture: "https://pic"}, nil
	})

	user, token, err := svc.OAuthSignIn(ctx, users.ProviderGoogle, "good-code")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, users.ProviderGoogle, user.AuthProvider)
	assert.Equal(t, "Gee", user.Name)

	again, _, err := svc.OAuthSignIn(ctx, users.ProviderGoogle, "good-code")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, _, err = svc.OAuthSignIn(ctx, users.ProviderGoogle, "bad-code")
	assert.Error(t, err)

	_, _, err = svc.OAuthSignIn(ctx, users.ProviderLinkedIn, "good-code")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOAuthAccountCannotPasswordLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.RegisterExchange(users.ProviderGoogle, func(context.Context, string) (*Profile, error) {
		return &Profile{Email: "oauth-only@example.com"}, nil
	})
	_, _, err := svc.OAuthSignIn(ctx, users.ProviderGoogle, "code")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "oauth-only@example.com", "anything")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestTokenVerification(t *testing.T) {
	tokens := NewTokenManager("secret-one-secret-one-secret-one", time.Hour)

	token, err := tokens.Generate(&users.User{ID: "usr_1", Email: "a@b.c", Role: users.RoleAdmin})
	require.NoError(t, err)

	identity, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", identity.UserID)
	assert.Equal(t, users.RoleAdmin, identity.Role)

	_, err = tokens.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenManager("secret-two-secret-two-secret-two", time.Hour)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	tokens := NewTokenManager("secret-one-secret-one-secret-one", time.Hour)
	tokens.ttl = -time.Hour

	token, err := tokens.Generate(&users.User{ID: "usr_1", Email: "a@b.c", Role: users.RoleUser})
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := NewTokenManager("secret-one-secret-one-secret-one", time.Hour)

	r := gin.New()
	authed := r.Group("/", RequireAuth(tokens))
	authed.GET("/user", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.GetString(CtxUserID)})
	})
	authed.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	userToken, err := tokens.Generate(&users.User{ID: "usr_1", Email: "a@b.c", Role: users.RoleUser})
	require.NoError(t, err)
	adminToken, err := tokens.Generate(&users.User{ID: "usr_2", Email: "x@y.z", Role: users.RoleAdmin})
	require.NoError(t, err)

	do := func(path, token string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do("/user", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/user", "garbage"))
	assert.Equal(t, http.StatusOK, do("/user", userToken))

	assert.Equal(t, http.StatusForbidden, do("/admin", userToken))
	assert.Equal(t, http.StatusOK, do("/admin", adminToken))
}
