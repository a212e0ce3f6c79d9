package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/leadpilot/internal/users"
)

// Handler provides the auth HTTP endpoints.
type Handler struct {
	service *Service
	users   users.Store
	logger  *slog.Logger
}

// NewHandler creates an auth handler.
func NewHandler(service *Service, userStore users.Store, logger *slog.Logger) *Handler {
	return &Handler{service: service, users: userStore, logger: logger}
}

// RegisterRoutes mounts the public auth endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/oauth/:provider", h.OAuth)
}

// RegisterProtectedRoutes mounts endpoints that need a valid token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

// RegisterRequest creates a local account.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
}

// Register handles POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email and a password of at least 8 characters are required",
		})
		return
	}

	user, token, err := h.service.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken", "message": "Email is already registered"})
			return
		}
		h.logger.Error("registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register_error", "message": "Failed to create account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

// LoginRequest authenticates a local account.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email and password are required"})
		return
	}

	user, token, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad_credentials", "message": "Invalid email or password"})
			return
		}
		h.logger.Error("login failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_error", "message": "Failed to sign in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// OAuthRequest carries the provider authorization code.
type OAuthRequest struct {
	Code string `json:"code" binding:"required"`
}

// OAuth handles POST /auth/oauth/:provider
func (h *Handler) OAuth(c *gin.Context) {
	provider := users.AuthProvider(c.Param("provider"))
	switch provider {
	case users.ProviderGoogle, users.ProviderLinkedIn:
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "message": "Unsupported OAuth provider"})
		return
	}

	var req OAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "code is required"})
		return
	}

	user, token, err := h.service.OAuthSignIn(c.Request.Context(), provider, req.Code)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "message": "Unsupported OAuth provider"})
			return
		}
		h.logger.Error("oauth sign-in failed", "provider", provider, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "oauth_error", "message": "OAuth sign-in failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Me handles GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), c.GetString(CtxUserID))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_error", "message": "Failed to load user"})
		return
	}
	c.JSON(http.StatusOK, user)
}
