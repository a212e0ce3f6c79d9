// Package admin exposes the operator endpoints: user management,
// manual credit grants, and plan catalogue maintenance. Routes must be
// registered behind the admin role guard.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/idgen"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/users"
)

type Handler struct {
	users  users.Store
	plans  plans.Store
	ledger *credits.Ledger
	logger *slog.Logger
}

func NewHandler(userStore users.Store, planStore plans.Store, ledger *credits.Ledger, logger *slog.Logger) *Handler {
	return &Handler{users: userStore, plans: planStore, ledger: ledger, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id", h.GetUser)
	r.POST("/users/:id/credits", h.GrantCredits)
	r.PUT("/users/:id/role", h.SetRole)
	r.GET("/plans", h.ListPlans)
	r.POST("/plans", h.CreatePlan)
	r.PUT("/plans/:id", h.UpdatePlan)
}

func (h *Handler) ListUsers(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = n
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offset"})
			return
		}
		offset = n
	}

	list, err := h.users.List(c.Request.Context(), limit+1, offset)
	if err != nil {
		h.logger.Error("list users failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"users": list, "count": len(list), "hasMore": hasMore})
}

func (h *Handler) GetUser(c *gin.Context) {
	u, ok := h.lookupUser(c)
	if !ok {
		return
	}
	balance, err := h.ledger.GetBalance(c.Request.Context(), u.ID)
	if err != nil && !errors.Is(err, credits.ErrUserNotFound) {
		h.logger.Error("balance lookup failed", "error", err, "user_id", u.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "balance": balance})
}

type grantRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

// GrantCredits credits a user's balance manually. The acting admin is
// recorded on the transaction.
func (h *Handler) GrantCredits(c *gin.Context) {
	u, ok := h.lookupUser(c)
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual grant"
	}

	txn, err := h.ledger.Credit(c.Request.Context(), u.ID, req.Amount, reason, credits.Metadata{
		credits.MetaGrantedBy: c.GetString("user_id"),
	})
	if err != nil {
		if errors.Is(err, credits.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be positive"})
			return
		}
		h.logger.Error("manual grant failed", "error", err, "user_id", u.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grant_failed"})
		return
	}

	h.logger.Info("credits granted",
		"user_id", u.ID, "amount", req.Amount, "granted_by", c.GetString("user_id"))
	c.JSON(http.StatusOK, gin.H{"transaction": txn, "balance": txn.BalanceAfter})
}

type roleRequest struct {
	Role users.Role `json:"role" binding:"required"`
}

func (h *Handler) SetRole(c *gin.Context) {
	u, ok := h.lookupUser(c)
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.Role != users.RoleUser && req.Role != users.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}
	// Admins cannot drop their own role; avoids locking everyone out.
	if u.ID == c.GetString("user_id") && req.Role != users.RoleAdmin {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot_demote_self"})
		return
	}

	u.Role = req.Role
	if err := h.users.Update(c.Request.Context(), u); err != nil {
		h.logger.Error("role change failed", "error", err, "user_id", u.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) ListPlans(c *gin.Context) {
	list, err := h.plans.ListAll(c.Request.Context())
	if err != nil {
		h.logger.Error("list plans failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": list, "count": len(list)})
}

type planRequest struct {
	Name                string             `json:"name" binding:"required"`
	Description         string             `json:"description"`
	PriceCents          int64              `json:"priceCents"`
	BillingCycle        plans.BillingCycle `json:"billingCycle" binding:"required"`
	Credits             int64              `json:"credits"`
	EnrichmentsPerMonth int64              `json:"enrichmentsPerMonth"`
	StripePriceID       string             `json:"stripePriceId"`
	DisplayOnWebsite    bool               `json:"displayOnWebsite"`
	SortOrder           int                `json:"sortOrder"`
	Active              *bool              `json:"active"`
}

func (r *planRequest) valid() bool {
	switch r.BillingCycle {
	case plans.CycleMonthly, plans.CycleAnnual, plans.CycleOneTime:
		return r.PriceCents >= 0 && r.Credits >= 0
	}
	return false
}

func (r *planRequest) apply(p *plans.Plan) {
	p.Name = r.Name
	p.Description = r.Description
	p.PriceCents = r.PriceCents
	p.BillingCycle = r.BillingCycle
	p.Credits = r.Credits
	p.EnrichmentsPerMonth = r.EnrichmentsPerMonth
	p.StripePriceID = r.StripePriceID
	p.DisplayOnWebsite = r.DisplayOnWebsite
	p.SortOrder = r.SortOrder
	if r.Active != nil {
		p.Active = *r.Active
	}
}

func (h *Handler) CreatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !req.valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan"})
		return
	}
	p := &plans.Plan{ID: idgen.WithPrefix("plan_"), Active: true}
	req.apply(p)
	if err := h.plans.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create plan failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePlan(c *gin.Context) {
	p, err := h.plans.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, plans.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found"})
		} else {
			h.logger.Error("get plan failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		}
		return
	}
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !req.valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan"})
		return
	}
	req.apply(p)
	if err := h.plans.Update(c.Request.Context(), p); err != nil {
		h.logger.Error("update plan failed", "error", err, "plan_id", p.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) lookupUser(c *gin.Context) (*users.User, bool) {
	u, err := h.users.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		} else {
			h.logger.Error("get user failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		}
		return nil, false
	}
	return u, true
}
