package credits

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/leadpilot/internal/pagination"
)

// Handler provides HTTP endpoints for credit balance and history.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new credits handler.
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up credit routes. The group must already carry the auth
// middleware that sets user_id.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/credits/balance", h.GetBalance)
	r.GET("/credits/history", h.GetHistory)
}

// GetBalance handles GET /credits/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.GetString("user_id")

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "user_not_found",
				"message": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
	})
}

// GetHistory handles GET /credits/history?limit=&cursor=&kind=
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.GetString("user_id")

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var cursor *pagination.Cursor
	if cursorStr := c.Query("cursor"); cursorStr != "" {
		cur, err := pagination.Decode(cursorStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Malformed pagination cursor",
			})
			return
		}
		cursor = cur
	}

	kind := Kind(c.Query("kind"))
	switch kind {
	case "", KindAdd, KindUse, KindExpire:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_kind",
			"message": "kind must be one of add, use, expire",
		})
		return
	}

	txns, err := h.ledger.GetHistory(c.Request.Context(), userID, limit+1, cursor, kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_error",
			"message": "Failed to retrieve credit history",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(txns, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})

	resp := gin.H{
		"transactions": page,
		"count":        len(page),
		"hasMore":      hasMore,
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
