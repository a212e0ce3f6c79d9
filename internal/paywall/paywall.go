// Package paywall implements HTTP 402 Payment Required middleware gating
// credit-costed operations on the caller's ledger balance.
package paywall

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/leadpilot/internal/credits"
)

// RequireCredits returns middleware that rejects the request with 402 when
// the authenticated user's balance does not cover cost. The balance itself is
// not debited here; the handler debits through the ledger after the work
// succeeds.
func RequireCredits(ledger *credits.Ledger, cost int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}

		balance, err := ledger.GetBalance(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, credits.ErrUserNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Unknown user",
				})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "balance_error",
					"message": "Failed to check credit balance",
				})
			}
			c.Abort()
			return
		}

		if balance < cost {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":    "insufficient_credits",
				"required": cost,
				"balance":  balance,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireOperation gates a route on the cost of a named ledger operation.
func RequireOperation(ledger *credits.Ledger, op credits.Operation) gin.HandlerFunc {
	cost, err := credits.Cost(op)
	if err != nil {
		// Unknown operation is a wiring bug; fail closed.
		return func(c *gin.Context) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "paywall_misconfigured",
				"message": "Unknown operation",
			})
			c.Abort()
		}
	}
	return RequireCredits(ledger, cost)
}
