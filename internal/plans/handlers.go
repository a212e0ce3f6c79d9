package plans

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides public plan catalogue endpoints.
type Handler struct {
	store Store
}

// NewHandler creates a new plans handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// List returns the plans flagged for website display.
func (h *Handler) List(c *gin.Context) {
	visible, err := h.store.ListVisible(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list plans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": visible})
}

// CreditPack returns the one-time additional-credits plan.
func (h *Handler) CreditPack(c *gin.Context) {
	pack, err := h.store.GetByName(c.Request.Context(), "Additional Credits")
	if err == ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "additional credits plan not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": pack})
}
