package enrich

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/leadpilot/internal/contacts"
	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/paywall"
)

// Handler exposes the enrichment endpoints. Routes are guarded by the
// paywall so requests without enough credits are rejected before any
// provider traffic.
type Handler struct {
	service *Service
	ledger  *credits.Ledger
	logger  *slog.Logger
}

func NewHandler(service *Service, ledger *credits.Ledger, logger *slog.Logger) *Handler {
	return &Handler{service: service, ledger: ledger, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/contacts/:id/enrich/email",
		paywall.RequireOperation(h.ledger, credits.OpEmailLookup), h.EnrichEmail)
	r.POST("/contacts/:id/enrich/phone",
		paywall.RequireOperation(h.ledger, credits.OpPhoneLookup), h.EnrichPhone)
	r.POST("/lists/:id/enrich",
		paywall.RequireOperation(h.ledger, credits.OpEmailLookup), h.EnrichList)
}

func (h *Handler) EnrichEmail(c *gin.Context) {
	contact, err := h.service.EnrichEmail(c.Request.Context(), c.GetString("user_id"), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) EnrichPhone(c *gin.Context) {
	contact, err := h.service.EnrichPhone(c.Request.Context(), c.GetString("user_id"), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) EnrichList(c *gin.Context) {
	res, err := h.service.EnrichList(c.Request.Context(), c.GetString("user_id"), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contacts.ErrContactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contact_not_found"})
	case errors.Is(err, contacts.ErrListNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "list_not_found"})
	case errors.Is(err, ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_credits"})
	case errors.Is(err, ErrNoResult):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_result", "message": "No provider could find this contact"})
	default:
		h.logger.Error("enrichment failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enrichment_failed"})
	}
}
