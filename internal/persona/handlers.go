package persona

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/leadpilot/internal/idgen"
)

// Handler exposes persona CRUD plus prompt-driven generation.
type Handler struct {
	store     Store
	generator Generator
	logger    *slog.Logger
}

// NewHandler creates the handler. generator may be nil, in which case
// the generate endpoint responds 503.
func NewHandler(store Store, generator Generator, logger *slog.Logger) *Handler {
	return &Handler{store: store, generator: generator, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/personas", h.Create)
	r.POST("/personas/generate", h.Generate)
	r.GET("/personas", h.List)
	r.GET("/personas/:id", h.Get)
	r.PUT("/personas/:id", h.Update)
	r.DELETE("/personas/:id", h.Delete)
}

type personaRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Filters     Filters `json:"filters"`
	SearchURL   string  `json:"searchUrl"`
}

func (h *Handler) Create(c *gin.Context) {
	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	p := &Persona{
		ID:          idgen.WithPrefix("per_"),
		UserID:      c.GetString("user_id"),
		Name:        req.Name,
		Description: req.Description,
		Filters:     req.Filters,
		SearchURL:   req.SearchURL,
	}
	if err := h.store.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create persona failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, p)
}

type generateRequest struct {
	Prompt      string `json:"prompt" binding:"required"`
	Description string `json:"description"`
}

// Generate runs the prompt through the generator and persists the result.
func (h *Handler) Generate(c *gin.Context) {
	if h.generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation_unavailable"})
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	gen, err := h.generator.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		h.logger.Error("persona generation failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed"})
		return
	}
	p := &Persona{
		ID:          idgen.WithPrefix("per_"),
		UserID:      c.GetString("user_id"),
		Name:        gen.Name,
		Description: req.Description,
		Filters:     gen.Filters,
		SearchURL:   gen.SearchURL,
	}
	if err := h.store.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create persona failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) List(c *gin.Context) {
	personas, err := h.store.ListByUser(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		h.logger.Error("list personas failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if personas == nil {
		personas = []*Persona{}
	}
	c.JSON(http.StatusOK, gin.H{"personas": personas, "count": len(personas)})
}

func (h *Handler) Get(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	p.Name = req.Name
	p.Description = req.Description
	p.Filters = req.Filters
	p.SearchURL = req.SearchURL
	if err := h.store.Update(c.Request.Context(), p); err != nil {
		h.logger.Error("update persona failed", "error", err, "persona_id", p.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), p.ID); err != nil {
		h.logger.Error("delete persona failed", "error", err, "persona_id", p.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) owned(c *gin.Context) (*Persona, bool) {
	p, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "persona_not_found"})
		} else {
			h.logger.Error("get persona failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		}
		return nil, false
	}
	if p.UserID != c.GetString("user_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "persona_not_found"})
		return nil, false
	}
	return p, true
}
