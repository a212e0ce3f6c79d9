package contacts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadpilot/leadpilot/internal/idgen"
	"github.com/leadpilot/leadpilot/internal/pagination"
)

// Handler exposes list and contact management over HTTP.
type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/lists", h.CreateList)
	r.GET("/lists", h.ListLists)
	r.GET("/lists/:id", h.GetList)
	r.DELETE("/lists/:id", h.DeleteList)
	r.POST("/lists/:id/contacts", h.CreateContact)
	r.POST("/lists/:id/import", h.ImportContacts)
	r.GET("/lists/:id/contacts", h.ListContacts)
	r.GET("/contacts/:id", h.GetContact)
	r.DELETE("/contacts/:id", h.DeleteContact)
}

type createListRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) CreateList(c *gin.Context) {
	var req createListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	l := &List{
		ID:          idgen.WithPrefix("lst_"),
		UserID:      c.GetString("user_id"),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.store.CreateList(c.Request.Context(), l); err != nil {
		h.logger.Error("create list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListLists(c *gin.Context) {
	lists, err := h.store.ListsByUser(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		h.logger.Error("list lists failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if lists == nil {
		lists = []*List{}
	}
	c.JSON(http.StatusOK, gin.H{"lists": lists, "count": len(lists)})
}

func (h *Handler) GetList(c *gin.Context) {
	l, ok := h.ownedList(c)
	if !ok {
		return
	}
	count, err := h.store.CountByList(c.Request.Context(), l.ID)
	if err != nil {
		h.logger.Error("count contacts failed", "error", err, "list_id", l.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": l, "contactCount": count})
}

func (h *Handler) DeleteList(c *gin.Context) {
	l, ok := h.ownedList(c)
	if !ok {
		return
	}
	if err := h.store.DeleteList(c.Request.Context(), l.ID); err != nil {
		h.logger.Error("delete list failed", "error", err, "list_id", l.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type contactRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Company     string `json:"company"`
	Title       string `json:"title"`
	LinkedInURL string `json:"linkedinUrl"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

func (r *contactRequest) toContact(listID, userID string) *Contact {
	return &Contact{
		ID:          idgen.WithPrefix("cnt_"),
		ListID:      listID,
		UserID:      userID,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Company:     r.Company,
		Title:       r.Title,
		LinkedInURL: r.LinkedInURL,
		Email:       r.Email,
		Phone:       r.Phone,
	}
}

func (h *Handler) CreateContact(c *gin.Context) {
	l, ok := h.ownedList(c)
	if !ok {
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	contact := req.toContact(l.ID, l.UserID)
	if err := h.store.CreateContact(c.Request.Context(), contact); err != nil {
		h.logger.Error("create contact failed", "error", err, "list_id", l.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

type importRequest struct {
	Contacts []contactRequest `json:"contacts" binding:"required,min=1,max=1000"`
}

func (h *Handler) ImportContacts(c *gin.Context) {
	l, ok := h.ownedList(c)
	if !ok {
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	batch := make([]*Contact, 0, len(req.Contacts))
	for _, row := range req.Contacts {
		batch = append(batch, row.toContact(l.ID, l.UserID))
	}
	if err := h.store.CreateContacts(c.Request.Context(), batch); err != nil {
		h.logger.Error("import failed", "error", err, "list_id", l.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": len(batch)})
}

func (h *Handler) ListContacts(c *gin.Context) {
	l, ok := h.ownedList(c)
	if !ok {
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = n
	}
	var cursor *pagination.Cursor
	if v := c.Query("cursor"); v != "" {
		cur, err := pagination.Decode(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		cursor = cur
	}

	items, err := h.store.ContactsByList(c.Request.Context(), l.ID, limit+1, cursor)
	if err != nil {
		h.logger.Error("list contacts failed", "error", err, "list_id", l.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	page, next, hasMore := pagination.ComputePage(items, limit, func(ct *Contact) (time.Time, string) {
		return ct.CreatedAt, ct.ID
	})
	resp := gin.H{"contacts": page, "count": len(page), "hasMore": hasMore}
	if hasMore {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetContact(c *gin.Context) {
	contact, ok := h.ownedContact(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) DeleteContact(c *gin.Context) {
	contact, ok := h.ownedContact(c)
	if !ok {
		return
	}
	if err := h.store.DeleteContact(c.Request.Context(), contact.ID); err != nil {
		h.logger.Error("delete contact failed", "error", err, "contact_id", contact.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ownedList loads the :id list and enforces ownership. Foreign or
// missing lists both come back as 404.
func (h *Handler) ownedList(c *gin.Context) (*List, bool) {
	l, err := h.store.GetList(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrListNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "list_not_found"})
		} else {
			h.logger.Error("get list failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		}
		return nil, false
	}
	if l.UserID != c.GetString("user_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "list_not_found"})
		return nil, false
	}
	return l, true
}

func (h *Handler) ownedContact(c *gin.Context) (*Contact, bool) {
	contact, err := h.store.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "contact_not_found"})
		} else {
			h.logger.Error("get contact failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		}
		return nil, false
	}
	if contact.UserID != c.GetString("user_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact_not_found"})
		return nil, false
	}
	return contact, true
}
