package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/capture"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/repository"
)

// SuspectHandler handles suspect endpoints.
type SuspectHandler struct {
	store *repository.Store
}

// NewSuspectHandler creates a new SuspectHandler.
func NewSuspectHandler(store *repository.Store) *SuspectHandler {
	return &SuspectHandler{store: store}
}

// List handles GET /api/suspects.
func (h *SuspectHandler) List(c *gin.Context) {
	out, total, err := h.store.Suspects.List(c.Request.Context(), c.Query("q"),
		repository.Page{Page: queryInt(c, "page"), PageSize: queryInt(c, "page_size")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspects": out, "total": total})
}

// Get handles GET /api/suspects/:id.
func (h *SuspectHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourceSuspect, id)
	s, err := h.store.Suspects.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type createSuspectRequest struct {
	Nom           string     `json:"nom" binding:"required,max=64"`
	Prenom        string     `json:"prenom"`
	DateNaissance *time.Time `json:"date_naissance"`
	Nationalite   string     `json:"nationalite"`
	Adresse       string     `json:"adresse"`
	Telephone     string     `json:"telephone"`
	Statut        string     `json:"statut"`
	Notes         string     `json:"notes"`
}

// Create handles POST /api/suspects.
func (h *SuspectHandler) Create(c *gin.Context) {
	var req createSuspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s := &model.Suspect{
		Nom:           req.Nom,
		Prenom:        req.Prenom,
		DateNaissance: req.DateNaissance,
		Nationalite:   req.Nationalite,
		Adresse:       req.Adresse,
		Telephone:     req.Telephone,
		Statut:        req.Statut,
		Notes:         req.Notes,
	}
	if err := h.store.Suspects.Create(c.Request.Context(), s); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// Update handles PUT /api/suspects/:id.
func (h *SuspectHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourceSuspect, id)
	var patch repository.SuspectPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.store.Suspects.Update(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Delete handles DELETE /api/suspects/:id.
func (h *SuspectHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourceSuspect, id)
	if _, err := h.store.Suspects.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
