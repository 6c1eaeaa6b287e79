package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/capture"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/repository"
)

// CaseHandler handles investigation file endpoints.
type CaseHandler struct {
	store *repository.Store
}

// NewCaseHandler creates a new CaseHandler.
func NewCaseHandler(store *repository.Store) *CaseHandler {
	return &CaseHandler{store: store}
}

// List handles GET /api/cases. A q parameter makes it a search.
func (h *CaseHandler) List(c *gin.Context) {
	cases, total, err := h.store.Cases.List(c.Request.Context(), repository.CaseFilter{
		Query:  c.Query("q"),
		Statut: c.Query("statut"),
		Page:   repository.Page{Page: queryInt(c, "page"), PageSize: queryInt(c, "page_size")},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases, "total": total})
}

// Get handles GET /api/cases/:id.
func (h *CaseHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourceCase, id)
	cs, err := h.store.Cases.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

type createCaseRequest struct {
	Numero             string  `json:"numero"      binding:"required,max=32"`
	Titre              string  `json:"titre"       binding:"required,max=255"`
	Description        string  `json:"description"`
	Statut             string  `json:"statut"`
	Priorite           string  `json:"priorite"`
	Lieu               string  `json:"lieu"`
	LeadInvestigatorID *int64  `json:"lead_investigator_id"`
	SuspectIDs         []int64 `json:"suspect_ids"`
}

// Create handles POST /api/cases.
func (h *CaseHandler) Create(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cs := &model.Case{
		Numero:             req.Numero,
		Titre:              req.Titre,
		Description:        req.Description,
		Statut:             req.Statut,
		Priorite:           req.Priorite,
		Lieu:               req.Lieu,
		LeadInvestigatorID: req.LeadInvestigatorID,
	}
	if err := h.store.Cases.Create(c.Request.Context(), cs, req.SuspectIDs...); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

// Update handles PUT and PATCH /api/cases/:id. Absent fields are kept.
func (h *CaseHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourceCase, id)
	var patch repository.CasePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	cs, err := h.store.Cases.Update(c.Request.Context(), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// Delete handles DELETE /api/cases/:id.
func (h *CaseHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	capture.SetResource(c, audit.ResourceCase, id)
	gone, err := h.store.Cases.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	removeFiles(gone.Pieces)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
