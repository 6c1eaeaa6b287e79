package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/capture"
	mw "github.com/sgic-platform/sgic-audit/middleware"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/repository"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// UserHandler handles agent administration endpoints. Routes other than
// List should be restricted to administrators.
type UserHandler struct {
	store *repository.Store
	cost  int
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store *repository.Store) *UserHandler {
	return &UserHandler{store: store, cost: bcryptCost}
}

// List handles GET /api/users.
func (h *UserHandler) List(c *gin.Context) {
	out, total, err := h.store.Users.List(c.Request.Context(),
		repository.Page{Page: queryInt(c, "page"), PageSize: queryInt(c, "page_size")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "total": total})
}

type createUserRequest struct {
	Username  string `json:"username"   binding:"required,min=2,max=64"`
	Password  string `json:"password"   binding:"required,min=8,max=72"`
	PIN       string `json:"pin"        binding:"omitempty,min=4,max=12"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"  binding:"required"`
	Email     string `json:"email"      binding:"omitempty,email"`
	Role      string `json:"role"`
}

// Create handles POST /api/users.
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cost)
	if err != nil {
		respondError(c, err)
		return
	}
	u := &model.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Role:         req.Role,
	}
	if req.PIN != "" {
		pin, err := bcrypt.GenerateFromPassword([]byte(req.PIN), h.cost)
		if err != nil {
			respondError(c, err)
			return
		}
		u.PINHash = string(pin)
	}
	if err := h.store.Users.Create(c.Request.Context(), u); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

// ChangeRole handles PUT /api/users/:id/role.
func (h *UserHandler) ChangeRole(c *gin.Context) {
	id, ok := h.target(c)
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.store.Users.ChangeRole(c.Request.Context(), id, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type permissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

// SetPermissions handles PUT /api/users/:id/permissions.
func (h *UserHandler) SetPermissions(c *gin.Context) {
	id, ok := h.target(c)
	if !ok {
		return
	}
	var req permissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.store.Users.SetPermissions(c.Request.Context(), id, req.Permissions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// Suspend handles POST /api/users/:id/suspend. Agents cannot suspend
// themselves.
func (h *UserHandler) Suspend(c *gin.Context) {
	id, ok := h.target(c)
	if !ok {
		return
	}
	if id == mw.GetUserID(c) {
		capture.SetAction(c, model.ActionSuspend)
		badRequest(c, errors.New("cannot suspend own account"))
		return
	}
	u, err := h.store.Users.Suspend(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// Restore handles POST /api/users/:id/restore.
func (h *UserHandler) Restore(c *gin.Context) {
	id, ok := h.target(c)
	if !ok {
		return
	}
	u, err := h.store.Users.Restore(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UserHandler) target(c *gin.Context) (int64, bool) {
	id, ok := paramID(c, "id")
	if ok {
		capture.SetResource(c, audit.ResourceUser, id)
	}
	return id, ok
}
