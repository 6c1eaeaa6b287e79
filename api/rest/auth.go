package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/config"
	mw "github.com/sgic-platform/sgic-audit/middleware"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler handles authentication REST endpoints. Each of them writes its
// own audit entry.
type AuthHandler struct {
	store  *repository.Store
	audit  *audit.Service
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(store *repository.Store, svc *audit.Service, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{store: store, audit: svc, cache: c, sec: sec, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=64"`
	Password string `json:"password" binding:"required,min=4,max=72"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	u, err := h.store.Users.ByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		respondError(c, err)
		return
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		var actor *audit.Actor
		if u != nil {
			actor = audit.ActorOf(u)
		}
		h.audit.Capture(ctx, audit.Entry{
			Action: model.ActionFailedLogin,
			Actor:  actor,
			After:  snapshot.Snapshot{"username": req.Username},
			Error:  "identifiants invalides",
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	actor := audit.ActorOf(u)
	if u.Suspended() {
		h.audit.Capture(ctx, audit.Entry{
			Action:       model.ActionAccessDenied,
			ResourceType: audit.ResourceUser,
			ResourceID:   &u.ID,
			Actor:        actor,
			Error:        "compte suspendu",
		})
		c.JSON(http.StatusForbidden, gin.H{"error": "account suspended"})
		return
	}

	token, jti, err := mw.GenerateToken(u.ID, u.Role, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Set(cacheCtx, mw.SessionKey(jti), strconv.FormatInt(u.ID, 10), h.sec.JWTTTLH); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}

	rc := audit.FromContext(ctx)
	ip, ua := c.ClientIP(), c.Request.UserAgent()
	var sessionID int64
	sess, err := h.audit.EnsureSession(ctx, actor, jti, ip, ua)
	if err != nil {
		h.logger.Warn("audit session open failed", zap.Int64("user_id", u.ID), zap.Error(err))
	} else {
		sessionID = sess.ID
		if rc != nil {
			rc.SetSession(sess.ID, jti)
		}
	}
	if rc != nil {
		rc.Actor = actor
	}
	h.audit.Capture(ctx, audit.Entry{
		Action:       model.ActionLogin,
		ResourceType: audit.ResourceUser,
		ResourceID:   &u.ID,
	})
	if err := h.store.Users.TouchLogin(ctx, u.ID, ip, h.audit.Now()); err != nil {
		h.logger.Warn("last login update failed", zap.Int64("user_id", u.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user_id":    u.ID,
		"role":       u.Role,
		"name":       u.FullName(),
		"session_id": sessionID,
	})
}

// Logout handles POST /api/auth/logout. It runs behind Auth and Identify.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	jti := mw.GetSessionToken(c)

	// Written before the session closes so it belongs to it.
	h.audit.Capture(ctx, audit.Entry{Action: model.ActionLogout})
	if _, err := h.audit.CloseSession(ctx, jti, audit.EndLogout); err != nil && !errors.Is(err, audit.ErrNotFound) {
		h.logger.Warn("audit session close failed", zap.Error(err))
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = h.cache.Del(cacheCtx, mw.SessionKey(jti))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The new token keeps the session.
func (h *AuthHandler) Refresh(c *gin.Context) {
	claims, err := mw.ParseToken(mw.BearerToken(c), h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	token, err := mw.ReissueToken(claims, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Expire(ctx, mw.SessionKey(claims.ID), h.sec.JWTTTLH)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type pinRequest struct {
	PIN string `json:"pin" binding:"required,min=4,max=12"`
}

// PIN handles POST /api/auth/pin, the second factor asked before sensitive
// screens.
func (h *AuthHandler) PIN(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	u, err := h.store.Users.Get(ctx, mw.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if u.PINHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PINHash), []byte(req.PIN)) != nil {
		h.audit.Capture(ctx, audit.Entry{
			Action:       model.ActionPINFailed,
			ResourceType: audit.ResourceUser,
			ResourceID:   &u.ID,
			Error:        "code PIN erroné",
		})
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid pin", "valid": false})
		return
	}
	h.audit.Capture(ctx, audit.Entry{
		Action:       model.ActionPINValidation,
		ResourceType: audit.ResourceUser,
		ResourceID:   &u.ID,
	})
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
