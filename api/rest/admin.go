package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles operator endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	svc    *audit.Service
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, svc *audit.Service, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, svc: svc, sched: sched, logger: logger}
}

// Status returns server health figures.
// GET /api/admin/status
func (h *AdminHandler) Status(c *gin.Context) {
	open, err := h.svc.CountOpenSessions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"open_sessions":   open,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListSessions returns the sessions started in the requested range, the
// last 24 hours by default.
// GET /api/admin/sessions?from=&to=
func (h *AdminHandler) ListSessions(c *gin.Context) {
	to := h.svc.Now()
	from := to.Add(-24 * time.Hour)
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		if v := c.Query(name); v != "" {
			t, err := parseTime(v)
			if err != nil {
				badRequest(c, errors.New("invalid "+name))
				return
			}
			*dst = t
		}
	}
	out, err := h.svc.Sessions(c.Request.Context(), nil, from, to, queryInt(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
}

// RunTask runs a scheduler task immediately.
// POST /api/admin/tasks/:name/run
func (h *AdminHandler) RunTask(c *gin.Context) {
	name := c.Param("name")
	err := h.sched.RunNow(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.logger.Info("admin ran scheduler task", zap.String("task", name))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// Health pings the database.
// GET /health
func (h *AdminHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be deployed without protection by accident.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
