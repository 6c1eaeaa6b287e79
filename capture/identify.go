package capture

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/middleware"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
)

// Identify runs after middleware.Auth. It loads the agent, refuses
// suspended accounts, and attaches the agent and its open session to the
// request context, opening the session on the first request of a token.
func (m *Capture) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		rc := audit.FromContext(ctx)
		if rc == nil {
			rc = &audit.RequestContext{
				IP:        c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
				Endpoint:  c.Request.URL.Path,
				Method:    c.Request.Method,
				TraceID:   middleware.GetTraceID(c),
			}
			ctx = audit.WithRequest(ctx, rc)
			c.Request = c.Request.WithContext(ctx)
		}

		u, err := m.users(ctx, middleware.GetUserID(c))
		if err != nil || u == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		actor := audit.ActorOf(u)
		if u.Suspended() {
			m.svc.Capture(ctx, audit.Entry{
				Action:       model.ActionAccessDenied,
				ResourceType: audit.ResourceUser,
				ResourceID:   &u.ID,
				Actor:        actor,
				Error:        "compte suspendu",
			})
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account suspended"})
			return
		}
		rc.Actor = actor

		token := middleware.GetSessionToken(c)
		sess, err := m.svc.EnsureSession(ctx, actor, token, rc.IP, rc.UserAgent)
		if errors.Is(err, audit.ErrSessionEnded) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		if err != nil {
			m.logger.Warn("audit session unavailable", zap.Int64("user_id", u.ID), zap.Error(err))
		} else {
			rc.SetSession(sess.ID, token)
			if err := m.svc.TouchSession(ctx, sess.ID); err != nil {
				m.logger.Warn("audit session touch failed", zap.Int64("session_id", sess.ID), zap.Error(err))
			}
		}
		c.Next()
	}
}

// RequireRole lets only the given roles through. A refusal is recorded as
// ACCESS_DENIED and answered with 403. The role is the one loaded by
// Identify, so a role change applies without a new token.
func (m *Capture) RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		role := middleware.GetRole(c)
		if rc := audit.FromContext(ctx); rc != nil && rc.Actor != nil {
			role = rc.Actor.Role
		}
		if allowed[role] {
			c.Next()
			return
		}
		m.svc.Capture(ctx, audit.Entry{
			Action: model.ActionAccessDenied,
			Error:  "rôle insuffisant : " + role,
		})
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// RequirePrivileged is RequireRole with the configured privileged roles.
func (m *Capture) RequirePrivileged() gin.HandlerFunc {
	return m.RequireRole(m.svc.Config().PrivilegedRoles...)
}
