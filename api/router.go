// Package api assembles the HTTP server: the audit service, the capture
// layer, the domain store and every route.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sgic-platform/sgic-audit/api/rest"
	"github.com/sgic-platform/sgic-audit/api/sse"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/capture"
	"github.com/sgic-platform/sgic-audit/config"
	mw "github.com/sgic-platform/sgic-audit/middleware"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/repository"
	"github.com/sgic-platform/sgic-audit/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// ReapTask is the scheduler task closing idle sessions.
const ReapTask = "audit.reap_idle"

// Deps are the infrastructure the server runs on.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Logger *zap.Logger
	// Clock replaces time.Now in the audit service when set.
	Clock func() time.Time
}

// App is a wired server.
type App struct {
	Engine    *gin.Engine
	Audit     *audit.Service
	Store     *repository.Store
	Capture   *capture.Capture
	Scheduler *scheduler.Scheduler
}

// Stop stops the background tasks.
func (a *App) Stop() { a.Scheduler.Stop() }

// New wires the services and registers every route.
func New(d Deps) *App {
	cfg, logger := d.Config, d.Logger

	opts := []audit.Option{}
	if d.PubSub != nil {
		opts = append(opts, audit.WithPubSub(d.PubSub))
	}
	if d.Clock != nil {
		opts = append(opts, audit.WithClock(d.Clock))
	}
	svc := audit.New(d.DB, d.Cache, cfg.Audit, logger, opts...)

	var store *repository.Store
	capt := capture.New(svc, func(ctx context.Context, id int64) (*model.User, error) {
		return store.Users.Get(ctx, id)
	}, logger)
	store = repository.New(d.DB, capt, logger)
	store.RegisterLabels(svc.Resources())

	sched := scheduler.New(logger)
	if cfg.Audit.ReaperInterval > 0 {
		sched.AddTicker(ReapTask, cfg.Audit.ReaperInterval, func(ctx context.Context) error {
			_, err := svc.ReapIdle(ctx)
			return err
		})
	}

	app := &App{Audit: svc, Store: store, Capture: capt, Scheduler: sched}
	app.Engine = app.routes(d)
	return app
}

func (a *App) routes(d Deps) *gin.Engine {
	cfg, c, logger := d.Config, d.Cache, d.Logger
	sec := cfg.Security

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/health", "/metrics"), a.Capture.Middleware(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	adminH := rest.NewAdminHandler(d.DB, a.Audit, a.Scheduler, logger)
	r.GET("/health", adminH.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authH := rest.NewAuthHandler(a.Store, a.Audit, c, sec, logger)
	caseH := rest.NewCaseHandler(a.Store)
	suspectH := rest.NewSuspectHandler(a.Store)
	pieceH := rest.NewPieceHandler(a.Store, cfg.Server.UploadDir, logger)
	userH := rest.NewUserHandler(a.Store)
	auditH := rest.NewAuditHandler(a.Audit, c, logger)

	authed := []gin.HandlerFunc{mw.Auth(sec, c), a.Capture.Identify()}
	privileged := a.Capture.RequirePrivileged()
	withAuth := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, authed...), h)
	}

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", withAuth(authH.Logout)...)
		authG.POST("/refresh", withAuth(authH.Refresh)...)
		authG.POST("/pin", withAuth(authH.PIN)...)

		casesG := api.Group("/cases", authed...)
		casesG.GET("", caseH.List)
		casesG.POST("", caseH.Create)
		casesG.GET("/:id", caseH.Get)
		casesG.PUT("/:id", caseH.Update)
		casesG.PATCH("/:id", caseH.Update)
		casesG.DELETE("/:id", caseH.Delete)
		casesG.GET("/:id/pieces", pieceH.List)
		casesG.POST("/:id/pieces", pieceH.Upload)

		suspectsG := api.Group("/suspects", authed...)
		suspectsG.GET("", suspectH.List)
		suspectsG.POST("", suspectH.Create)
		suspectsG.GET("/:id", suspectH.Get)
		suspectsG.PUT("/:id", suspectH.Update)
		suspectsG.PATCH("/:id", suspectH.Update)
		suspectsG.DELETE("/:id", suspectH.Delete)

		piecesG := api.Group("/pieces", authed...)
		piecesG.GET("/:id/download", pieceH.Download)
		piecesG.DELETE("/:id", pieceH.Delete)

		usersG := api.Group("/users", authed...)
		usersG.Use(privileged)
		usersG.GET("", userH.List)
		usersG.POST("", userH.Create)
		usersG.PUT("/:id/role", userH.ChangeRole)
		usersG.PUT("/:id/permissions", userH.SetPermissions)
		usersG.POST("/:id/suspend", userH.Suspend)
		usersG.POST("/:id/restore", userH.Restore)

		auditG := api.Group("/audit", authed...)
		auditG.POST("/log-navigation", auditH.LogNavigation)
		auditG.POST("/log-action-narrative", auditH.LogActionNarrative)
		auditG.GET("", auditH.List)
		auditG.GET("/sessions", auditH.Sessions)
		auditG.GET("/statistiques", auditH.Statistics)
		auditG.GET("/narrative-reports", auditH.NarrativeReports)
		auditG.GET("/journals/:session_id", auditH.Journal)
		auditG.GET("/:id/narrative-report", auditH.NarrativeReport)
		auditG.PATCH("/:id", privileged, auditH.Annotate)
		purge := []gin.HandlerFunc{privileged, mw.IPWhitelist(sec.AdminIPs), auditH.ClearAll}
		auditG.DELETE("/clear-all", purge...)
		auditG.POST("/clear-all", purge...)
		if d.PubSub != nil {
			sseH := sse.NewHandler(d.PubSub, logger)
			auditG.GET("/stream", privileged, sseH.ServeSSE)
		}

		adminG := api.Group("/admin")
		adminG.Use(rest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/status", adminH.Status)
		adminG.GET("/sessions", adminH.ListSessions)
		adminG.POST("/tasks/:name/run", adminH.RunTask)
	}
	return r
}
