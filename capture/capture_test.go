package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/config"
	"github.com/sgic-platform/sgic-audit/middleware"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newCapture(t *testing.T) (*Capture, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	now := time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC)
	svc := audit.New(db, c, config.DefaultAudit(), zap.NewNop(), audit.WithClock(func() time.Time { return now }))
	users := func(ctx context.Context, id int64) (*model.User, error) {
		var u model.User
		if err := db.WithContext(ctx).First(&u, id).Error; err != nil {
			return nil, err
		}
		return &u, nil
	}
	return New(svc, users, zap.NewNop()), db
}

// authAs stands in for middleware.Auth.
func authAs(id int64, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, id)
		c.Set(middleware.SessionTokenKey, token)
		c.Next()
	}
}

func entries(t *testing.T, db *gorm.DB) []model.EventLog {
	t.Helper()
	var out []model.EventLog
	require.NoError(t, db.Order("id").Find(&out).Error)
	return out
}

func serve(r *gin.Engine, method, target, body, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("X-Real-IP", "10.1.2.3")
	req.Header.Set(WorkstationHeader, "POSTE-ENQ-04")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClassify(t *testing.T) {
	cases := []struct {
		method, target string
		header         map[string]string
		want           model.ActionKind
	}{
		{http.MethodGet, "/api/cases/1", nil, model.ActionView},
		{http.MethodGet, "/api/cases?q=dupont", nil, model.ActionSearch},
		{http.MethodGet, "/api/cases?q=", nil, model.ActionView},
		{http.MethodGet, "/api/pieces/4/download", nil, model.ActionDownload},
		{http.MethodGet, "/api/cases/4?export=true", nil, model.ActionDownload},
		{http.MethodGet, "/api/pieces/4", map[string]string{"Accept": "application/pdf"}, model.ActionDownload},
		{http.MethodGet, "/api/pieces/4", map[string]string{"Accept": "application/json"}, model.ActionView},
		{http.MethodPost, "/api/cases", nil, model.ActionCreate},
		{http.MethodPost, "/api/cases/1/pieces", map[string]string{"Content-Type": "multipart/form-data; boundary=x"}, model.ActionUpload},
		{http.MethodPut, "/api/cases/1", nil, model.ActionUpdate},
		{http.MethodPatch, "/api/cases/1", nil, model.ActionUpdate},
		{http.MethodDelete, "/api/cases/1", nil, model.ActionDelete},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		for k, v := range tc.header {
			req.Header.Set(k, v)
		}
		assert.Equal(t, tc.want, Classify(req), "%s %s", tc.method, tc.target)
	}
}

func TestErrorAction(t *testing.T) {
	for status, want := range map[int]model.ActionKind{
		http.StatusUnauthorized:        model.ActionAccessDenied,
		http.StatusForbidden:           model.ActionError403,
		http.StatusNotFound:            model.ActionError404,
		http.StatusInternalServerError: model.ActionError500,
		http.StatusBadGateway:          model.ActionError500,
	} {
		got, ok := ErrorAction(status)
		assert.True(t, ok)
		assert.Equal(t, want, got, "%d", status)
	}
	_, ok := ErrorAction(http.StatusBadRequest)
	assert.False(t, ok)
}

func TestSuppressed(t *testing.T) {
	m, _ := newCapture(t)
	assert.True(t, m.Suppressed("/static/app.js"))
	assert.True(t, m.Suppressed("/health"))
	assert.True(t, m.Suppressed("/api/audit/log-navigation"))
	assert.False(t, m.Suppressed("/healthcheck"))
	assert.False(t, m.Suppressed("/api/cases"))
}

func TestMiddleware_ViewRecorded(t *testing.T) {
	m, db := newCapture(t)
	u := testutil.CreateUser(t, db, "jmartin", "Martin", model.RoleEnqueteur)

	r := gin.New()
	r.Use(m.Middleware(), authAs(u.ID, "tok-view"), m.Identify())
	r.GET("/api/cases/:id", func(c *gin.Context) {
		SetResource(c, audit.ResourceCase, 3)
		c.Status(http.StatusOK)
	})

	w := serve(r, http.MethodGet, "/api/cases/3", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	got := entries(t, db)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, model.ActionView, e.Action)
	assert.True(t, e.Success)
	assert.Equal(t, "case", e.ResourceType)
	assert.Equal(t, int64(3), *e.ResourceID)
	assert.Equal(t, "/api/cases/3", e.Endpoint)
	assert.Equal(t, "10.1.2.3", e.IPAddress)
	assert.Equal(t, "POSTE-ENQ-04", e.Workstation)
	assert.Equal(t, u.ID, *e.ActorID)
	require.NotNil(t, e.SessionID)
}

func TestMiddleware_SuppressedPathNotRecorded(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/health", "", "")
	assert.Empty(t, entries(t, db))
}

func TestMiddleware_NotFound(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/cases/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	serve(r, http.MethodGet, "/api/cases/99", "", "")
	got := entries(t, db)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionError404, got[0].Action)
	assert.False(t, got[0].Success)
	assert.Equal(t, "HTTP 404 Not Found", got[0].ErrorMessage)
}

func TestMiddleware_PanicRecordedAsError500(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware(), middleware.Recovery(zap.NewNop()))
	r.GET("/api/cases", func(c *gin.Context) { panic("boom") })

	w := serve(r, http.MethodGet, "/api/cases", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	got := entries(t, db)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionError500, got[0].Action)
	assert.Equal(t, "handler panicked", got[0].ErrorMessage)
}

func TestMiddleware_Search(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/suspects", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/api/suspects?q=dupont", "", "")
	got := entries(t, db)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionSearch, got[0].Action)
	assert.Equal(t, "dupont", snapshot.MustDecode(got[0].AfterState)["q"])
}

func TestMiddleware_DeferredMutationSucceeded(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware())
	r.POST("/api/cases", func(c *gin.Context) { c.Status(http.StatusCreated) })

	serve(r, http.MethodPost, "/api/cases", `{"titre":"Vol"}`, "application/json")
	assert.Empty(t, entries(t, db))
}

func TestMiddleware_DeferredMutationFailedMasksBody(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware())
	var seen string
	r.POST("/api/users", func(c *gin.Context) {
		var body map[string]interface{}
		require.NoError(t, c.ShouldBindJSON(&body))
		seen = body["password"].(string)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad request"})
	})

	serve(r, http.MethodPost, "/api/users", `{"username":"pdurand","password":"hunter2","api_key":"abc"}`, "application/json")

	assert.Equal(t, "hunter2", seen, "handler still reads the original body")
	got := entries(t, db)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, model.ActionCreate, e.Action)
	assert.False(t, e.Success)
	after := snapshot.MustDecode(e.AfterState)
	assert.Equal(t, "pdurand", after["username"])
	assert.Equal(t, "********", after["password"])
	assert.Equal(t, "********", after["api_key"])
	assert.NotContains(t, string(e.AfterState), "hunter2")
}

func TestMiddleware_FormBodyMasked(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware())
	r.POST("/api/auth/pin", func(c *gin.Context) { c.Status(http.StatusUnprocessableEntity) })

	serve(r, http.MethodPost, "/api/auth/pin", "auth_code=9999&note=x", "application/x-www-form-urlencoded")
	got := entries(t, db)
	require.Len(t, got, 1)
	after := snapshot.MustDecode(got[0].AfterState)
	assert.Equal(t, "********", after["auth_code"])
	assert.Equal(t, "x", after["note"])
}

func TestMiddleware_HandlerRecordedItself(t *testing.T) {
	m, db := newCapture(t)
	r := gin.New()
	r.Use(m.Middleware())
	r.POST("/api/auth/login", func(c *gin.Context) {
		m.Service().Capture(c.Request.Context(), audit.Entry{Action: model.ActionFailedLogin, Error: "bad credentials"})
		c.Status(http.StatusUnauthorized)
	})

	serve(r, http.MethodPost, "/api/auth/login", `{"username":"x"}`, "application/json")
	got := entries(t, db)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionFailedLogin, got[0].Action)
}

func TestIdentify_SuspendedAccount(t *testing.T) {
	m, db := newCapture(t)
	u := testutil.CreateUser(t, db, "suspendu", "Bernard", model.RoleAnalyste)
	require.NoError(t, db.Model(u).Update("status", model.UserStatusSuspended).Error)

	r := gin.New()
	r.Use(m.Middleware(), authAs(u.ID, "tok-s"), m.Identify())
	r.GET("/api/cases", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/api/cases", "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	got := entries(t, db)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionAccessDenied, got[0].Action)
	assert.Equal(t, "compte suspendu", got[0].ErrorMessage)

	var sessions int64
	db.Model(&model.Session{}).Count(&sessions)
	assert.Zero(t, sessions)
}

func TestIdentify_OpensOneSessionPerToken(t *testing.T) {
	m, db := newCapture(t)
	u := testutil.CreateUser(t, db, "jmartin", "Martin", model.RoleEnqueteur)

	r := gin.New()
	r.Use(m.Middleware(), authAs(u.ID, "tok-1"), m.Identify())
	r.GET("/api/cases", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/api/cases", "", "")
	serve(r, http.MethodGet, "/api/cases", "", "")

	var sessions []model.Session
	require.NoError(t, db.Find(&sessions).Error)
	require.Len(t, sessions, 1)
	assert.Equal(t, "tok-1", sessions[0].Token)

	j, err := m.Service().Journal(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	assert.Contains(t, j.Narrative, "Agent MARTIN s'est connecté à 09:30.")
	assert.Contains(t, j.Narrative, "consultation")
}

func TestIdentify_EndedSessionToken(t *testing.T) {
	m, db := newCapture(t)
	u := testutil.CreateUser(t, db, "jmartin", "Martin", model.RoleEnqueteur)

	r := gin.New()
	r.Use(m.Middleware(), authAs(u.ID, "tok-1"), m.Identify())
	r.GET("/api/cases", func(c *gin.Context) { c.Status(http.StatusOK) })

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/cases", "", "").Code)
	_, err := m.Service().CloseSession(context.Background(), "tok-1", audit.EndExpired)
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/api/cases", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var sessions int64
	require.NoError(t, db.Model(&model.Session{}).Count(&sessions).Error)
	assert.Equal(t, int64(1), sessions)
}

func TestRequireRole(t *testing.T) {
	m, db := newCapture(t)
	u := testutil.CreateUser(t, db, "obs", "Petit", model.RoleObservateur)

	r := gin.New()
	r.Use(m.Middleware(), authAs(u.ID, "tok-o"), m.Identify())
	r.DELETE("/api/audit/clear-all", m.RequirePrivileged(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodDelete, "/api/audit/clear-all", "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	got := entries(t, db)
	require.Len(t, got, 1)
	assert.Equal(t, model.ActionAccessDenied, got[0].Action)
	assert.Equal(t, "rôle insuffisant : observateur", got[0].ErrorMessage)
}
