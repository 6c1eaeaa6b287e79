package rest_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/sgic-platform/sgic-audit/api"
	"github.com/sgic-platform/sgic-audit/config"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminKey = "ops-key"

type env struct {
	t   *testing.T
	app *api.App
	db  *gorm.DB
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	cfg := &config.Config{
		Server: config.ServerConfig{AdminKey: adminKey, UploadDir: t.TempDir()},
		Security: config.SecurityConfig{
			JWTSecret: "test-secret",
			JWTTTLH:   time.Hour,
		},
		Audit: config.DefaultAudit(),
	}
	cfg.Audit.ReaperInterval = time.Hour
	app := api.New(api.Deps{Config: cfg, DB: db, Cache: c, PubSub: ps, Logger: zap.NewNop()})
	t.Cleanup(app.Stop)
	return &env{t: t, app: app, db: db}
}

func (e *env) user(username, lastName, role string) *model.User {
	return testutil.CreateUser(e.t, e.db, username, lastName, role)
}

// login signs in with the fixture password and returns the bearer token.
func (e *env) login(username string) string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username, "password": "password",
	})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func (e *env) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	return e.send(req, token)
}

func (e *env) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Real-IP", "10.20.0.7")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	w := httptest.NewRecorder()
	e.app.Engine.ServeHTTP(w, req)
	return w
}

// entries returns the stored entries of one kind, oldest first.
func (e *env) entries(action model.ActionKind) []model.EventLog {
	e.t.Helper()
	var out []model.EventLog
	require.NoError(e.t, e.db.Where("action = ?", action).Order("id").Find(&out).Error)
	return out
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func snapshotOf(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}
