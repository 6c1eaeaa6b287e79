// Package integration runs end-to-end scenarios against a real HTTP server
// with every subsystem wired as in the serve command.
package integration

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
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

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Clock is a settable time source shared by the server goroutines.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// TestServer wraps a real HTTP server over a fully wired App.
type TestServer struct {
	App    *api.App
	DB     *gorm.DB
	Clock  *Clock
	Server *httptest.Server
	URL    string
}

// NewTestServer starts a server on an in-memory database and local cache.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	clk := &Clock{t: time.Now().Truncate(time.Second)}

	cfg := &config.Config{
		Server: config.ServerConfig{AdminKey: "integration-key", UploadDir: t.TempDir()},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        72 * time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
		},
		Audit: config.DefaultAudit(),
	}
	cfg.Audit.ReaperInterval = 0

	app := api.New(api.Deps{
		Config: cfg,
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Logger: zap.NewNop(),
		Clock:  clk.Now,
	})
	server := httptest.NewServer(app.Engine)
	ts := &TestServer{App: app, DB: db, Clock: clk, Server: server, URL: server.URL}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the server and the background tasks.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.App.Stop()
}

// CreateUser inserts an agent whose password is "password".
func (ts *TestServer) CreateUser(t *testing.T, username, lastName, role string) *model.User {
	return testutil.CreateUser(t, ts.DB, username, lastName, role)
}

// Entries returns the stored entries of one kind, oldest first.
func (ts *TestServer) Entries(t *testing.T, action model.ActionKind) []model.EventLog {
	t.Helper()
	var out []model.EventLog
	require.NoError(t, ts.DB.Where("action = ?", action).Order("id").Find(&out).Error)
	return out
}

// --- Client ---

// Client is one browser: a token, an address and a user agent.
type Client struct {
	ts        *TestServer
	Token     string
	SessionID int64
	UserID    int64
	IP        string
	UA        string
}

// Client returns an anonymous browser calling from ip.
func (ts *TestServer) Client(ip string) *Client {
	return &Client{ts: ts, IP: ip, UA: chromeUA}
}

// Login signs in with the fixture password and keeps the token.
func (c *Client) Login(t *testing.T, username string) {
	t.Helper()
	resp := c.Do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username, "password": "password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token     string `json:"token"`
		UserID    int64  `json:"user_id"`
		SessionID int64  `json:"session_id"`
	}
	ReadJSON(t, resp, &result)
	require.NotEmpty(t, result.Token)
	c.Token, c.UserID, c.SessionID = result.Token, result.UserID, result.SessionID
}

// Logout ends the session and forgets the token.
func (c *Client) Logout(t *testing.T) {
	t.Helper()
	resp := c.Do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	c.Token = ""
}

// Do sends a request with an optional JSON body.
func (c *Client) Do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("X-Real-IP", c.IP)
	req.Header.Set("User-Agent", c.UA)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// JSON sends a request, checks the status and decodes the reply into out.
func (c *Client) JSON(t *testing.T, method, path string, body interface{}, status int, out interface{}) {
	t.Helper()
	resp := c.Do(t, method, path, body)
	if out == nil {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		require.Equal(t, status, resp.StatusCode, string(data))
		return
	}
	ReadJSONStatus(t, resp, status, out)
}

// CreateCase opens a case and returns its id.
func (c *Client) CreateCase(t *testing.T, numero, titre string) int64 {
	t.Helper()
	var cs model.Case
	c.JSON(t, http.MethodPost, "/api/cases", map[string]interface{}{
		"numero": numero, "titre": titre, "statut": "ouvert",
	}, http.StatusCreated, &cs)
	require.NotZero(t, cs.ID)
	return cs.ID
}

// ViewCase fetches a case.
func (c *Client) ViewCase(t *testing.T, id int64) {
	t.Helper()
	c.JSON(t, http.MethodGet, fmt.Sprintf("/api/cases/%d", id), nil, http.StatusOK, nil)
}

// ReadJSON decodes a JSON response body into target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// ReadJSONStatus is ReadJSON after a status check.
func ReadJSONStatus(t *testing.T, resp *http.Response, status int, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, status, resp.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}
