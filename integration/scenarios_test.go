package integration

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginViewLogout_Journal(t *testing.T) {
	ts := NewTestServer(t)
	ts.CreateUser(t, "cmartin", "Martin", model.RoleEnqueteur)

	browser := ts.Client("10.1.0.10")
	browser.Login(t, "cmartin")
	first := browser.SessionID
	require.NotZero(t, first)

	ts.Clock.Advance(2 * time.Minute)
	id := browser.CreateCase(t, "2026-0101", "Vol à l'étalage")
	ts.Clock.Advance(time.Minute)
	browser.ViewCase(t, id)
	ts.Clock.Advance(time.Minute)
	browser.Logout(t)

	// the revoked token no longer opens anything
	browser.Token = "stale"
	resp := browser.Do(t, http.MethodGet, "/api/cases", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	browser.Token = ""
	browser.Login(t, "cmartin")
	assert.NotEqual(t, first, browser.SessionID)

	var j model.Journal
	browser.JSON(t, http.MethodGet, fmt.Sprintf("/api/audit/journals/%d", first), nil, http.StatusOK, &j)
	assert.True(t, j.Closed)
	require.NotNil(t, j.EndedAt)
	assert.Contains(t, j.Narrative, "s'est connecté")
	assert.Contains(t, j.Narrative, "2026-0101")
	assert.Contains(t, j.Narrative, "s'est déconnecté")
	assert.Less(t, strings.Index(j.Narrative, "s'est connecté"), strings.Index(j.Narrative, "s'est déconnecté"))

	for _, kind := range []model.ActionKind{model.ActionLogin, model.ActionCreate, model.ActionView, model.ActionLogout} {
		got := ts.Entries(t, kind)
		require.NotEmpty(t, got, kind)
		require.NotNil(t, got[0].SessionID, kind)
		assert.Equal(t, first, *got[0].SessionID, kind)
	}
}

func TestRepeatedViews_MergedInReport(t *testing.T) {
	ts := NewTestServer(t)
	ts.CreateUser(t, "cmartin", "Martin", model.RoleEnqueteur)
	browser := ts.Client("10.1.0.10")
	browser.Login(t, "cmartin")
	id := browser.CreateCase(t, "2026-0102", "Escroquerie")

	for i := 0; i < 3; i++ {
		browser.ViewCase(t, id)
		ts.Clock.Advance(time.Second)
	}

	views := ts.Entries(t, model.ActionView)
	require.Len(t, views, 3, "the trail keeps every raw entry")
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = fmt.Sprint(v.ID)
	}

	var out struct {
		Entries int    `json:"entries"`
		Report  string `json:"report"`
	}
	browser.JSON(t, http.MethodGet, "/api/audit/narrative-reports?format=json&ids="+strings.Join(ids, ","), nil, http.StatusOK, &out)
	assert.Equal(t, 1, out.Entries)
	assert.Contains(t, out.Report, "CONSULTATIONS")
}

func TestDoubleSubmit_OneUpdateWithDiff(t *testing.T) {
	ts := NewTestServer(t)
	ts.CreateUser(t, "cmartin", "Martin", model.RoleEnqueteur)
	browser := ts.Client("10.1.0.10")
	browser.Login(t, "cmartin")
	id := browser.CreateCase(t, "2026-0103", "Recel")
	ts.Clock.Advance(time.Minute)

	path := fmt.Sprintf("/api/cases/%d", id)
	body := map[string]string{"statut": "ferme"}
	browser.JSON(t, http.MethodPatch, path, body, http.StatusOK, nil)
	browser.JSON(t, http.MethodPatch, path, body, http.StatusOK, nil)

	updates := ts.Entries(t, model.ActionUpdate)
	require.Len(t, updates, 1)
	var fields []string
	require.NoError(t, json.Unmarshal(updates[0].ChangedFields, &fields))
	assert.Equal(t, []string{"statut"}, fields)

	resp := browser.Do(t, http.MethodGet, fmt.Sprintf("/api/audit/%d/narrative-report", updates[0].ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(text), "ouvert")
	assert.Contains(t, string(text), "ferme")

	// outside the window the same request is a new entry
	ts.Clock.Advance(5 * time.Second)
	browser.JSON(t, http.MethodPatch, path, map[string]string{"statut": "ouvert"}, http.StatusOK, nil)
	assert.Len(t, ts.Entries(t, model.ActionUpdate), 2)
}

func TestSessionPartitioning(t *testing.T) {
	ts := NewTestServer(t)
	admin := ts.CreateUser(t, "chef", "Bernard", model.RoleAdministrateur)
	ts.CreateUser(t, "cmartin", "Martin", model.RoleEnqueteur)

	office := ts.Client("10.1.0.10")
	office.Login(t, "chef")
	id := office.CreateCase(t, "2026-0104", "Fraude")
	ts.Clock.Advance(time.Minute)
	office.ViewCase(t, id)

	// same token from another address: a new synthetic session
	ts.Clock.Advance(time.Minute)
	roaming := ts.Client("192.168.4.2")
	roaming.Token = office.Token
	roaming.ViewCase(t, id)

	// a long pause: another one
	ts.Clock.Advance(2 * time.Hour)
	roaming.ViewCase(t, id)

	other := ts.Client("10.1.0.11")
	other.Login(t, "cmartin")
	other.ViewCase(t, id)

	var out struct {
		Sessions []struct {
			ID         string `json:"id"`
			ActorID    *int64 `json:"actor_id"`
			IPAddress  string `json:"ip_address"`
			EntryCount int    `json:"entry_count"`
		} `json:"sessions"`
		Total int `json:"total"`
	}
	office.JSON(t, http.MethodGet, fmt.Sprintf("/api/audit/sessions?actor_id=%d", admin.ID), nil, http.StatusOK, &out)
	require.Equal(t, 3, out.Total)
	// newest first
	assert.Equal(t, "192.168.4.2", out.Sessions[0].IPAddress)
	assert.Equal(t, 1, out.Sessions[0].EntryCount)
	assert.Equal(t, "192.168.4.2", out.Sessions[1].IPAddress)
	assert.Equal(t, 1, out.Sessions[1].EntryCount)
	assert.Equal(t, "10.1.0.10", out.Sessions[2].IPAddress)
	assert.Equal(t, 3, out.Sessions[2].EntryCount, "login, create, view")
	for _, s := range out.Sessions {
		require.NotNil(t, s.ActorID)
		assert.Equal(t, admin.ID, *s.ActorID)
		assert.True(t, strings.HasPrefix(s.ID, fmt.Sprintf("session_%d_", admin.ID)))
	}

	// the agent only ever sees their own
	var own struct {
		Total int `json:"total"`
	}
	other.JSON(t, http.MethodGet, fmt.Sprintf("/api/audit/sessions?actor_id=%d", admin.ID), nil, http.StatusOK, &own)
	assert.Equal(t, 1, own.Total)

	var report struct {
		Entries int    `json:"entries"`
		Report  string `json:"report"`
	}
	office.JSON(t, http.MethodGet, "/api/audit/narrative-reports?format=json&session_id="+out.Sessions[2].ID, nil, http.StatusOK, &report)
	assert.Equal(t, 3, report.Entries)
	assert.Contains(t, report.Report, "CONNEXION")
	assert.Contains(t, report.Report, "CRÉATIONS")
}
