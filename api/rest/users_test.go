package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/sgic-platform/sgic-audit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers_RequiresPrivilegedRole(t *testing.T) {
	e := newEnv(t)
	e.user("jmartin", "Martin", model.RoleEnqueteur)
	token := e.login("jmartin")

	w := e.do(http.MethodGet, "/api/users", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	denied := e.entries(model.ActionAccessDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, "rôle insuffisant : enqueteur", denied[0].ErrorMessage)
	assert.Equal(t, "/api/users", denied[0].Endpoint)
	assert.Empty(t, e.entries(model.ActionError403), "refusal is logged once")
}

func TestUsers_CreateHashesSecrets(t *testing.T) {
	e := newEnv(t)
	e.user("chef", "Bernard", model.RoleAdministrateur)
	token := e.login("chef")

	w := e.do(http.MethodPost, "/api/users", token, map[string]string{
		"username": "slefevre", "password": "s3cret-pass", "pin": "4321",
		"first_name": "Sophie", "last_name": "Lefèvre", "role": model.RoleAnalyste,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "s3cret-pass")

	var u model.User
	require.NoError(t, e.db.Where("username = ?", "slefevre").First(&u).Error)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)
	assert.NotEmpty(t, u.PINHash)
	assert.Equal(t, model.UserStatusActive, u.Status)

	creates := e.entries(model.ActionCreate)
	require.Len(t, creates, 1)
	assert.NotContains(t, string(creates[0].AfterState), "s3cret-pass")
	assert.Contains(t, creates[0].Description, "l'agent Sophie LEFÈVRE")
}

func TestUsers_RoleAndPermissions(t *testing.T) {
	e := newEnv(t)
	e.user("chef", "Bernard", model.RoleAdministrateur)
	agent := e.user("jmartin", "Martin", model.RoleObservateur)
	token := e.login("chef")

	w := e.do(http.MethodPut, fmt.Sprintf("/api/users/%d/role", agent.ID), token, map[string]string{"role": model.RoleEnqueteur})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	roles := e.entries(model.ActionRoleChange)
	require.Len(t, roles, 1)
	assert.Equal(t, model.RoleObservateur, snapshotOf(t, roles[0].BeforeState)["role"])
	assert.Equal(t, model.RoleEnqueteur, snapshotOf(t, roles[0].AfterState)["role"])

	w = e.do(http.MethodPut, fmt.Sprintf("/api/users/%d/role", agent.ID), token, map[string]string{"role": "roi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPut, fmt.Sprintf("/api/users/%d/permissions", agent.ID), token,
		map[string][]string{"permissions": {"cases.read", "pieces.download"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, e.entries(model.ActionPermissionChange), 1)
}

func TestUsers_SuspendAndRestore(t *testing.T) {
	e := newEnv(t)
	chef := e.user("chef", "Bernard", model.RoleAdministrateur)
	agent := e.user("jmartin", "Martin", model.RoleEnqueteur)
	adminToken := e.login("chef")
	agentToken := e.login("jmartin")

	w := e.do(http.MethodPost, fmt.Sprintf("/api/users/%d/suspend", chef.ID), adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	self := e.entries(model.ActionSuspend)
	require.Len(t, self, 1)
	assert.False(t, self[0].Success)

	w = e.do(http.MethodPost, fmt.Sprintf("/api/users/%d/suspend", agent.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	suspends := e.entries(model.ActionSuspend)
	require.Len(t, suspends, 2)
	assert.True(t, suspends[1].Success)

	// an open token stops working once the account is suspended
	w = e.do(http.MethodGet, "/api/cases", agentToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodPost, fmt.Sprintf("/api/users/%d/restore", agent.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, e.entries(model.ActionRestore), 1)

	w = e.do(http.MethodGet, "/api/cases", agentToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
