package model_test

import (
	"testing"
	"time"

	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	u := testutil.CreateUser(t, db, "jdupont", "Dupont", model.RoleEnqueteur)
	assert.Greater(t, u.ID, int64(0))

	s := &model.Suspect{Nom: "Martin", Prenom: "Luc"}
	require.NoError(t, db.Create(s).Error)

	c := &model.Case{
		Numero: "D-2026-001", Titre: "Vol à main armée",
		Statut: model.CaseStatusOpen, LeadInvestigatorID: &u.ID,
		Suspects: []model.Suspect{*s},
	}
	require.NoError(t, db.Create(c).Error)

	var found model.Case
	require.NoError(t, db.Preload("Suspects").First(&found, c.ID).Error)
	assert.Equal(t, "Vol à main armée", found.Titre)
	require.Len(t, found.Suspects, 1)

	sess := &model.Session{ActorID: &u.ID, Token: "tok-1", StartedAt: time.Now(), LastActivityAt: time.Now()}
	require.NoError(t, db.Create(sess).Error)
	require.NoError(t, db.Create(&model.Journal{SessionID: sess.ID, StartedAt: time.Now()}).Error)

	e := &model.EventLog{Action: model.ActionView, Success: true}
	require.NoError(t, db.Create(e).Error)
}

func TestEventLogSuccessFalsePersists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := &model.EventLog{Action: model.ActionFailedLogin, Success: false}
	require.NoError(t, db.Create(e).Error)

	var got model.EventLog
	require.NoError(t, db.First(&got, e.ID).Error)
	assert.False(t, got.Success)
}

func TestGuards_FrozenColumnsRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := &model.EventLog{Action: model.ActionView, Endpoint: "/api/cases", Success: true}
	require.NoError(t, db.Create(e).Error)

	err := db.Model(&model.EventLog{}).Where("id = ?", e.ID).Update("action", model.ActionDelete).Error
	assert.Error(t, err)

	// Technical columns stay writable.
	require.NoError(t, db.Model(&model.EventLog{}).Where("id = ?", e.ID).
		Update("frontend_route", "/dossiers").Error)

	var got model.EventLog
	require.NoError(t, db.First(&got, e.ID).Error)
	assert.Equal(t, model.ActionView, got.Action)
	assert.Equal(t, "/dossiers", got.FrontendRoute)
}

func TestGuards_SnapshotWrittenOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := &model.EventLog{Action: model.ActionCreate, Success: true}
	require.NoError(t, db.Create(e).Error)

	first := datatypes.JSON(`{"statut":"ouvert"}`)
	require.NoError(t, db.Model(&model.EventLog{}).Where("id = ?", e.ID).Update("after_state", first).Error)

	err := db.Model(&model.EventLog{}).Where("id = ?", e.ID).
		Update("after_state", datatypes.JSON(`{"statut":"ferme"}`)).Error
	assert.Error(t, err)
}

func TestGuards_DeleteNeedsGrant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	require.NoError(t, db.Create(&model.EventLog{Action: model.ActionView, Success: true}).Error)

	assert.Error(t, db.Where("1 = 1").Delete(&model.EventLog{}).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		return model.WithPurgeGrant(tx, func(tx *gorm.DB) error {
			return tx.Where("1 = 1").Delete(&model.EventLog{}).Error
		})
	})
	require.NoError(t, err)

	var n int64
	db.Model(&model.EventLog{}).Count(&n)
	assert.Zero(t, n)
}

func TestGuards_ClosedJournal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	j := &model.Journal{SessionID: 1, StartedAt: time.Now(), Narrative: "Début."}
	require.NoError(t, db.Create(j).Error)
	require.NoError(t, db.Model(j).Updates(map[string]interface{}{"closed": true, "narrative": "Début. Fin."}).Error)

	assert.Error(t, db.Model(&model.Journal{}).Where("id = ?", j.ID).Update("narrative", "réécrit").Error)

	var got model.Journal
	require.NoError(t, db.First(&got, j.ID).Error)
	assert.Equal(t, "Début. Fin.", got.Narrative)
}

func TestEventLogResourceKey(t *testing.T) {
	id := int64(7)
	typed := model.EventLog{ResourceType: "case", ResourceID: &id, ObjectType: "legacy", ObjectID: "9"}
	typ, rid := typed.ResourceKey()
	assert.Equal(t, "case", typ)
	assert.Equal(t, "7", rid)

	legacy := model.EventLog{ObjectType: "dossier", ObjectID: "9"}
	typ, rid = legacy.ResourceKey()
	assert.Equal(t, "dossier", typ)
	assert.Equal(t, "9", rid)
}
