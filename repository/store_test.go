package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/capture"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recorded struct {
	before bool
	mu     capture.Mutation
	err    error
}

// recorder keeps every notification it receives.
type recorder struct{ calls []recorded }

func (r *recorder) BeforeWrite(_ context.Context, m *capture.Mutation) {
	r.calls = append(r.calls, recorded{before: true, mu: *m})
}

func (r *recorder) AfterWrite(_ context.Context, m *capture.Mutation, err error) {
	r.calls = append(r.calls, recorded{mu: *m, err: err})
}

func (r *recorder) last(t *testing.T) recorded {
	t.Helper()
	require.NotEmpty(t, r.calls)
	return r.calls[len(r.calls)-1]
}

func newStore(t *testing.T) (*Store, *recorder, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	rec := &recorder{}
	return New(db, rec, zap.NewNop()), rec, db
}

func seedSuspects(t *testing.T, s *Store) (*model.Suspect, *model.Suspect) {
	t.Helper()
	ctx := context.Background()
	a := &model.Suspect{Nom: "Dupont", Prenom: "Jean"}
	b := &model.Suspect{Nom: "Durand", Prenom: "Marie"}
	require.NoError(t, s.Suspects.Create(ctx, a))
	require.NoError(t, s.Suspects.Create(ctx, b))
	return a, b
}

func TestCaseCreate_SnapshotsAssociations(t *testing.T) {
	s, rec, _ := newStore(t)
	a, b := seedSuspects(t, s)
	rec.calls = nil

	c := &model.Case{Numero: "2026-0042", Titre: "Vol à main armée"}
	require.NoError(t, s.Cases.Create(context.Background(), c, a.ID, b.ID, a.ID))

	require.Len(t, rec.calls, 2)
	assert.True(t, rec.calls[0].before)
	after := rec.last(t)
	assert.NoError(t, after.err)
	assert.Equal(t, model.ActionCreate, after.mu.Action)
	assert.Equal(t, audit.ResourceCase, after.mu.ResourceType)
	assert.Equal(t, c.ID, after.mu.ResourceID)
	assert.Nil(t, after.mu.Before)
	assert.Equal(t, "ouvert", after.mu.After["statut"])
	assert.Equal(t, []interface{}{float64(a.ID), float64(b.ID)}, after.mu.After["suspects"])
	assert.Len(t, c.Suspects, 2)
}

func TestCaseCreate_UnknownSuspect(t *testing.T) {
	s, rec, _ := newStore(t)
	err := s.Cases.Create(context.Background(), &model.Case{Numero: "X", Titre: "x"}, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, rec.calls)
}

func TestCaseCreate_Conflict(t *testing.T) {
	s, rec, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Cases.Create(ctx, &model.Case{Numero: "2026-0001", Titre: "a"}))

	err := s.Cases.Create(ctx, &model.Case{Numero: "2026-0001", Titre: "b"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Error(t, rec.last(t).err)
}

func TestCaseUpdate_BeforeAndAfter(t *testing.T) {
	s, rec, _ := newStore(t)
	ctx := context.Background()
	c := &model.Case{Numero: "2026-0042", Titre: "Vol"}
	require.NoError(t, s.Cases.Create(ctx, c))

	ferme := model.CaseStatusClosed
	got, err := s.Cases.Update(ctx, c.ID, CasePatch{Statut: &ferme})
	require.NoError(t, err)
	assert.Equal(t, ferme, got.Statut)

	mu := rec.last(t).mu
	assert.Equal(t, model.ActionUpdate, mu.Action)
	assert.Equal(t, []string{"statut"}, snapshot.ChangedFields(mu.Before, mu.After))
	assert.Equal(t, "ouvert", mu.Before["statut"])
	assert.Equal(t, "ferme", mu.After["statut"])
}

func TestCaseUpdate_ReplaceSuspects(t *testing.T) {
	s, rec, _ := newStore(t)
	ctx := context.Background()
	a, b := seedSuspects(t, s)
	c := &model.Case{Numero: "2026-0042", Titre: "Vol"}
	require.NoError(t, s.Cases.Create(ctx, c, a.ID))

	_, err := s.Cases.Update(ctx, c.ID, CasePatch{SuspectIDs: []int64{b.ID}})
	require.NoError(t, err)

	mu := rec.last(t).mu
	assert.Equal(t, []string{"suspects"}, snapshot.ChangedFields(mu.Before, mu.After))
	assert.Equal(t, []interface{}{float64(b.ID)}, mu.After["suspects"])
}

func TestCaseUpdate_NotFoundIsNotReported(t *testing.T) {
	s, rec, _ := newStore(t)
	titre := "x"
	_, err := s.Cases.Update(context.Background(), 404, CasePatch{Titre: &titre})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, rec.calls)
}

func TestCaseDelete(t *testing.T) {
	s, rec, db := newStore(t)
	ctx := context.Background()
	a, _ := seedSuspects(t, s)
	c := &model.Case{Numero: "2026-0042", Titre: "Vol"}
	require.NoError(t, s.Cases.Create(ctx, c, a.ID))
	require.NoError(t, s.Pieces.Create(ctx, &model.Piece{CaseID: c.ID, FileName: "pv.pdf"}))

	gone, err := s.Cases.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, gone.Pieces, 1)

	mu := rec.last(t).mu
	assert.Equal(t, model.ActionDelete, mu.Action)
	assert.Equal(t, "2026-0042", mu.Before["numero"])
	assert.Nil(t, mu.After)

	var n int64
	db.Model(&model.Piece{}).Count(&n)
	assert.Zero(t, n)
	db.Table("case_suspects").Count(&n)
	assert.Zero(t, n)
	_, err = s.Cases.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPieceCreate_UnknownCase(t *testing.T) {
	s, _, _ := newStore(t)
	err := s.Pieces.Create(context.Background(), &model.Piece{CaseID: 7, FileName: "a.pdf"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPieceSnapshot_HidesStoragePath(t *testing.T) {
	s, rec, _ := newStore(t)
	ctx := context.Background()
	c := &model.Case{Numero: "1", Titre: "a"}
	require.NoError(t, s.Cases.Create(ctx, c))
	require.NoError(t, s.Pieces.Create(ctx, &model.Piece{CaseID: c.ID, FileName: "a.pdf", StoragePath: "/srv/pieces/ab"}))

	mu := rec.last(t).mu
	assert.Equal(t, model.ActionUpload, mu.Action)
	after := mu.After
	assert.Equal(t, "a.pdf", after["file_name"])
	assert.NotContains(t, after, "storage_path")
}

func TestUserRoleChange(t *testing.T) {
	s, rec, _ := newStore(t)
	ctx := context.Background()
	u := &model.User{Username: "pdurand", PasswordHash: "x", PINHash: "y", LastName: "Durand"}
	require.NoError(t, s.Users.Create(ctx, u))
	assert.Equal(t, model.RoleObservateur, u.Role)
	assert.NotContains(t, rec.last(t).mu.After, "pin_hash")

	_, err := s.Users.ChangeRole(ctx, u.ID, "chef")
	assert.ErrorIs(t, err, ErrInvalidRole)

	got, err := s.Users.ChangeRole(ctx, u.ID, model.RoleAnalyste)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAnalyste, got.Role)
	mu := rec.last(t).mu
	assert.Equal(t, model.ActionRoleChange, mu.Action)
	assert.Equal(t, "observateur", mu.Before["role"])
	assert.Equal(t, "analyste", mu.After["role"])
}

func TestUserSuspendRestoreAndPermissions(t *testing.T) {
	s, rec, _ := newStore(t)
	ctx := context.Background()
	u := &model.User{Username: "pdurand", PasswordHash: "x", LastName: "Durand"}
	require.NoError(t, s.Users.Create(ctx, u))

	got, err := s.Users.Suspend(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Suspended())
	assert.Equal(t, model.ActionSuspend, rec.last(t).mu.Action)

	got, err = s.Users.Restore(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.Suspended())
	assert.Equal(t, model.ActionRestore, rec.last(t).mu.Action)

	got, err = s.Users.SetPermissions(ctx, u.ID, []string{"cases:read", "cases:write"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cases:read", "cases:write"}, []string(got.Permissions))
	mu := rec.last(t).mu
	assert.Equal(t, model.ActionPermissionChange, mu.Action)
	assert.Equal(t, []string{"permissions"}, snapshot.ChangedFields(mu.Before, mu.After))
}

func TestTouchLoginIsNotReported(t *testing.T) {
	s, rec, _ := newStore(t)
	ctx := context.Background()
	u := &model.User{Username: "pdurand", PasswordHash: "x"}
	require.NoError(t, s.Users.Create(ctx, u))
	n := len(rec.calls)

	require.NoError(t, s.Users.TouchLogin(ctx, u.ID, "10.0.0.1", u.CreatedAt))
	assert.Len(t, rec.calls, n)
}

func TestLabels(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	a, _ := seedSuspects(t, s)
	c := &model.Case{Numero: "2026-0042", Titre: "Vol"}
	require.NoError(t, s.Cases.Create(ctx, c))
	p := &model.Piece{CaseID: c.ID, FileName: "pv.pdf"}
	require.NoError(t, s.Pieces.Create(ctx, p))
	u := &model.User{Username: "pdurand", PasswordHash: "x", FirstName: "Paul", LastName: "Durand"}
	require.NoError(t, s.Users.Create(ctx, u))

	reg := audit.NewRegistry()
	s.RegisterLabels(reg)
	assert.Equal(t, "le dossier 2026-0042 « Vol »", reg.Label(ctx, audit.ResourceCase, "1"))
	assert.Equal(t, "le suspect Jean DUPONT", reg.Label(ctx, audit.ResourceSuspect, itoa(a.ID)))
	assert.Equal(t, "la pièce « pv.pdf »", reg.Label(ctx, audit.ResourcePiece, itoa(p.ID)))
	assert.Equal(t, "l'agent Paul DURAND", reg.Label(ctx, audit.ResourceUser, itoa(u.ID)))
	assert.Equal(t, "", reg.Label(ctx, audit.ResourceCase, "99"))
}

// With the real capture observer, one update yields one entry whose
// description names the changed field.
func TestUpdateThroughCapture(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := audit.New(db, nil, testConfig(), zap.NewNop())
	obs := capture.New(svc, nil, zap.NewNop())
	s := New(db, obs, zap.NewNop())
	s.RegisterLabels(svc.Resources())

	rc := &audit.RequestContext{Actor: &audit.Actor{ID: 1, Name: "Agent MARTIN", Role: model.RoleEnqueteur}, Endpoint: "/api/cases/1", Method: "PATCH"}
	ctx := audit.WithRequest(context.Background(), rc)

	c := &model.Case{Numero: "2026-0042", Titre: "Vol"}
	require.NoError(t, s.Cases.Create(ctx, c))
	ferme := model.CaseStatusClosed
	_, err := s.Cases.Update(ctx, c.ID, CasePatch{Statut: &ferme})
	require.NoError(t, err)

	var got []model.EventLog
	require.NoError(t, db.Order("id").Find(&got).Error)
	require.Len(t, got, 2)
	upd := got[1]
	assert.Equal(t, model.ActionUpdate, upd.Action)
	assert.JSONEq(t, `["statut"]`, string(upd.ChangedFields))
	assert.Contains(t, upd.Description, "le dossier 2026-0042 « Vol »")
	assert.Contains(t, upd.Description, "statut")
	assert.Equal(t, 2, rc.Recorded())
}

func TestNilObserver(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := New(db, nil, zap.NewNop())
	require.NoError(t, s.Suspects.Create(context.Background(), &model.Suspect{Nom: "X"}))
	_, err := s.Suspects.Delete(context.Background(), 1)
	require.NoError(t, err)
	_, err = s.Suspects.Delete(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}
