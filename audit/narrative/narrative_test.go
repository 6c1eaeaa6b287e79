package narrative

import (
	"strings"
	"testing"
	"time"

	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 10, 14, 10, 32, 5, 0, time.UTC)

func ptr(v int64) *int64 { return &v }

func mustJSON(t *testing.T, s snapshot.Snapshot) []byte {
	t.Helper()
	j, err := snapshot.Encode(s)
	require.NoError(t, err)
	return j
}

func updateEntry(t *testing.T) *model.EventLog {
	return &model.EventLog{
		ActorID:       ptr(7),
		ActorName:     "Agent MARTIN",
		ActorRole:     "enqueteur",
		Action:        model.ActionUpdate,
		ResourceType:  "case",
		ResourceID:    ptr(3),
		Endpoint:      "/api/cases/3",
		Method:        "PUT",
		IPAddress:     "10.0.0.5",
		Browser:       "Firefox 118",
		OS:            "Windows",
		BeforeState:   mustJSON(t, snapshot.Snapshot{"statut": "ouvert", "titre": "Vol"}),
		AfterState:    mustJSON(t, snapshot.Snapshot{"statut": "ferme", "titre": "Vol"}),
		Success:       true,
		Reference:     "SGIC-AUD/2026/10/14/ENQ-MARTIN/000042",
		CreatedAt:     at,
		ChangedFields: []byte(`["statut"]`),
	}
}

func TestInferMotive(t *testing.T) {
	assert.Equal(t, "Changement de statut de « ouvert » à « ferme »", InferMotive("statut", "ouvert", "ferme"))
	assert.Equal(t, "Mise à jour de l'adresse électronique", InferMotive("email", "a", "b"))
	assert.Equal(t, "Mise à jour de l'adresse électronique", InferMotive("courriel_pro", "a", "b"))
	assert.Equal(t, "Mise à jour du numéro de téléphone", InferMotive("telephone", "1", "2"))
	assert.Equal(t, "Mise à jour de l'adresse postale", InferMotive("adresse", "x", "y"))
	assert.Equal(t, "Correction de l'identité", InferMotive("nom", "x", "y"))
	assert.Equal(t, "Changement de rôle de « analyste » à « enqueteur »", InferMotive("role", "analyste", "enqueteur"))
	assert.Equal(t, "Mise à jour des informations descriptives", InferMotive("notes", "", "n"))
	assert.Equal(t, "Correction de date", InferMotive("date_naissance", nil, "2000-01-01"))
	assert.Equal(t, DefaultMotive, InferMotive("priorite", "1", "2"))

	m := InferMotive("password_hash", "old-secret", "new-secret")
	assert.Equal(t, "Mise à jour du mot de passe", m)
	assert.NotContains(t, m, "secret")
}

func TestRenderEntry_UpdateTable(t *testing.T) {
	e := updateEntry(t)
	out := RenderEntry(e, Workstation{Name: "POSTE-12", Hostname: "pc12.sgic.local"})

	assert.Contains(t, out, "1. INFORMATIONS GÉNÉRALES")
	assert.Contains(t, out, "2. RÉSUMÉ NARRATIF")
	assert.Contains(t, out, "3. TABLEAU DES MODIFICATIONS")
	assert.Contains(t, out, "4. CONCLUSION")
	assert.Contains(t, out, "SGIC-AUD/2026/10/14/ENQ-MARTIN/000042")
	assert.Contains(t, out, "POSTE-12 (pc12.sgic.local)")

	table := out[strings.Index(out, "TABLEAU DES MODIFICATIONS"):strings.Index(out, "4. CONCLUSION")]
	rows := 0
	for _, line := range strings.Split(table, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "statut") {
			rows++
			assert.Contains(t, line, "ouvert")
			assert.Contains(t, line, "ferme")
			assert.Contains(t, line, "Changement de statut de « ouvert » à « ferme »")
		}
	}
	assert.Equal(t, 1, rows)
	assert.NotContains(t, table, "titre")
}

func TestRenderEntry_NoTableForView(t *testing.T) {
	e := &model.EventLog{Action: model.ActionView, ActorName: "Agent X", ResourceType: "case", ResourceID: ptr(1), Success: true, CreatedAt: at}
	out := Renderer{Label: func(typ, id string) string { return "dossier D-" + id }}.RenderEntry(e, Workstation{})
	assert.NotContains(t, out, "TABLEAU DES MODIFICATIONS")
	assert.Contains(t, out, "3. CONCLUSION")
	assert.Contains(t, out, "dossier D-1")
	assert.Contains(t, out, "(sans référence)")
}

func TestRenderEntry_HidesPasswordValues(t *testing.T) {
	e := updateEntry(t)
	e.BeforeState = mustJSON(t, snapshot.Snapshot{"password_hash": "********"})
	e.AfterState = mustJSON(t, snapshot.Snapshot{"password_hash": "********"})
	e.ChangedFields = []byte(`["password_hash"]`)

	out := RenderEntry(e, Workstation{})
	assert.Contains(t, out, "Mise à jour du mot de passe")
	assert.Contains(t, out, hiddenText)
}

func TestDescribe(t *testing.T) {
	e := updateEntry(t)
	long, short := Describe(e, "dossier D-3")

	assert.Equal(t, "Le 14/10/2026 à 10:32:05, Agent MARTIN (enqueteur) a modifié dossier D-3 via PUT /api/cases/3 depuis l'adresse 10.0.0.5 (Firefox 118 sur Windows). Champs modifiés : statut. Opération réussie.", long)
	assert.Equal(t, "Modification : dossier D-3", short)
}

func TestDescribe_LoginAndFailure(t *testing.T) {
	e := &model.EventLog{Action: model.ActionFailedLogin, Endpoint: "/api/auth/login", Method: "POST", CreatedAt: at, ErrorMessage: "identifiants invalides"}
	long, short := Describe(e, "")
	assert.Contains(t, long, "Utilisateur anonyme a échoué à se connecter via POST /api/auth/login")
	assert.Contains(t, long, "Échec de l'opération : identifiants invalides.")
	assert.Equal(t, "Échec de connexion (échec)", short)
}

func TestDescribe_FallbackOnPanic(t *testing.T) {
	// A nil entry makes the builder panic; Describe must still answer.
	long, short := Describe(nil, "")
	assert.Equal(t, "Entrée d'audit sans détail", long)
	assert.Equal(t, long, short)
}

func TestFallback(t *testing.T) {
	e := &model.EventLog{Action: model.ActionDelete, ActorName: "Agent X", ObjectType: "suspect", ObjectID: "9", CreatedAt: at}
	assert.Equal(t, "14/10/2026 10:32:05 - Agent X - DELETE - suspect #9", Fallback(e, ""))
}

func TestSentences(t *testing.T) {
	assert.Equal(t, "Agent MARTIN s'est connecté à 10:32.", ConnectionSentence("Agent MARTIN", at))
	assert.Equal(t, "Agent MARTIN s'est déconnecté à 10:32.", DisconnectionSentence("Agent MARTIN", at))
	assert.Equal(t, "À 10:32, consultation : dossier D-1.", ActionSentence(at, "Consultation", "dossier D-1."))
	assert.Equal(t, "À 10:32, export.", ActionSentence(at, "export", ""))

	assert.Equal(t, "À 10:32, modification : case #3 (statut).", EntrySentence(updateEntry(t), ""))
}

func TestRenderSession_OnlyPresentActions(t *testing.T) {
	login := model.EventLog{Action: model.ActionLogin, ActorName: "Agent MARTIN", IPAddress: "10.0.0.5", Success: true, CreatedAt: at}
	view := model.EventLog{Action: model.ActionView, ActorName: "Agent MARTIN", ResourceType: "case", ResourceID: ptr(3), Success: true, CreatedAt: at.Add(time.Minute)}
	upd := *updateEntry(t)
	upd.CreatedAt = at.Add(2 * time.Minute)
	del := model.EventLog{
		Action: model.ActionDelete, ActorName: "Agent MARTIN", ResourceType: "suspect", ResourceID: ptr(9),
		BeforeState: mustJSON(t, snapshot.Snapshot{"nom": "Durand", "prenom": "Paul"}),
		Success:     true, CreatedAt: at.Add(3 * time.Minute),
	}
	logout := model.EventLog{Action: model.ActionLogout, ActorName: "Agent MARTIN", Success: true, CreatedAt: at.Add(4 * time.Minute)}

	// deliberately out of order
	out := RenderSession([]model.EventLog{logout, del, upd, view, login}, Workstation{})

	assert.Contains(t, out, "CONNEXION")
	assert.Contains(t, out, "s'est connecté le 14/10/2026 à 10:32 depuis l'adresse 10.0.0.5")
	assert.Contains(t, out, "CONSULTATIONS")
	assert.Contains(t, out, "MODIFICATIONS")
	assert.Contains(t, out, "Changement de statut de « ouvert » à « ferme »")
	assert.Contains(t, out, "SUPPRESSIONS")
	assert.Contains(t, out, "suspect #9 « Paul DURAND »")
	assert.Contains(t, out, "Agent MARTIN s'est déconnecté à 10:36.")

	assert.NotContains(t, out, "TÉLÉCHARGEMENTS")
	assert.NotContains(t, out, "DÉPÔTS DE FICHIERS")
	assert.NotContains(t, out, "CRÉATIONS")
	assert.NotContains(t, out, "AUTRES OPÉRATIONS")

	assert.Less(t, strings.Index(out, "CONNEXION"), strings.Index(out, "DÉCONNEXION"))
}

func TestRenderSession_Empty(t *testing.T) {
	out := RenderSession(nil, Workstation{})
	assert.Contains(t, out, "Aucune opération enregistrée")
}

func TestRecoveredName(t *testing.T) {
	assert.Equal(t, "D-2026-001", RecoveredName(snapshot.Snapshot{"numero": "D-2026-001", "titre": "Vol"}))
	assert.Equal(t, "DURAND", RecoveredName(snapshot.Snapshot{"nom": "Durand"}))
	assert.Equal(t, "scan.pdf", RecoveredName(snapshot.Snapshot{"file_name": "scan.pdf"}))
	assert.Equal(t, "", RecoveredName(nil))
}
