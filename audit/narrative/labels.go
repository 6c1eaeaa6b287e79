// Package narrative renders audit entries as French prose: one-line and
// long descriptions, journal sentences, and the single-entry and session
// narrative reports.
package narrative

import (
	"fmt"
	"strings"

	"github.com/sgic-platform/sgic-audit/model"
)

const (
	dateLayout  = "02/01/2006"
	clockLayout = "15:04:05"
	hourLayout  = "15:04"
)

var actionLabels = map[model.ActionKind]string{
	model.ActionLogin:            "Connexion",
	model.ActionLogout:           "Déconnexion",
	model.ActionFailedLogin:      "Échec de connexion",
	model.ActionView:             "Consultation",
	model.ActionCreate:           "Création",
	model.ActionUpdate:           "Modification",
	model.ActionDelete:           "Suppression",
	model.ActionDownload:         "Téléchargement",
	model.ActionUpload:           "Dépôt de fichier",
	model.ActionSearch:           "Recherche",
	model.ActionSuspend:          "Suspension de compte",
	model.ActionRestore:          "Réactivation de compte",
	model.ActionPermissionChange: "Modification des permissions",
	model.ActionRoleChange:       "Changement de rôle",
	model.ActionPINValidation:    "Validation du code PIN",
	model.ActionPINFailed:        "Échec de validation du code PIN",
	model.ActionAccessDenied:     "Accès refusé",
	model.ActionNavigation:       "Navigation",
	model.ActionError403:         "Erreur 403 (accès interdit)",
	model.ActionError404:         "Erreur 404 (ressource introuvable)",
	model.ActionError500:         "Erreur 500 (erreur serveur)",
}

// ActionLabel returns the French display label of an action kind.
func ActionLabel(k model.ActionKind) string {
	if l, ok := actionLabels[k]; ok {
		return l
	}
	return string(k)
}

// verbs hold the past-tense phrase used in descriptions. Actions that take
// no object end with a full stop of their own.
var verbs = map[model.ActionKind]string{
	model.ActionLogin:            "s'est connecté",
	model.ActionLogout:           "s'est déconnecté",
	model.ActionFailedLogin:      "a échoué à se connecter",
	model.ActionView:             "a consulté",
	model.ActionCreate:           "a créé",
	model.ActionUpdate:           "a modifié",
	model.ActionDelete:           "a supprimé",
	model.ActionDownload:         "a téléchargé",
	model.ActionUpload:           "a déposé un fichier sur",
	model.ActionSearch:           "a effectué une recherche sur",
	model.ActionSuspend:          "a suspendu",
	model.ActionRestore:          "a réactivé",
	model.ActionPermissionChange: "a modifié les permissions de",
	model.ActionRoleChange:       "a changé le rôle de",
	model.ActionPINValidation:    "a validé son code PIN",
	model.ActionPINFailed:        "a saisi un code PIN erroné",
	model.ActionAccessDenied:     "s'est vu refuser l'accès à",
	model.ActionNavigation:       "a navigué vers",
	model.ActionError403:         "a reçu un refus d'accès (403) sur",
	model.ActionError404:         "a demandé une ressource introuvable (404) :",
	model.ActionError500:         "a rencontré une erreur serveur (500) sur",
}

// objectless actions are about the actor themself.
var objectless = map[model.ActionKind]bool{
	model.ActionLogin:         true,
	model.ActionLogout:        true,
	model.ActionFailedLogin:   true,
	model.ActionPINValidation: true,
	model.ActionPINFailed:     true,
}

func verb(k model.ActionKind) string {
	if v, ok := verbs[k]; ok {
		return v
	}
	return "a effectué l'action " + string(k) + " sur"
}

// Labeler resolves a resource reference to a display label. An empty result
// means the resource is unknown to it.
type Labeler func(resourceType, resourceID string) string

// ActorName returns the display name captured on the entry.
func ActorName(e *model.EventLog) string {
	if e.ActorName != "" {
		return e.ActorName
	}
	if e.ActorID == nil {
		return "Utilisateur anonyme"
	}
	return fmt.Sprintf("Utilisateur #%d", *e.ActorID)
}

// ResourceLabel returns label when set, otherwise resolves the entry's
// resource with lookup, falling back to "type #id".
func ResourceLabel(e *model.EventLog, label string, lookup Labeler) string {
	if label != "" {
		return label
	}
	typ, id := e.ResourceKey()
	if typ == "" {
		return ""
	}
	if lookup != nil {
		if l := lookup(typ, id); l != "" {
			return l
		}
	}
	if id == "" {
		return typ
	}
	return typ + " #" + id
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToLower(string(r[0])) + string(r[1:])
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
