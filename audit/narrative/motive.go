package narrative

import (
	"fmt"
	"strings"

	"github.com/sgic-platform/sgic-audit/audit/snapshot"
)

// DefaultMotive is used when no keyword matches the field name.
const DefaultMotive = "Modification standard"

type motiveRule struct {
	keywords []string
	motive   func(before, after string) string
}

// Rules are checked in order; the password rule comes first so that its
// values never reach the text.
var motiveRules = []motiveRule{
	{[]string{"mot_de_passe", "password"}, func(_, _ string) string {
		return "Mise à jour du mot de passe"
	}},
	{[]string{"statut", "status"}, func(b, a string) string {
		return fmt.Sprintf("Changement de statut de « %s » à « %s »", b, a)
	}},
	{[]string{"email", "courriel"}, func(_, _ string) string {
		return "Mise à jour de l'adresse électronique"
	}},
	{[]string{"telephone", "phone"}, func(_, _ string) string {
		return "Mise à jour du numéro de téléphone"
	}},
	{[]string{"adresse", "address"}, func(_, _ string) string {
		return "Mise à jour de l'adresse postale"
	}},
	{[]string{"role"}, func(b, a string) string {
		return fmt.Sprintf("Changement de rôle de « %s » à « %s »", b, a)
	}},
	{[]string{"nom", "name"}, func(_, _ string) string {
		return "Correction de l'identité"
	}},
	{[]string{"description", "notes"}, func(_, _ string) string {
		return "Mise à jour des informations descriptives"
	}},
	{[]string{"date"}, func(_, _ string) string {
		return "Correction de date"
	}},
}

// InferMotive guesses a human-readable reason for a field change from the
// field name alone. It is a presentation aid and never an audited
// justification.
func InferMotive(field string, before, after interface{}) string {
	lower := strings.ToLower(field)
	for _, r := range motiveRules {
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				return r.motive(snapshot.String(before), snapshot.String(after))
			}
		}
	}
	return DefaultMotive
}

// hiddenValue reports whether a field's values must not be displayed.
func hiddenValue(field string) bool {
	lower := strings.ToLower(field)
	return snapshot.Sensitive(field) || strings.Contains(lower, "mot_de_passe")
}

const hiddenText = "(masqué)"

func displayValue(field string, v interface{}) string {
	if hiddenValue(field) {
		return hiddenText
	}
	return snapshot.String(v)
}
