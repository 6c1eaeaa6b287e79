package narrative

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/model"
)

const shortMax = 255

// Describe returns the long and short descriptions of e. label is the
// resolved resource label and may be empty. A failure while building the text
// degrades to Fallback; an entry always gets some description.
func Describe(e *model.EventLog, label string) (long, short string) {
	defer func() {
		if r := recover(); r != nil {
			long = Fallback(e, label)
			short = truncate(long, shortMax)
		}
	}()
	return describe(e, label), ShortDescription(e, label)
}

// Fallback is the minimal one-line description: date, actor, action and
// resource.
func Fallback(e *model.EventLog, label string) string {
	if e == nil {
		return "Entrée d'audit sans détail"
	}
	parts := []string{
		e.CreatedAt.Format(dateLayout + " " + clockLayout),
		ActorName(e),
		string(e.Action),
	}
	if r := ResourceLabel(e, label, nil); r != "" {
		parts = append(parts, r)
	}
	return strings.Join(parts, " - ")
}

// ShortDescription is the one-line summary shown in lists.
func ShortDescription(e *model.EventLog, label string) string {
	s := ActionLabel(e.Action)
	if r := object(e, label); r != "" {
		s += " : " + r
	}
	if !e.Success {
		s += " (échec)"
	}
	return truncate(s, shortMax)
}

func describe(e *model.EventLog, label string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Le %s à %s, %s", e.CreatedAt.Format(dateLayout), e.CreatedAt.Format(clockLayout), ActorName(e))
	if e.ActorRole != "" {
		fmt.Fprintf(&b, " (%s)", e.ActorRole)
	}
	b.WriteString(" " + verb(e.Action))
	if obj := object(e, label); obj != "" && !objectless[e.Action] {
		b.WriteString(" " + obj)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " via %s %s", e.Method, e.Endpoint)
	}
	if e.IPAddress != "" {
		fmt.Fprintf(&b, " depuis l'adresse %s", e.IPAddress)
	}
	if env := environment(e.Browser, e.OS); env != "" {
		fmt.Fprintf(&b, " (%s)", env)
	}
	b.WriteString(".")

	if fields := changedFields(e); len(fields) > 0 {
		fmt.Fprintf(&b, " Champs modifiés : %s.", strings.Join(fields, ", "))
	}
	if e.Success {
		b.WriteString(" Opération réussie.")
	} else if e.ErrorMessage != "" {
		fmt.Fprintf(&b, " Échec de l'opération : %s.", strings.TrimSuffix(e.ErrorMessage, "."))
	} else {
		b.WriteString(" Échec de l'opération.")
	}
	return b.String()
}

// object is what the action was performed on.
func object(e *model.EventLog, label string) string {
	if e.Action == model.ActionNavigation {
		switch {
		case e.ScreenName != "" && e.FrontendRoute != "":
			return fmt.Sprintf("l'écran « %s » (%s)", e.ScreenName, e.FrontendRoute)
		case e.ScreenName != "":
			return fmt.Sprintf("l'écran « %s »", e.ScreenName)
		case e.FrontendRoute != "":
			return e.FrontendRoute
		}
	}
	if r := ResourceLabel(e, label, nil); r != "" {
		return r
	}
	if objectless[e.Action] {
		return ""
	}
	return e.Endpoint
}

func environment(browser, os string) string {
	switch {
	case browser != "" && os != "":
		return browser + " sur " + os
	case browser != "":
		return browser
	default:
		return os
	}
}

func changedFields(e *model.EventLog) []string {
	if len(e.ChangedFields) == 0 {
		return nil
	}
	var fields []string
	if err := json.Unmarshal(e.ChangedFields, &fields); err != nil {
		return nil
	}
	return fields
}

// Changes returns the field changes carried by e. The stored changed-field
// list wins, so masked fields that compare equal are still reported.
func Changes(e *model.EventLog) []snapshot.Change {
	before := snapshot.MustDecode(e.BeforeState)
	after := snapshot.MustDecode(e.AfterState)
	if fields := changedFields(e); len(fields) > 0 {
		out := make([]snapshot.Change, 0, len(fields))
		for _, f := range fields {
			out = append(out, snapshot.Change{Field: f, Before: before[f], After: after[f]})
		}
		return out
	}
	return snapshot.Meaningful(snapshot.Diff(before, after))
}
