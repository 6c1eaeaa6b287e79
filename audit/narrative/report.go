package narrative

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/model"
)

// Workstation is the client machine as reported by the X-Workstation-Name and
// X-Hostname request headers.
type Workstation struct {
	Name     string
	Hostname string
}

func (w Workstation) String() string {
	switch {
	case w.Name != "" && w.Hostname != "" && w.Name != w.Hostname:
		return fmt.Sprintf("%s (%s)", w.Name, w.Hostname)
	case w.Name != "":
		return w.Name
	default:
		return w.Hostname
	}
}

func workstationOf(e *model.EventLog, ws Workstation) Workstation {
	if ws.Name == "" && ws.Hostname == "" {
		return Workstation{Name: e.Workstation, Hostname: e.Hostname}
	}
	return ws
}

// Renderer builds the narrative reports. Label, when set, resolves resource
// references to display names.
type Renderer struct {
	Label Labeler
}

// RenderEntry renders e with no resource lookup.
func RenderEntry(e *model.EventLog, ws Workstation) string {
	return Renderer{}.RenderEntry(e, ws)
}

// RenderSession renders entries with no resource lookup.
func RenderSession(entries []model.EventLog, ws Workstation) string {
	return Renderer{}.RenderSession(entries, ws)
}

func (r Renderer) label(e *model.EventLog) string {
	return ResourceLabel(e, "", r.Label)
}

func heading(b *strings.Builder, n int, title string) {
	fmt.Fprintf(b, "\n%d. %s\n", n, title)
	b.WriteString(strings.Repeat("-", len([]rune(title))+3) + "\n")
}

func field(w *tabwriter.Writer, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "   %s\t: %s\n", name, value)
}

// RenderEntry renders the single-entry report: general information, the
// narrative summary, the modification table for updates, and a conclusion
// carrying the entry's reference.
func (r Renderer) RenderEntry(e *model.EventLog, ws Workstation) (out string) {
	if e == nil {
		return Fallback(nil, "") + "\n"
	}
	label := r.label(e)
	defer func() {
		if rec := recover(); rec != nil {
			out = Fallback(e, label) + "\n"
		}
	}()
	ws = workstationOf(e, ws)

	var b strings.Builder
	b.WriteString("RAPPORT NARRATIF D'AUDIT\n")
	b.WriteString("========================\n")

	n := 1
	heading(&b, n, "INFORMATIONS GÉNÉRALES")
	w := tabwriter.NewWriter(&b, 0, 0, 1, ' ', 0)
	field(w, "Référence", e.Reference)
	field(w, "Date", e.CreatedAt.Format(dateLayout))
	field(w, "Heure", e.CreatedAt.Format(clockLayout))
	field(w, "Agent", ActorName(e))
	field(w, "Rôle", e.ActorRole)
	field(w, "Action", fmt.Sprintf("%s (%s)", ActionLabel(e.Action), e.Action))
	field(w, "Ressource", label)
	if e.Endpoint != "" {
		field(w, "Point d'accès", strings.TrimSpace(e.Method+" "+e.Endpoint))
	}
	field(w, "Adresse IP", e.IPAddress)
	field(w, "Navigateur", e.Browser)
	field(w, "Système", e.OS)
	field(w, "Appareil", e.Device)
	field(w, "Poste de travail", ws.String())
	field(w, "Écran", e.ScreenName)
	field(w, "Résultat", result(e))
	_ = w.Flush()

	n++
	heading(&b, n, "RÉSUMÉ NARRATIF")
	desc := e.Description
	if desc == "" {
		desc, _ = Describe(e, label)
	}
	b.WriteString("   " + desc + "\n")

	if e.Action == model.ActionUpdate {
		n++
		heading(&b, n, "TABLEAU DES MODIFICATIONS")
		changes := Changes(e)
		if len(changes) == 0 {
			b.WriteString("   Aucune différence de valeur n'a été enregistrée.\n")
		} else {
			rows := make([]changeRow, len(changes))
			for i, c := range changes {
				rows[i] = changeRow{Change: c}
			}
			writeRows(&b, rows, false)
		}
	}

	n++
	heading(&b, n, "CONCLUSION")
	ref := e.Reference
	if ref == "" {
		ref = "(sans référence)"
	}
	fmt.Fprintf(&b, "   Cette opération est consignée au journal d'audit sous la référence %s.\n", ref)
	b.WriteString("   Les motifs indiqués sont déduits du nom des champs et ne constituent pas une justification.\n")
	return b.String()
}

func result(e *model.EventLog) string {
	if e.Success {
		return "Succès"
	}
	if e.ErrorMessage != "" {
		return "Échec (" + e.ErrorMessage + ")"
	}
	return "Échec"
}

type changeRow struct {
	at       time.Time
	resource string
	snapshot.Change
}

func writeRows(b *strings.Builder, rows []changeRow, withContext bool) {
	w := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	if withContext {
		fmt.Fprintln(w, "   Heure\tRessource\tChamp\tAvant\tAprès\tMotif")
	} else {
		fmt.Fprintln(w, "   Champ\tAvant\tAprès\tMotif")
	}
	for _, row := range rows {
		before := displayValue(row.Field, row.Before)
		after := displayValue(row.Field, row.After)
		motive := InferMotive(row.Field, row.Before, row.After)
		if hiddenValue(row.Field) {
			motive = InferMotive("password", nil, nil)
		}
		if withContext {
			fmt.Fprintf(w, "   %s\t%s\t%s\t%s\t%s\t%s\n", row.at.Format(hourLayout), row.resource, row.Field, before, after, motive)
		} else {
			fmt.Fprintf(w, "   %s\t%s\t%s\t%s\n", row.Field, before, after, motive)
		}
	}
	_ = w.Flush()
}

// RenderSession narrates one session's entries. Only the kinds of action
// actually present get a section.
func (r Renderer) RenderSession(entries []model.EventLog, ws Workstation) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			lines := make([]string, len(entries))
			for i := range entries {
				lines[i] = Fallback(&entries[i], "")
			}
			out = strings.Join(lines, "\n") + "\n"
		}
	}()

	var b strings.Builder
	b.WriteString("RAPPORT NARRATIF DE SESSION\n")
	b.WriteString("===========================\n")
	if len(entries) == 0 {
		b.WriteString("\nAucune opération enregistrée pour cette session.\n")
		return b.String()
	}

	sorted := make([]model.EventLog, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	first, last := &sorted[0], &sorted[len(sorted)-1]
	ws = workstationOf(first, ws)

	byKind := map[model.ActionKind][]*model.EventLog{}
	for i := range sorted {
		e := &sorted[i]
		byKind[e.Action] = append(byKind[e.Action], e)
	}

	n := 1
	heading(&b, n, "INFORMATIONS GÉNÉRALES")
	w := tabwriter.NewWriter(&b, 0, 0, 1, ' ', 0)
	field(w, "Agent", ActorName(first))
	field(w, "Rôle", first.ActorRole)
	field(w, "Date", first.CreatedAt.Format(dateLayout))
	field(w, "Période", fmt.Sprintf("de %s à %s", first.CreatedAt.Format(clockLayout), last.CreatedAt.Format(clockLayout)))
	field(w, "Adresse IP", first.IPAddress)
	field(w, "Navigateur", environment(first.Browser, first.OS))
	field(w, "Poste de travail", ws.String())
	field(w, "Opérations", fmt.Sprintf("%d", len(sorted)))
	_ = w.Flush()

	section := func(title string) {
		n++
		heading(&b, n, title)
	}

	if logins := byKind[model.ActionLogin]; len(logins) > 0 {
		section("CONNEXION")
		for _, e := range logins {
			fmt.Fprintf(&b, "   %s s'est connecté le %s à %s", ActorName(e), e.CreatedAt.Format(dateLayout), e.CreatedAt.Format(hourLayout))
			if e.IPAddress != "" {
				fmt.Fprintf(&b, " depuis l'adresse %s", e.IPAddress)
			}
			b.WriteString(".\n")
		}
	}

	if consults := collect(byKind, model.ActionView, model.ActionSearch, model.ActionNavigation); len(consults) > 0 {
		section("CONSULTATIONS")
		for _, e := range consults {
			fmt.Fprintf(&b, "   - %s : %s %s\n", e.CreatedAt.Format(clockLayout), lowerFirst(ActionLabel(e.Action)), r.objectOf(e))
		}
	}

	if creates := byKind[model.ActionCreate]; len(creates) > 0 {
		section("CRÉATIONS")
		for _, e := range creates {
			fmt.Fprintf(&b, "   - %s : création de %s\n", e.CreatedAt.Format(clockLayout), r.objectOf(e))
		}
	}

	if updates := byKind[model.ActionUpdate]; len(updates) > 0 {
		section("MODIFICATIONS")
		var rows []changeRow
		for _, e := range updates {
			res := r.objectOf(e)
			for _, c := range Changes(e) {
				rows = append(rows, changeRow{at: e.CreatedAt, resource: res, Change: c})
			}
		}
		if len(rows) == 0 {
			fmt.Fprintf(&b, "   %d modification(s) sans différence de valeur enregistrée.\n", len(updates))
		} else {
			writeRows(&b, rows, true)
		}
	}

	if downloads := byKind[model.ActionDownload]; len(downloads) > 0 {
		section("TÉLÉCHARGEMENTS")
		for _, e := range downloads {
			fmt.Fprintf(&b, "   - %s : téléchargement de %s\n", e.CreatedAt.Format(clockLayout), r.objectOf(e))
		}
	}

	if deletes := byKind[model.ActionDelete]; len(deletes) > 0 {
		section("SUPPRESSIONS")
		for _, e := range deletes {
			name := RecoveredName(snapshot.MustDecode(e.BeforeState))
			obj := r.objectOf(e)
			if name != "" {
				obj = fmt.Sprintf("%s « %s »", obj, name)
			}
			fmt.Fprintf(&b, "   - %s : suppression de %s\n", e.CreatedAt.Format(clockLayout), obj)
		}
	}

	if uploads := byKind[model.ActionUpload]; len(uploads) > 0 {
		section("DÉPÔTS DE FICHIERS")
		for _, e := range uploads {
			obj := r.objectOf(e)
			if name := RecoveredName(snapshot.MustDecode(e.AfterState)); name != "" {
				obj = fmt.Sprintf("« %s » sur %s", name, obj)
			}
			fmt.Fprintf(&b, "   - %s : dépôt de %s\n", e.CreatedAt.Format(clockLayout), obj)
		}
	}

	if others := collect(byKind, otherKinds...); len(others) > 0 {
		section("AUTRES OPÉRATIONS")
		for _, e := range others {
			line := ActionLabel(e.Action)
			if obj := r.objectOf(e); obj != "" && !objectless[e.Action] {
				line += " : " + obj
			}
			if !e.Success {
				line += " (échec)"
			}
			fmt.Fprintf(&b, "   - %s : %s\n", e.CreatedAt.Format(clockLayout), line)
		}
	}

	if logouts := byKind[model.ActionLogout]; len(logouts) > 0 {
		section("DÉCONNEXION")
		for _, e := range logouts {
			b.WriteString("   " + DisconnectionSentence(ActorName(e), e.CreatedAt) + "\n")
		}
	}

	return b.String()
}

var otherKinds = []model.ActionKind{
	model.ActionFailedLogin, model.ActionSuspend, model.ActionRestore,
	model.ActionPermissionChange, model.ActionRoleChange, model.ActionPINValidation,
	model.ActionPINFailed, model.ActionAccessDenied, model.ActionError403,
	model.ActionError404, model.ActionError500,
}

func collect(byKind map[model.ActionKind][]*model.EventLog, kinds ...model.ActionKind) []*model.EventLog {
	var out []*model.EventLog
	for _, k := range kinds {
		out = append(out, byKind[k]...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r Renderer) objectOf(e *model.EventLog) string {
	return object(e, r.label(e))
}

// nameKeys are tried in order to give a deleted resource back its name.
var nameKeys = []string{"numero", "titre", "file_name", "username", "title", "name", "label"}

// RecoveredName makes a best effort at naming a resource from a snapshot.
func RecoveredName(s snapshot.Snapshot) string {
	if s == nil {
		return ""
	}
	if nom, ok := s["nom"].(string); ok && nom != "" {
		if prenom, ok := s["prenom"].(string); ok && prenom != "" {
			return prenom + " " + strings.ToUpper(nom)
		}
		return strings.ToUpper(nom)
	}
	for _, k := range nameKeys {
		if v, ok := s[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
