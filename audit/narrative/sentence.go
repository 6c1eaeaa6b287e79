package narrative

import (
	"fmt"
	"strings"
	"time"

	"github.com/sgic-platform/sgic-audit/model"
)

// ConnectionSentence opens a journal.
func ConnectionSentence(actor string, at time.Time) string {
	return fmt.Sprintf("%s s'est connecté à %s.", actor, at.Format(hourLayout))
}

// DisconnectionSentence is appended when a journal is closed.
func DisconnectionSentence(actor string, at time.Time) string {
	return fmt.Sprintf("%s s'est déconnecté à %s.", actor, at.Format(hourLayout))
}

// ActionSentence formats one journal line for a coarse action label and its
// free-form details.
func ActionSentence(at time.Time, actionType, details string) string {
	actionType = strings.TrimSpace(actionType)
	details = strings.TrimSuffix(strings.TrimSpace(details), ".")
	if details == "" {
		return fmt.Sprintf("À %s, %s.", at.Format(hourLayout), lowerFirst(actionType))
	}
	return fmt.Sprintf("À %s, %s : %s.", at.Format(hourLayout), lowerFirst(actionType), details)
}

// EntrySentence is the journal line for a recorded entry.
func EntrySentence(e *model.EventLog, label string) string {
	details := object(e, label)
	if fields := changedFields(e); len(fields) > 0 {
		details += " (" + strings.Join(fields, ", ") + ")"
	}
	if !e.Success {
		details += " [échec]"
	}
	return ActionSentence(e.CreatedAt, ActionLabel(e.Action), strings.TrimSpace(details))
}
