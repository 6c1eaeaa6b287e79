package model

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// allModels lists every model to be auto-migrated.
var allModels = []interface{}{
	&User{},
	&Case{},
	&Suspect{},
	&Piece{},
	&Session{},
	&Journal{},
	&EventLog{},
}

// eventLogFrozenColumns may never change once an EventLog row exists.
var eventLogFrozenColumns = []string{
	"actor_id", "actor_name", "actor_role", "action",
	"resource_type", "resource_id", "object_type", "object_id",
	"session_id", "endpoint", "method", "ip_address", "user_agent",
	"browser", "os", "device", "hostname", "workstation",
	"success", "error_message", "reference", "day_sequence",
	"trace_id", "created_at",
}

// eventLogBackfillColumns may be written once, while no snapshot exists.
var eventLogBackfillColumns = []string{
	"before_state", "after_state", "changed_fields",
	"description", "short_description",
}

// AutoMigrate creates or updates all tables in the given database and
// installs the storage-level write-once guards where the dialect supports them.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels...); err != nil {
		return err
	}
	return InstallGuards(db)
}

// InstallGuards creates triggers enforcing audit immutability below the
// application layer. Only SQLite is covered; on other dialects the checks in
// the audit package are the sole enforcement.
func InstallGuards(db *gorm.DB) error {
	if db.Dialector.Name() != "sqlite" {
		return nil
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS audit_event_logs_frozen
BEFORE UPDATE OF %s ON audit_event_logs
BEGIN SELECT RAISE(ABORT, 'audit_event_logs: write-once column'); END`,
			strings.Join(eventLogFrozenColumns, ", ")),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS audit_event_logs_sealed
BEFORE UPDATE OF %s ON audit_event_logs
WHEN COALESCE(OLD.before_state, '') NOT IN ('', 'null', '{}')
  OR COALESCE(OLD.after_state, '') NOT IN ('', 'null', '{}')
BEGIN SELECT RAISE(ABORT, 'audit_event_logs: snapshot already recorded'); END`,
			strings.Join(eventLogBackfillColumns, ", ")),
		`CREATE TRIGGER IF NOT EXISTS audit_event_logs_no_delete
BEFORE DELETE ON audit_event_logs
WHEN (SELECT COUNT(*) FROM audit_purge_grants) = 0
BEGIN SELECT RAISE(ABORT, 'audit_event_logs: deletion requires a purge grant'); END`,
		`CREATE TRIGGER IF NOT EXISTS audit_journals_sealed
BEFORE UPDATE OF narrative, closed, ended_at ON audit_journals
WHEN OLD.closed = 1
BEGIN SELECT RAISE(ABORT, 'audit_journals: journal is closed'); END`,
	}
	if err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_purge_grants (id INTEGER PRIMARY KEY)`).Error; err != nil {
		return fmt.Errorf("install guards: %w", err)
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("install guards: %w", err)
		}
	}
	return nil
}

// WithPurgeGrant runs fn with deletion of audit rows temporarily allowed.
// The grant row lives inside the caller's transaction only.
func WithPurgeGrant(tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx.Dialector.Name() != "sqlite" {
		return fn(tx)
	}
	if err := tx.Exec(`INSERT INTO audit_purge_grants (id) VALUES (1)`).Error; err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Exec(`DELETE FROM audit_purge_grants`).Error
}
