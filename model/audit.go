package model

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// ActionKind is the kind of action an EventLog records.
type ActionKind string

const (
	ActionLogin            ActionKind = "LOGIN"
	ActionLogout           ActionKind = "LOGOUT"
	ActionFailedLogin      ActionKind = "FAILED_LOGIN"
	ActionView             ActionKind = "VIEW"
	ActionCreate           ActionKind = "CREATE"
	ActionUpdate           ActionKind = "UPDATE"
	ActionDelete           ActionKind = "DELETE"
	ActionDownload         ActionKind = "DOWNLOAD"
	ActionUpload           ActionKind = "UPLOAD"
	ActionSearch           ActionKind = "SEARCH"
	ActionSuspend          ActionKind = "SUSPEND"
	ActionRestore          ActionKind = "RESTORE"
	ActionPermissionChange ActionKind = "PERMISSION_CHANGE"
	ActionRoleChange       ActionKind = "ROLE_CHANGE"
	ActionPINValidation    ActionKind = "PIN_VALIDATION"
	ActionPINFailed        ActionKind = "PIN_FAILED"
	ActionAccessDenied     ActionKind = "ACCESS_DENIED"
	ActionNavigation       ActionKind = "NAVIGATION"
	ActionError403         ActionKind = "ERROR_403"
	ActionError404         ActionKind = "ERROR_404"
	ActionError500         ActionKind = "ERROR_500"
)

// AllActions lists every action kind in display order.
var AllActions = []ActionKind{
	ActionLogin, ActionLogout, ActionFailedLogin, ActionView, ActionCreate,
	ActionUpdate, ActionDelete, ActionDownload, ActionUpload, ActionSearch,
	ActionSuspend, ActionRestore, ActionPermissionChange, ActionRoleChange,
	ActionPINValidation, ActionPINFailed, ActionAccessDenied, ActionNavigation,
	ActionError403, ActionError404, ActionError500,
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	for _, a := range AllActions {
		if a == k {
			return true
		}
	}
	return false
}

// Mutating reports whether the action changes a persisted resource.
func (k ActionKind) Mutating() bool {
	return k == ActionCreate || k == ActionUpdate || k == ActionDelete
}

// EventLog is one write-once audit record.
//
// Only FrontendRoute and ScreenName may be changed after creation. The
// snapshot and description columns may be filled once, while the row still
// carries no before/after data.
type EventLog struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID          *int64         `gorm:"index:idx_audit_actor" json:"actor_id"`
	ActorName        string         `gorm:"size:128" json:"actor_name"`
	ActorRole        string         `gorm:"size:32" json:"actor_role"`
	Action           ActionKind     `gorm:"size:32;not null;index:idx_audit_action" json:"action"`
	ResourceType     string         `gorm:"size:32;index:idx_audit_resource" json:"resource_type"`
	ResourceID       *int64         `gorm:"index:idx_audit_resource" json:"resource_id"`
	ObjectType       string         `gorm:"size:64" json:"object_type"`
	ObjectID         string         `gorm:"size:64" json:"object_id"`
	SessionID        *int64         `gorm:"index:idx_audit_session" json:"session_id"`
	Endpoint         string         `gorm:"size:255" json:"endpoint"`
	Method           string         `gorm:"size:10" json:"method"`
	IPAddress        string         `gorm:"size:45" json:"ip_address"`
	UserAgent        string         `gorm:"size:512" json:"user_agent"`
	Browser          string         `gorm:"size:64" json:"browser"`
	OS               string         `gorm:"column:os;size:64" json:"os"`
	Device           string         `gorm:"size:32" json:"device"`
	Hostname         string         `gorm:"size:128" json:"hostname"`
	Workstation      string         `gorm:"size:128" json:"workstation"`
	BeforeState      datatypes.JSON `json:"before_state"`
	AfterState       datatypes.JSON `json:"after_state"`
	ChangedFields    datatypes.JSON `json:"changed_fields"`
	Description      string         `gorm:"type:text" json:"description"`
	ShortDescription string         `gorm:"size:255" json:"short_description"`
	Success          bool           `gorm:"not null" json:"success"`
	ErrorMessage     string         `gorm:"type:text" json:"error_message"`
	Reference        string         `gorm:"size:96;index:idx_audit_reference" json:"reference"`
	DaySequence      int            `json:"day_sequence"`
	FrontendRoute    string         `gorm:"size:255" json:"frontend_route"`
	ScreenName       string         `gorm:"size:128" json:"screen_name"`
	TraceID          string         `gorm:"size:36" json:"trace_id"`
	CreatedAt        time.Time      `gorm:"index:idx_audit_created" json:"created_at"`
}

func (EventLog) TableName() string { return "audit_event_logs" }

// ResourceKey returns the (type, id) pair the entry is about. The typed pair
// wins; entries written before it existed only carry the generic pair.
func (e *EventLog) ResourceKey() (string, string) {
	if e.ResourceType != "" && e.ResourceID != nil {
		return e.ResourceType, strconv.FormatInt(*e.ResourceID, 10)
	}
	return e.ObjectType, e.ObjectID
}

// HasSnapshots reports whether before or after data has been recorded.
func (e *EventLog) HasSnapshots() bool {
	return !emptyJSON(e.BeforeState) || !emptyJSON(e.AfterState)
}

func emptyJSON(j datatypes.JSON) bool {
	s := string(j)
	return s == "" || s == "null" || s == "{}"
}

// Session is one authenticated browser session.
type Session struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID        *int64     `gorm:"index:idx_session_actor" json:"actor_id"`
	Token          string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	IPAddress      string     `gorm:"size:45" json:"ip_address"`
	UserAgent      string     `gorm:"size:512" json:"user_agent"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	LastActivityAt time.Time  `gorm:"index" json:"last_activity_at"`
	EndReason      string     `gorm:"size:16" json:"end_reason"`
}

func (Session) TableName() string { return "audit_sessions" }

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool { return s.EndedAt == nil }

// Journal is the prose narrative accumulated over one Session.
type Journal struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID int64      `gorm:"uniqueIndex;not null" json:"session_id"`
	ActorID   *int64     `gorm:"index" json:"actor_id"`
	StartedAt time.Time  `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Narrative string     `gorm:"type:text" json:"narrative"`
	Closed    bool       `gorm:"not null;default:false" json:"closed"`
	IPAddress string     `gorm:"size:45" json:"ip_address"`
	UserAgent string     `gorm:"size:512" json:"user_agent"`
	Browser   string     `gorm:"size:64" json:"browser"`
	OS        string     `gorm:"column:os;size:64" json:"os"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Journal) TableName() string { return "audit_journals" }
