package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Agent roles. Stored in French as the SGIC front end displays them.
const (
	RoleAdministrateur = "administrateur"
	RoleEnqueteur      = "enqueteur"
	RoleAnalyste       = "analyste"
	RoleTechnicien     = "technicien"
	RoleObservateur    = "observateur"
)

const (
	UserStatusActive    = "actif"
	UserStatusSuspended = "suspendu"
)

// User is an SGIC agent allowed to sign in.
type User struct {
	ID           int64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string                      `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string                      `gorm:"size:72;not null" json:"-"`
	PINHash      string                      `gorm:"size:72" json:"-" audit:"-"`
	FirstName    string                      `gorm:"size:64" json:"first_name"`
	LastName     string                      `gorm:"size:64" json:"last_name"`
	Email        string                      `gorm:"size:128" json:"email"`
	Role         string                      `gorm:"size:32;not null;default:observateur" json:"role"`
	Permissions  datatypes.JSONSlice[string] `json:"permissions"`
	Status       string                      `gorm:"size:16;not null;default:actif" json:"status"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	LastLoginAt  *time.Time                  `json:"last_login_at"`
	LastLoginIP  string                      `gorm:"size:45" json:"last_login_ip"`
}

// FullName returns "First LAST", falling back to the username.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + strings.ToUpper(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}

// Suspended reports whether the account has been suspended by an administrator.
func (u *User) Suspended() bool {
	return u.Status == UserStatusSuspended
}
