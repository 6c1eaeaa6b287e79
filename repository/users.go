package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var userKind = kind[model.User]{
	tag: audit.ResourceUser,
	id:  func(u *model.User) int64 { return u.ID },
}

// ErrInvalidRole is returned for a role outside the known agent roles.
var ErrInvalidRole = errors.New("repository: invalid role")

// Roles lists the agent roles.
var Roles = []string{
	model.RoleAdministrateur, model.RoleEnqueteur, model.RoleAnalyste,
	model.RoleTechnicien, model.RoleObservateur,
}

// ValidRole reports whether r is one of Roles.
func ValidRole(r string) bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// UserStore persists agents.
type UserStore struct{ s *Store }

// List returns all agents by username.
func (us *UserStore) List(ctx context.Context, p Page) ([]model.User, int64, error) {
	q := us.s.db.WithContext(ctx).Model(&model.User{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	var out []model.User
	if err := p.apply(q).Order("username").Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return out, total, nil
}

// Get returns one agent.
func (us *UserStore) Get(ctx context.Context, id int64) (*model.User, error) {
	return userKind.load(us.s.db.WithContext(ctx), id)
}

// ByUsername returns the agent signing in as username.
func (us *UserStore) ByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := us.s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// Create inserts an agent. Hashes must already be set.
func (us *UserStore) Create(ctx context.Context, u *model.User) error {
	if u.Role == "" {
		u.Role = model.RoleObservateur
	}
	if !ValidRole(u.Role) {
		return ErrInvalidRole
	}
	if u.Status == "" {
		u.Status = model.UserStatusActive
	}
	return userKind.create(ctx, us.s, model.ActionCreate, u)
}

// ChangeRole sets the agent's role.
func (us *UserStore) ChangeRole(ctx context.Context, id int64, role string) (*model.User, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}
	return us.set(ctx, id, model.ActionRoleChange, map[string]interface{}{"role": role})
}

// SetPermissions replaces the agent's permission list.
func (us *UserStore) SetPermissions(ctx context.Context, id int64, perms []string) (*model.User, error) {
	if perms == nil {
		perms = []string{}
	}
	return userKind.update(ctx, us.s, id, model.ActionPermissionChange, func(tx *gorm.DB, cur *model.User) error {
		return tx.Model(cur).Update("permissions", datatypes.JSONSlice[string](perms)).Error
	})
}

// Suspend blocks the agent from signing in.
func (us *UserStore) Suspend(ctx context.Context, id int64) (*model.User, error) {
	return us.set(ctx, id, model.ActionSuspend, map[string]interface{}{"status": model.UserStatusSuspended})
}

// Restore lifts a suspension.
func (us *UserStore) Restore(ctx context.Context, id int64) (*model.User, error) {
	return us.set(ctx, id, model.ActionRestore, map[string]interface{}{"status": model.UserStatusActive})
}

// SetPassword stores a new password hash.
func (us *UserStore) SetPassword(ctx context.Context, id int64, hash string) (*model.User, error) {
	return us.set(ctx, id, model.ActionUpdate, map[string]interface{}{"password_hash": hash})
}

func (us *UserStore) set(ctx context.Context, id int64, action model.ActionKind, cols map[string]interface{}) (*model.User, error) {
	return userKind.update(ctx, us.s, id, action, func(tx *gorm.DB, cur *model.User) error {
		return tx.Model(cur).Updates(cols).Error
	})
}

// TouchLogin records the last sign-in. It is bookkeeping, not audited as a
// modification; the LOGIN entry covers it.
func (us *UserStore) TouchLogin(ctx context.Context, id int64, ip string, at time.Time) error {
	err := us.s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"last_login_at": at, "last_login_ip": ip}).Error
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

// Label names an agent for audit descriptions.
func (us *UserStore) Label(ctx context.Context, id int64) (string, error) {
	var u model.User
	if err := us.s.db.WithContext(ctx).Select("id", "username", "first_name", "last_name").First(&u, id).Error; err != nil {
		return "", err
	}
	return "l'agent " + u.FullName(), nil
}
