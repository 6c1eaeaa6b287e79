// Package repository persists the SGIC domain resources. Every write goes
// through a transaction that reads the row's snapshot before and after the
// change and reports both to a capture.MutationObserver once it finished.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/capture"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("repository: not found")
	ErrConflict = errors.New("repository: conflict")
)

type nopObserver struct{}

func (nopObserver) BeforeWrite(context.Context, *capture.Mutation)        {}
func (nopObserver) AfterWrite(context.Context, *capture.Mutation, error) {}

// Store gives access to every domain resource.
type Store struct {
	db     *gorm.DB
	obs    capture.MutationObserver
	logger *zap.Logger

	Cases    *CaseStore
	Suspects *SuspectStore
	Pieces   *PieceStore
	Users    *UserStore
}

// New creates a Store. obs may be nil, in which case writes are not audited.
func New(db *gorm.DB, obs capture.MutationObserver, logger *zap.Logger) *Store {
	if obs == nil {
		obs = nopObserver{}
	}
	s := &Store{db: db, obs: obs, logger: logger}
	s.Cases = &CaseStore{s: s}
	s.Suspects = &SuspectStore{s: s}
	s.Pieces = &PieceStore{s: s}
	s.Users = &UserStore{s: s}
	return s
}

// RegisterLabels makes the audit registry name every resource type.
func (s *Store) RegisterLabels(r *audit.Registry) {
	r.Register(audit.ResourceCase, s.Cases.Label)
	r.Register(audit.ResourceSuspect, s.Suspects.Label)
	r.Register(audit.ResourcePiece, s.Pieces.Label)
	r.Register(audit.ResourceUser, s.Users.Label)
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// kind describes how one model type is loaded and tagged.
type kind[T any] struct {
	tag     string
	preload []string
	id      func(*T) int64
}

func (k kind[T]) load(tx *gorm.DB, id int64) (*T, error) {
	q := tx
	for _, p := range k.preload {
		q = q.Preload(p)
	}
	var out T
	if err := q.First(&out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// snap never fails the write; a snapshot that cannot be taken is logged and
// left out of the entry.
func (k kind[T]) snap(s *Store, tx *gorm.DB, v *T) (out snapshot.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("snapshot panicked", zap.String("resource", k.tag), zap.Any("recover", r))
			out = nil
		}
	}()
	out, err := snapshot.Of(tx, v)
	if err != nil {
		s.logger.Warn("snapshot failed", zap.String("resource", k.tag), zap.Error(err))
		return nil
	}
	return out
}

func (k kind[T]) create(ctx context.Context, s *Store, action model.ActionKind, v *T) error {
	mu := &capture.Mutation{Action: action, ResourceType: k.tag}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s.obs.BeforeWrite(ctx, mu)
		if err := tx.Create(v).Error; err != nil {
			return wrap(err)
		}
		mu.ResourceID = k.id(v)
		fresh, err := k.load(tx, mu.ResourceID)
		if err != nil {
			return err
		}
		mu.After = k.snap(s, tx, fresh)
		*v = *fresh
		return nil
	})
	s.obs.AfterWrite(ctx, mu, err)
	return err
}

// update loads the row, applies fn and reloads it. The observer only hears
// about rows that existed.
func (k kind[T]) update(ctx context.Context, s *Store, id int64, action model.ActionKind, fn func(tx *gorm.DB, cur *T) error) (*T, error) {
	mu := &capture.Mutation{Action: action, ResourceType: k.tag, ResourceID: id}
	var out *T
	notified := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := k.load(tx, id)
		if err != nil {
			return err
		}
		mu.Before = k.snap(s, tx, cur)
		s.obs.BeforeWrite(ctx, mu)
		notified = true
		if err := fn(tx, cur); err != nil {
			return wrap(err)
		}
		fresh, err := k.load(tx, id)
		if err != nil {
			return err
		}
		mu.After = k.snap(s, tx, fresh)
		out = fresh
		return nil
	})
	if notified {
		s.obs.AfterWrite(ctx, mu, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (k kind[T]) delete(ctx context.Context, s *Store, id int64, cleanup func(tx *gorm.DB, cur *T) error) (*T, error) {
	mu := &capture.Mutation{Action: model.ActionDelete, ResourceType: k.tag, ResourceID: id}
	var gone *T
	notified := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := k.load(tx, id)
		if err != nil {
			return err
		}
		mu.Before = k.snap(s, tx, cur)
		s.obs.BeforeWrite(ctx, mu)
		notified = true
		if cleanup != nil {
			if err := cleanup(tx, cur); err != nil {
				return wrap(err)
			}
		}
		if err := tx.Delete(cur).Error; err != nil {
			return wrap(err)
		}
		gone = cur
		return nil
	})
	if notified {
		s.obs.AfterWrite(ctx, mu, err)
	}
	if err != nil {
		return nil, err
	}
	return gone, nil
}

// Page bounds a list query.
type Page struct {
	Page     int
	PageSize int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	page, size := p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	if size > 200 {
		size = 200
	}
	return q.Offset((page - 1) * size).Limit(size)
}

func like(term string) string { return "%" + term + "%" }

// wrap tags duplicate-key failures with ErrConflict.
func wrap(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
