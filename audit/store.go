package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sgic-platform/sgic-audit/audit/metrics"
	"github.com/sgic-platform/sgic-audit/audit/narrative"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// annotatable are the technical columns that may change after creation.
var annotatable = map[string]bool{
	"frontend_route": true,
	"screen_name":    true,
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id int64) (*model.EventLog, error) {
	var e model.EventLog
	err := s.db.WithContext(ctx).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: get entry %d: %w", id, err)
	}
	return &e, nil
}

// GetMany returns the entries with the given ids, oldest first.
func (s *Service) GetMany(ctx context.Context, ids []int64) ([]model.EventLog, error) {
	var out []model.EventLog
	if len(ids) == 0 {
		return out, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: get entries: %w", err)
	}
	return out, nil
}

// FindRecent returns the latest entry by the same actor for the same action
// and endpoint created within the last window, or ErrNotFound.
func (s *Service) FindRecent(ctx context.Context, actorID *int64, action model.ActionKind, endpoint string, window time.Duration) (*model.EventLog, error) {
	q := s.db.WithContext(ctx).
		Where("action = ? AND endpoint = ? AND created_at >= ?", action, endpoint, s.now().Add(-window))
	if actorID != nil {
		q = q.Where("actor_id = ?", *actorID)
	} else {
		q = q.Where("actor_id IS NULL")
	}
	var e model.EventLog
	err := q.Order("created_at DESC, id DESC").First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: find recent: %w", err)
	}
	return &e, nil
}

// Backfill fills the snapshot columns of an entry that was written without
// them, and regenerates its descriptions. It returns ErrImmutable when the
// entry already carries before/after data.
func (s *Service) Backfill(ctx context.Context, id int64, before, after snapshot.Snapshot) (*model.EventLog, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.HasSnapshots() {
		s.logger.Warn("audit backfill refused on sealed entry", zap.Int64("id", id))
		metrics.ImmutabilityViolationsTotal.Inc()
		return nil, ErrImmutable
	}
	if err := s.applySnapshots(e, before, after); err != nil {
		return nil, err
	}
	label := s.label(ctx, e)
	e.Description, e.ShortDescription = narrative.Describe(e, label)

	err = s.db.WithContext(ctx).Model(&model.EventLog{}).Where("id = ?", id).Updates(map[string]interface{}{
		"before_state":      e.BeforeState,
		"after_state":       e.AfterState,
		"changed_fields":    e.ChangedFields,
		"description":       e.Description,
		"short_description": e.ShortDescription,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("audit: backfill entry %d: %w", id, err)
	}
	return e, nil
}

// Annotate updates the allow-listed technical fields of an entry. Any other
// field is dropped with a warning; when nothing allowed remains the call is a
// no-op. It returns the names of the fields applied.
func (s *Service) Annotate(ctx context.Context, id int64, fields map[string]interface{}) ([]string, error) {
	allowed := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if annotatable[k] {
			allowed[k] = v
			continue
		}
		s.logger.Warn("audit write-once field update refused", zap.Int64("id", id), zap.String("field", k))
		metrics.ImmutabilityViolationsTotal.Inc()
	}
	if len(allowed) == 0 {
		return nil, nil
	}
	res := s.db.WithContext(ctx).Model(&model.EventLog{}).Where("id = ?", id).Updates(allowed)
	if res.Error != nil {
		return nil, fmt.Errorf("audit: annotate entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	applied := make([]string, 0, len(allowed))
	for k := range allowed {
		applied = append(applied, k)
	}
	sort.Strings(applied)
	return applied, nil
}

// Filter selects entries for listing and statistics.
type Filter struct {
	ActorID      *int64
	Action       model.ActionKind
	ResourceType string
	ResourceID   *int64
	SessionID    *int64
	From         *time.Time
	To           *time.Time
	Success      *bool
	Page         int
	PageSize     int
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
	// maxScan bounds the entries loaded for in-memory session grouping.
	maxScan = 5000
)

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if f.ActorID != nil {
		q = q.Where("actor_id = ?", *f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ResourceType != "" {
		q = q.Where("(resource_type = ? OR object_type = ?)", f.ResourceType, f.ResourceType)
	}
	if f.ResourceID != nil {
		q = q.Where("resource_id = ?", *f.ResourceID)
	}
	if f.SessionID != nil {
		q = q.Where("session_id = ?", *f.SessionID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	if f.Success != nil {
		q = q.Where("success = ?", *f.Success)
	}
	return q
}

func (f Filter) pagination() (page, size int) {
	page, size = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// List returns one page of entries, newest first, and the total count.
func (s *Service) List(ctx context.Context, f Filter) ([]model.EventLog, int64, error) {
	q := f.apply(s.db.WithContext(ctx).Model(&model.EventLog{}))
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit: count entries: %w", err)
	}
	page, size := f.pagination()
	var out []model.EventLog
	err := q.Order("created_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list entries: %w", err)
	}
	return out, total, nil
}

// Entries returns every matching entry, oldest first, bounded for
// in-memory grouping. Pagination fields are ignored. With f.From set the
// bound keeps the earliest entries, otherwise the latest.
func (s *Service) Entries(ctx context.Context, f Filter) ([]model.EventLog, error) {
	var out []model.EventLog
	q := f.apply(s.db.WithContext(ctx).Model(&model.EventLog{})).Limit(s.scanLimit)
	if f.From != nil {
		if err := q.Order("created_at, id").Find(&out).Error; err != nil {
			return nil, fmt.Errorf("audit: scan entries: %w", err)
		}
		return out, nil
	}
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: scan entries: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count is one group-by bucket.
type Count struct {
	Key   string `gorm:"column:bucket" json:"key"`
	Count int64  `gorm:"column:n" json:"count"`
}

// Stats aggregates entries.
type Stats struct {
	Total          int64   `json:"total"`
	Succeeded      int64   `json:"succeeded"`
	Failed         int64   `json:"failed"`
	SuccessRate    float64 `json:"success_rate"`
	ByAction       []Count `json:"by_action"`
	ByResourceType []Count `json:"by_resource_type"`
	ByActor        []Count `json:"by_actor"`
}

// Statistics aggregates the entries matched by f.
func (s *Service) Statistics(ctx context.Context, f Filter) (*Stats, error) {
	base := func() *gorm.DB { return f.apply(s.db.WithContext(ctx).Model(&model.EventLog{})) }
	st := &Stats{}
	if err := base().Count(&st.Total).Error; err != nil {
		return nil, fmt.Errorf("audit: statistics: %w", err)
	}
	if err := base().Where("success = ?", true).Count(&st.Succeeded).Error; err != nil {
		return nil, fmt.Errorf("audit: statistics: %w", err)
	}
	st.Failed = st.Total - st.Succeeded
	if st.Total > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(st.Total)
	}

	groups := []struct {
		expr string
		dst  *[]Count
	}{
		{"action", &st.ByAction},
		{"COALESCE(NULLIF(resource_type, ''), NULLIF(object_type, ''), 'aucune')", &st.ByResourceType},
		{"COALESCE(NULLIF(actor_name, ''), 'anonyme')", &st.ByActor},
	}
	for _, g := range groups {
		*g.dst = []Count{}
		err := base().Select(g.expr + " AS bucket, COUNT(*) AS n").
			Group(g.expr).Order("n DESC").Scan(g.dst).Error
		if err != nil {
			return nil, fmt.Errorf("audit: statistics: %w", err)
		}
	}
	return st, nil
}

// Purge deletes every entry and returns how many were removed.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return model.WithPurgeGrant(tx, func(tx *gorm.DB) error {
			res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.EventLog{})
			n = res.RowsAffected
			return res.Error
		})
	})
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	return n, nil
}
