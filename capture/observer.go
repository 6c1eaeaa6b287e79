package capture

import (
	"context"
	"errors"
	"strconv"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/metrics"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
)

// Mutation describes one persisted write of a domain resource.
type Mutation struct {
	// Action is CREATE, UPDATE or DELETE, or a refined kind such as
	// SUSPEND or ROLE_CHANGE when the write is that operation.
	Action       model.ActionKind
	ResourceType string
	ResourceID   int64
	// Before is nil for creations, After is nil for deletions.
	Before snapshot.Snapshot
	After  snapshot.Snapshot
}

// MutationObserver is implemented by the audit side and called explicitly
// by the persistence layer around every write.
//
// BeforeWrite is called inside the write transaction with the prior
// snapshot already read; it must not use the database. AfterWrite is called
// once the transaction has finished, with its error if it failed.
type MutationObserver interface {
	BeforeWrite(ctx context.Context, m *Mutation)
	AfterWrite(ctx context.Context, m *Mutation, err error)
}

var _ MutationObserver = (*Capture)(nil)

// BeforeWrite marks the request as logged by the persistence layer.
func (m *Capture) BeforeWrite(ctx context.Context, _ *Mutation) {
	if rc := audit.FromContext(ctx); rc != nil {
		rc.MarkDeferred()
	}
}

// AfterWrite writes the entry for a finished mutation. A near-duplicate by
// the same actor, action and endpoint within the mutation window is
// back-filled when it has no snapshots and otherwise suppresses the write.
func (m *Capture) AfterWrite(ctx context.Context, mu *Mutation, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("audit mutation capture panicked", zap.Any("recover", r))
			metrics.CaptureFailed(metrics.StagePanic)
		}
	}()
	if mu == nil {
		return
	}
	in := audit.Entry{
		Action:       mu.Action,
		ResourceType: mu.ResourceType,
		Before:       mu.Before,
		After:        mu.After,
	}
	if mu.ResourceID != 0 {
		id := mu.ResourceID
		in.ResourceID = &id
	}
	if err != nil {
		in.Error = err.Error()
		m.svc.Capture(ctx, in)
		return
	}
	if m.duplicate(ctx, mu) {
		return
	}
	m.svc.Capture(ctx, in)
}

// duplicate handles a near-duplicate entry and reports whether one was
// found. Entries about a different resource are not duplicates.
func (m *Capture) duplicate(ctx context.Context, mu *Mutation) bool {
	rc := audit.FromContext(ctx)
	if rc == nil || rc.Endpoint == "" {
		return false
	}
	var actorID *int64
	if rc.Actor != nil {
		id := rc.Actor.ID
		actorID = &id
	}
	window := m.svc.Config().MutationDedupWindow
	prior, err := m.svc.FindRecent(ctx, actorID, mu.Action, rc.Endpoint, window)
	if err != nil {
		if !errors.Is(err, audit.ErrNotFound) {
			m.logger.Warn("audit duplicate check failed", zap.Error(err))
		}
		return false
	}
	if typ, id := prior.ResourceKey(); typ != "" && (typ != mu.ResourceType || id != strconv.FormatInt(mu.ResourceID, 10)) {
		return false
	}
	if prior.HasSnapshots() {
		metrics.DuplicateSuppressed()
		rc.MarkRecorded()
		return true
	}
	if _, err := m.svc.Backfill(ctx, prior.ID, mu.Before, mu.After); err != nil {
		m.logger.Warn("audit back-fill failed", zap.Int64("entry_id", prior.ID), zap.Error(err))
		return false
	}
	metrics.DuplicateBackfilled()
	rc.MarkRecorded()
	return true
}
