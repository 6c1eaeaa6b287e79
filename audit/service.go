// Package audit is the write-once audit trail: event entries with
// before/after snapshots, authenticated sessions and their narrative
// journals, and the queries behind the reporting endpoints.
//
// Writes are synchronous. Capture never lets an audit failure reach the
// request or mutation that triggered it; use Record only where the caller
// wants to see the error.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sgic-platform/sgic-audit/audit/metrics"
	"github.com/sgic-platform/sgic-audit/audit/narrative"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/audit/useragent"
	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/config"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("audit: not found")
	ErrJournalClosed = errors.New("audit: journal is closed")
	ErrNoOpenSession = errors.New("audit: no open session")
	ErrImmutable     = errors.New("audit: entry is write-once")
	ErrBadSessionID  = errors.New("audit: malformed session id")
	ErrSessionEnded  = errors.New("audit: session has ended")
)

// FeedChannel is the pub/sub channel every written entry is published on.
const FeedChannel = "audit:events"

// Service owns the audit tables.
type Service struct {
	db        *gorm.DB
	cache     cache.Cache
	pubsub    cache.PubSub
	cfg       config.AuditConfig
	logger    *zap.Logger
	resources *Registry
	now       func() time.Time
	scanLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithPubSub publishes written entries on FeedChannel.
func WithPubSub(ps cache.PubSub) Option { return func(s *Service) { s.pubsub = ps } }

// WithResources sets the registry used to label resources.
func WithResources(r *Registry) Option { return func(s *Service) { s.resources = r } }

// WithScanLimit bounds the entries loaded for in-memory session grouping.
func WithScanLimit(n int) Option { return func(s *Service) { s.scanLimit = n } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service. c may be nil, in which case day sequences come
// from the table alone.
func New(db *gorm.DB, c cache.Cache, cfg config.AuditConfig, logger *zap.Logger, opts ...Option) *Service {
	if cfg.MaskPlaceholder == "" {
		cfg.MaskPlaceholder = config.DefaultAudit().MaskPlaceholder
	}
	s := &Service{
		db:        db,
		cache:     c,
		cfg:       cfg,
		logger:    logger,
		resources: NewRegistry(),
		now:       time.Now,
		scanLimit: maxScan,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the thresholds the service runs with.
func (s *Service) Config() config.AuditConfig { return s.cfg }

// Resources returns the resource registry.
func (s *Service) Resources() *Registry { return s.resources }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// Privileged reports whether role may see every actor's entries.
func (s *Service) Privileged(role string) bool {
	for _, r := range s.cfg.PrivilegedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Entry describes one action to record. Actor, endpoint and network facts
// come from the RequestContext in ctx unless Actor is set here.
type Entry struct {
	Action       model.ActionKind
	ResourceType string
	ResourceID   *int64
	ObjectType   string
	ObjectID     string
	// Before and After are raw snapshots; sensitive keys are masked on write.
	Before snapshot.Snapshot
	After  snapshot.Snapshot
	// Error marks the action as failed.
	Error         string
	Description   string
	FrontendRoute string
	ScreenName    string
	Actor         *Actor
	At            time.Time
	// NoJournal skips narrative enrichment.
	NoJournal bool
}

// Capture records in and swallows every failure, panics included. It returns
// the written entry or nil.
func (s *Service) Capture(ctx context.Context, in Entry) (e *model.EventLog) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("audit capture panicked",
				zap.String("action", string(in.Action)), zap.Any("recover", r))
			metrics.CaptureFailed(metrics.StagePanic)
			e = nil
		}
	}()
	e, err := s.Record(ctx, in)
	if err != nil {
		s.logger.Error("audit capture failed", zap.String("action", string(in.Action)), zap.Error(err))
		metrics.CaptureFailed(metrics.StageWrite)
		return nil
	}
	return e
}

// Record writes one entry and, on success within an open session, enriches
// the session's journal. Journal and feed failures are logged, not returned.
func (s *Service) Record(ctx context.Context, in Entry) (*model.EventLog, error) {
	if !in.Action.Valid() {
		return nil, fmt.Errorf("audit: unknown action %q", in.Action)
	}
	rc := FromContext(ctx)
	actor := in.Actor
	if actor == nil && rc != nil {
		actor = rc.Actor
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	e := &model.EventLog{
		Action:        in.Action,
		ResourceType:  in.ResourceType,
		ResourceID:    in.ResourceID,
		ObjectType:    in.ObjectType,
		ObjectID:      in.ObjectID,
		Success:       in.Error == "",
		ErrorMessage:  in.Error,
		FrontendRoute: in.FrontendRoute,
		ScreenName:    in.ScreenName,
		CreatedAt:     at,
	}
	if e.ObjectType == "" && e.ResourceType != "" && e.ResourceID != nil {
		e.ObjectType = e.ResourceType
		e.ObjectID = strconv.FormatInt(*e.ResourceID, 10)
	}
	if actor != nil {
		id := actor.ID
		e.ActorID = &id
		e.ActorName = actor.Name
		e.ActorRole = actor.Role
	}
	if rc != nil {
		e.Endpoint = rc.Endpoint
		e.Method = rc.Method
		e.IPAddress = rc.IP
		e.UserAgent = rc.UserAgent
		e.TraceID = rc.TraceID
		e.Workstation = rc.Workstation
		e.Hostname = rc.Hostname
		if id, ok := rc.Session(); ok {
			e.SessionID = &id
		}
	}
	if e.UserAgent != "" {
		ua := useragent.Parse(e.UserAgent)
		e.Browser = ua.BrowserLabel()
		e.OS = ua.OSLabel()
		e.Device = ua.Device
	}

	if err := s.applySnapshots(e, in.Before, in.After); err != nil {
		s.logger.Error("audit snapshot encoding failed", zap.Error(err))
		metrics.CaptureFailed(metrics.StageSnapshot)
		e.BeforeState, e.AfterState, e.ChangedFields = nil, nil, nil
	}

	e.Reference, e.DaySequence = s.GenerateReference(ctx, actor, at)
	label := s.label(ctx, e)
	e.Description, e.ShortDescription = narrative.Describe(e, label)
	if in.Description != "" {
		e.Description = in.Description
	}

	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, fmt.Errorf("audit: write entry: %w", err)
	}
	metrics.EntryWritten(string(e.Action))
	if rc != nil {
		rc.MarkRecorded()
	}
	s.publish(ctx, e)

	if e.Success && !in.NoJournal && e.SessionID != nil && enrichable(e.Action) {
		if err := s.AppendNarrative(ctx, *e.SessionID, narrative.EntrySentence(e, label)); err != nil {
			s.logJournalError(err, *e.SessionID)
		}
	}
	return e, nil
}

// enrichable actions get a journal sentence. Login and logout write their
// own opening and closing sentences.
func enrichable(k model.ActionKind) bool {
	switch k {
	case model.ActionLogin, model.ActionLogout, model.ActionFailedLogin:
		return false
	}
	return true
}

func (s *Service) logJournalError(err error, sessionID int64) {
	if errors.Is(err, ErrJournalClosed) {
		s.logger.Warn("audit journal append refused", zap.Int64("session_id", sessionID))
		return
	}
	s.logger.Error("audit journal append failed", zap.Int64("session_id", sessionID), zap.Error(err))
	metrics.CaptureFailed(metrics.StageJournal)
}

func (s *Service) applySnapshots(e *model.EventLog, before, after snapshot.Snapshot) error {
	if before == nil && after == nil {
		return nil
	}
	var err error
	if before != nil && after != nil {
		if e.ChangedFields, err = encodeFields(snapshot.ChangedFields(before, after)); err != nil {
			return err
		}
	}
	if e.BeforeState, err = snapshot.Encode(snapshot.Mask(before, s.cfg.MaskPlaceholder)); err != nil {
		return err
	}
	if e.AfterState, err = snapshot.Encode(snapshot.Mask(after, s.cfg.MaskPlaceholder)); err != nil {
		return err
	}
	return nil
}

func encodeFields(fields []string) (datatypes.JSON, error) {
	if fields == nil {
		fields = []string{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("audit: encode changed fields: %w", err)
	}
	return datatypes.JSON(b), nil
}

func (s *Service) label(ctx context.Context, e *model.EventLog) string {
	typ, id := e.ResourceKey()
	return s.resources.Label(ctx, typ, id)
}

// Labeler adapts the registry for the narrative renderer.
func (s *Service) Labeler(ctx context.Context) narrative.Labeler {
	return func(typ, id string) string { return s.resources.Label(ctx, typ, id) }
}

func (s *Service) publish(ctx context.Context, e *model.EventLog) {
	if s.pubsub == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		metrics.CaptureFailed(metrics.StagePublish)
		return
	}
	if err := s.pubsub.Publish(ctx, FeedChannel, string(b)); err != nil {
		s.logger.Warn("audit feed publish failed", zap.Error(err))
		metrics.CaptureFailed(metrics.StagePublish)
	}
}
