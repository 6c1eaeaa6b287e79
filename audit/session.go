package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sgic-platform/sgic-audit/audit/metrics"
	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Session end reasons.
const (
	EndLogout  = "logout"
	EndExpired = "expired"
	EndClosed  = "closed"
)

// EnsureSession returns the open session for token, creating it together
// with its journal when there is none.
func (s *Service) EnsureSession(ctx context.Context, actor *Actor, token, ip, userAgent string) (*model.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("audit: session token required")
	}
	sess, err := s.OpenSession(ctx, token)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNoOpenSession) {
		return nil, err
	}
	// a token outlives its session only when revocation failed
	var ended int64
	if err := s.db.WithContext(ctx).Model(&model.Session{}).Where("token = ?", token).Count(&ended).Error; err != nil {
		return nil, fmt.Errorf("audit: find session: %w", err)
	}
	if ended > 0 {
		return nil, ErrSessionEnded
	}

	now := s.now()
	sess = &model.Session{
		Token:          token,
		IPAddress:      ip,
		UserAgent:      userAgent,
		StartedAt:      now,
		LastActivityAt: now,
	}
	name := ""
	if actor != nil {
		id := actor.ID
		sess.ActorID = &id
		name = actor.Name
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("audit: create session: %w", err)
	}
	if _, err := s.OpenJournal(ctx, sess, name); err != nil {
		s.logger.Error("audit journal open failed", zap.Int64("session_id", sess.ID), zap.Error(err))
		metrics.CaptureFailed(metrics.StageJournal)
	}
	return sess, nil
}

// OpenSession returns the open session for token, or ErrNoOpenSession.
func (s *Service) OpenSession(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).Where("token = ? AND ended_at IS NULL", token).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoOpenSession
	}
	if err != nil {
		return nil, fmt.Errorf("audit: find session: %w", err)
	}
	return &sess, nil
}

// LatestOpenSession returns the actor's most recent open session.
func (s *Service) LatestOpenSession(ctx context.Context, actorID int64) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).Where("actor_id = ? AND ended_at IS NULL", actorID).
		Order("started_at DESC, id DESC").First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoOpenSession
	}
	if err != nil {
		return nil, fmt.Errorf("audit: find session: %w", err)
	}
	return &sess, nil
}

// TouchSession records activity on a session.
func (s *Service) TouchSession(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND ended_at IS NULL", id).
		Update("last_activity_at", s.now()).Error
	if err != nil {
		return fmt.Errorf("audit: touch session %d: %w", id, err)
	}
	return nil
}

// CloseSession ends the session behind token and seals its journal. Closing
// an already closed session is a no-op.
func (s *Service) CloseSession(ctx context.Context, token, reason string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: find session: %w", err)
	}
	return s.closeSession(ctx, &sess, reason)
}

func (s *Service) closeSession(ctx context.Context, sess *model.Session, reason string) (*model.Session, error) {
	if !sess.Open() {
		return sess, nil
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND ended_at IS NULL", sess.ID).
		Updates(map[string]interface{}{"ended_at": now, "end_reason": reason})
	if res.Error != nil {
		return nil, fmt.Errorf("audit: close session %d: %w", sess.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		sess.EndedAt = &now
		sess.EndReason = reason
	}
	if err := s.CloseJournal(ctx, sess.ID, s.actorName(ctx, sess.ActorID)); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("audit journal close failed", zap.Int64("session_id", sess.ID), zap.Error(err))
		metrics.CaptureFailed(metrics.StageJournal)
	}
	return sess, nil
}

// ReapIdle closes open sessions idle for longer than the configured timeout
// and returns how many were closed.
func (s *Service) ReapIdle(ctx context.Context) (int, error) {
	if s.cfg.SessionIdleTimeout <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.SessionIdleTimeout)
	var idle []model.Session
	err := s.db.WithContext(ctx).
		Where("ended_at IS NULL AND last_activity_at < ?", cutoff).
		Find(&idle).Error
	if err != nil {
		return 0, fmt.Errorf("audit: find idle sessions: %w", err)
	}
	n := 0
	for i := range idle {
		if _, err := s.closeSession(ctx, &idle[i], EndExpired); err != nil {
			s.logger.Error("audit reap session failed", zap.Int64("session_id", idle[i].ID), zap.Error(err))
			continue
		}
		n++
		metrics.SessionsReapedTotal.Inc()
		s.revoke(ctx, idle[i].Token)
	}
	if n > 0 {
		s.logger.Info("audit idle sessions closed", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// revoke signs the token out so its next request must log in again.
func (s *Service) revoke(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cache.SessionKey(token)); err != nil {
		s.logger.Warn("audit token revoke failed", zap.Error(err))
	}
}

// actorName resolves the display name of a user for journal sentences.
func (s *Service) actorName(ctx context.Context, id *int64) string {
	if id == nil {
		return "Utilisateur anonyme"
	}
	var u model.User
	if err := s.db.WithContext(ctx).Select("id", "username", "first_name", "last_name").First(&u, *id).Error; err != nil {
		return fmt.Sprintf("Utilisateur #%d", *id)
	}
	return u.FullName()
}

// Sessions returns sessions started in [from, to], newest first.
func (s *Service) Sessions(ctx context.Context, actorID *int64, from, to time.Time, limit int) ([]model.Session, error) {
	q := s.db.WithContext(ctx).Where("started_at >= ? AND started_at <= ?", from, to)
	if actorID != nil {
		q = q.Where("actor_id = ?", *actorID)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	var out []model.Session
	if err := q.Order("started_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: list sessions: %w", err)
	}
	return out, nil
}

// CountOpenSessions returns the number of sessions not closed yet.
func (s *Service) CountOpenSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Session{}).Where("ended_at IS NULL").Count(&n).Error; err != nil {
		return 0, fmt.Errorf("audit: count sessions: %w", err)
	}
	return n, nil
}
