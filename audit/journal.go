package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sgic-platform/sgic-audit/audit/metrics"
	"github.com/sgic-platform/sgic-audit/audit/narrative"
	"github.com/sgic-platform/sgic-audit/audit/useragent"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpenJournal returns the journal of sess, creating it with the connection
// sentence when missing.
func (s *Service) OpenJournal(ctx context.Context, sess *model.Session, actorName string) (*model.Journal, error) {
	j, err := s.Journal(ctx, sess.ID)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if actorName == "" {
		actorName = s.actorName(ctx, sess.ActorID)
	}
	ua := useragent.Parse(sess.UserAgent)
	j = &model.Journal{
		SessionID: sess.ID,
		ActorID:   sess.ActorID,
		StartedAt: sess.StartedAt,
		Narrative: narrative.ConnectionSentence(actorName, sess.StartedAt),
		IPAddress: sess.IPAddress,
		UserAgent: sess.UserAgent,
		Browser:   ua.BrowserLabel(),
		OS:        ua.OSLabel(),
	}
	// a concurrent opener may have created it first
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(j)
	if res.Error != nil {
		return nil, fmt.Errorf("audit: create journal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.Journal(ctx, sess.ID)
	}
	return j, nil
}

// Journal returns the journal of a session.
func (s *Service) Journal(ctx context.Context, sessionID int64) (*model.Journal, error) {
	var j model.Journal
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: get journal: %w", err)
	}
	return &j, nil
}

// AppendNarrative adds one sentence to an open journal, creating the journal
// if the session never got one. It returns ErrJournalClosed, with the text
// left unchanged, once the journal is sealed.
func (s *Service) AppendNarrative(ctx context.Context, sessionID int64, sentence string) error {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return nil
	}
	j, err := s.Journal(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		j, err = s.lazyJournal(ctx, sessionID)
	}
	if err != nil {
		return err
	}
	if j.Closed {
		return s.refuseAppend(sessionID)
	}

	res := s.db.WithContext(ctx).Model(&model.Journal{}).
		Where("id = ? AND closed = ?", j.ID, false).
		Updates(map[string]interface{}{"narrative": s.concat("narrative", "\n"+sentence)})
	if res.Error != nil {
		return fmt.Errorf("audit: append narrative: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// closed between the read and the write
		return s.refuseAppend(sessionID)
	}
	return nil
}

// Enrich appends an action sentence built from a coarse action label and
// free-form details.
func (s *Service) Enrich(ctx context.Context, sessionID int64, actionType, details string) error {
	return s.AppendNarrative(ctx, sessionID, narrative.ActionSentence(s.now(), actionType, details))
}

func (s *Service) refuseAppend(sessionID int64) error {
	s.logger.Warn("audit append to closed journal refused", zap.Int64("session_id", sessionID))
	metrics.JournalAppendsRefusedTotal.Inc()
	return ErrJournalClosed
}

func (s *Service) lazyJournal(ctx context.Context, sessionID int64) (*model.Journal, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).First(&sess, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: find session: %w", err)
	}
	return s.OpenJournal(ctx, &sess, "")
}

// CloseJournal appends the disconnection sentence and seals the journal.
// Closing a sealed journal is a no-op.
func (s *Service) CloseJournal(ctx context.Context, sessionID int64, actorName string) error {
	j, err := s.Journal(ctx, sessionID)
	if err != nil {
		return err
	}
	if j.Closed {
		return nil
	}
	now := s.now()
	err = s.db.WithContext(ctx).Model(&model.Journal{}).
		Where("id = ? AND closed = ?", j.ID, false).
		Updates(map[string]interface{}{
			"narrative": s.concat("narrative", "\n"+narrative.DisconnectionSentence(actorName, now)),
			"closed":    true,
			"ended_at":  now,
		}).Error
	if err != nil {
		return fmt.Errorf("audit: close journal: %w", err)
	}
	return nil
}

// concat appends text to a text column in one statement.
func (s *Service) concat(column, text string) clause.Expr {
	if s.db.Dialector.Name() == "mysql" {
		return gorm.Expr("CONCAT(COALESCE("+column+", ''), ?)", text)
	}
	return gorm.Expr("COALESCE("+column+", '') || ?", text)
}
