package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sgic-platform/sgic-audit/audit/dedup"
	"github.com/sgic-platform/sgic-audit/audit/narrative"
	"github.com/sgic-platform/sgic-audit/model"
)

func (s *Service) renderer(ctx context.Context) narrative.Renderer {
	return narrative.Renderer{Label: s.Labeler(ctx)}
}

// EntryReport renders the narrative report of one entry.
func (s *Service) EntryReport(ctx context.Context, id int64, ws narrative.Workstation) (*model.EventLog, string, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return e, s.renderer(ctx).RenderEntry(e, ws), nil
}

// EntriesReport merges the duplicates among the given entries and renders
// them as one session report.
func (s *Service) EntriesReport(ctx context.Context, ids []int64, ws narrative.Workstation) ([]dedup.Entry, string, error) {
	entries, err := s.GetMany(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	if len(entries) == 0 {
		return nil, "", ErrNotFound
	}
	merged := dedup.Deduplicate(entries, s.cfg.DedupWindow)
	return merged, s.renderer(ctx).RenderSession(flatten(merged), ws), nil
}

// SessionSummaries groups the entries matched by f into synthetic sessions,
// newest first.
func (s *Service) SessionSummaries(ctx context.Context, f Filter) ([]dedup.Summary, error) {
	entries, err := s.Entries(ctx, f)
	if err != nil {
		return nil, err
	}
	groups := dedup.GroupIntoSessions(entries, s.cfg.SessionGap)
	out := make([]dedup.Summary, 0, len(groups))
	for _, g := range groups {
		out = append(out, dedup.Summarize(g))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// SyntheticSession returns the entries of the synthetic session named id,
// within the entries matched by f. Grouping depends on the scope, so f must
// be the one the id was listed under.
func (s *Service) SyntheticSession(ctx context.Context, id string, f Filter) ([]model.EventLog, error) {
	actorID, start, err := ParseSessionID(id)
	if err != nil {
		return nil, err
	}
	if f.ActorID != nil && (actorID == nil || *actorID != *f.ActorID) {
		return nil, ErrNotFound
	}
	// stored timestamps compare as text, so match the writer's zone
	start = start.In(s.now().Location())
	f.From = &start
	entries, err := s.Entries(ctx, f)
	if err != nil {
		return nil, err
	}
	members := dedup.ByID(dedup.GroupIntoSessions(entries, s.cfg.SessionGap))[id]
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	return members, nil
}

// SessionReport merges and renders a synthetic session.
func (s *Service) SessionReport(ctx context.Context, id string, f Filter, ws narrative.Workstation) ([]dedup.Entry, string, error) {
	members, err := s.SyntheticSession(ctx, id, f)
	if err != nil {
		return nil, "", err
	}
	merged := dedup.Deduplicate(members, s.cfg.DedupWindow)
	return merged, s.renderer(ctx).RenderSession(flatten(merged), ws), nil
}

// ParseSessionID splits a synthetic session id into its actor (nil for
// "system") and first entry time.
func ParseSessionID(id string) (*int64, time.Time, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "session" {
		return nil, time.Time{}, fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}
	if parts[1] == "system" {
		return nil, time.Unix(ts, 0), nil
	}
	a, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}
	return &a, time.Unix(ts, 0), nil
}

func flatten(merged []dedup.Entry) []model.EventLog {
	out := make([]model.EventLog, len(merged))
	for i := range merged {
		out[i] = merged[i].EventLog
	}
	return out
}
