// Package dedup reconciles a flat stream of audit entries after the fact:
// it merges near-duplicates and partitions the stream into logical sessions.
// Nothing here touches the database.
package dedup

import (
	"sort"
	"strconv"
	"time"

	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/model"
)

// Entry is a merged audit record.
type Entry struct {
	model.EventLog
	OccurrenceCount int               `json:"occurrence_count"`
	MergedIDs       []int64           `json:"merged_ids"`
	Before          snapshot.Snapshot `json:"before"`
	After           snapshot.Snapshot `json:"after"`
}

// timeOf treats a missing timestamp as now.
func timeOf(e *model.EventLog, now time.Time) time.Time {
	if e.CreatedAt.IsZero() {
		return now
	}
	return e.CreatedAt
}

func sameActor(a, b *model.EventLog) bool {
	if a.ActorID == nil || b.ActorID == nil {
		return a.ActorID == nil && b.ActorID == nil
	}
	return *a.ActorID == *b.ActorID
}

// IsDuplicate reports whether a and b record the same logical action: same
// actor, action, resource and endpoint, no more than window apart.
func IsDuplicate(a, b *model.EventLog, window time.Duration) bool {
	return isDuplicate(a, b, window, time.Now())
}

func isDuplicate(a, b *model.EventLog, window time.Duration, now time.Time) bool {
	if !sameActor(a, b) || a.Action != b.Action || a.Endpoint != b.Endpoint {
		return false
	}
	at, aid := a.ResourceKey()
	bt, bid := b.ResourceKey()
	if at != bt || aid != bid {
		return false
	}
	d := timeOf(a, now).Sub(timeOf(b, now))
	if d < 0 {
		d = -d
	}
	return d <= window
}

// sortByTime returns a time-ordered copy of entries.
func sortByTime(entries []model.EventLog, now time.Time) []model.EventLog {
	sorted := make([]model.EventLog, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return timeOf(&sorted[i], now).Before(timeOf(&sorted[j], now))
	})
	return sorted
}

// Deduplicate merges duplicates into one entry each. A merged entry carries
// the union of before/after keys, the latest timestamp, an occurrence count
// and the AND of all success flags. The result is time-ordered.
func Deduplicate(entries []model.EventLog, window time.Duration) []Entry {
	now := time.Now()
	sorted := sortByTime(entries, now)

	var out []Entry
	// last holds the most recent raw member of each merged entry.
	var last []model.EventLog
	for _, e := range sorted {
		merged := false
		for i := len(out) - 1; i >= 0; i-- {
			if isDuplicate(&last[i], &e, window, now) {
				absorb(&out[i], e)
				last[i] = e
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		out = append(out, Entry{
			EventLog:        e,
			OccurrenceCount: 1,
			MergedIDs:       []int64{e.ID},
			Before:          snapshot.MustDecode(e.BeforeState),
			After:           snapshot.MustDecode(e.AfterState),
		})
		last = append(last, e)
	}
	for i := range out {
		if out[i].OccurrenceCount > 1 {
			out[i].BeforeState, _ = snapshot.Encode(out[i].Before)
			out[i].AfterState, _ = snapshot.Encode(out[i].After)
		}
	}
	return out
}

func absorb(dst *Entry, e model.EventLog) {
	dst.OccurrenceCount++
	dst.MergedIDs = append(dst.MergedIDs, e.ID)
	dst.Before = snapshot.Merge(dst.Before, snapshot.MustDecode(e.BeforeState))
	dst.After = snapshot.Merge(dst.After, snapshot.MustDecode(e.AfterState))
	dst.Success = dst.Success && e.Success
	if e.CreatedAt.After(dst.CreatedAt) || e.CreatedAt.IsZero() {
		dst.CreatedAt = e.CreatedAt
	}
	if dst.ErrorMessage == "" {
		dst.ErrorMessage = e.ErrorMessage
	}
}

// Group is one synthetic session.
type Group struct {
	ID      string           `json:"id"`
	Entries []model.EventLog `json:"entries"`
}

// GroupIntoSessions partitions entries into sessions. A new session starts on
// an actor change, an IP change, or a gap longer than gap since the previous
// entry. Groups and their members are time-ordered.
func GroupIntoSessions(entries []model.EventLog, gap time.Duration) []Group {
	now := time.Now()
	sorted := sortByTime(entries, now)

	var groups []Group
	var prev *model.EventLog
	for i := range sorted {
		e := &sorted[i]
		if prev == nil || !sameActor(prev, e) || prev.IPAddress != e.IPAddress ||
			timeOf(e, now).Sub(timeOf(prev, now)) > gap {
			groups = append(groups, Group{ID: SessionID(e, timeOf(e, now))})
		}
		g := &groups[len(groups)-1]
		g.Entries = append(g.Entries, *e)
		prev = e
	}
	return groups
}

// SessionID names a synthetic session after its actor and first entry.
func SessionID(first *model.EventLog, at time.Time) string {
	actor := "system"
	if first.ActorID != nil {
		actor = strconv.FormatInt(*first.ActorID, 10)
	}
	return "session_" + actor + "_" + strconv.FormatInt(at.Unix(), 10)
}

// ByID indexes groups by their synthetic id.
func ByID(groups []Group) map[string][]model.EventLog {
	m := make(map[string][]model.EventLog, len(groups))
	for _, g := range groups {
		m[g.ID] = append(m[g.ID], g.Entries...)
	}
	return m
}

// Summary describes one synthetic session for list views.
type Summary struct {
	ID         string                   `json:"id"`
	ActorID    *int64                   `json:"actor_id"`
	ActorName  string                   `json:"actor_name"`
	ActorRole  string                   `json:"actor_role"`
	IPAddress  string                   `json:"ip_address"`
	Browser    string                   `json:"browser"`
	StartedAt  time.Time                `json:"started_at"`
	EndedAt    time.Time                `json:"ended_at"`
	Duration   time.Duration            `json:"duration_ns"`
	EntryCount int                      `json:"entry_count"`
	Failures   int                      `json:"failures"`
	Actions    map[model.ActionKind]int `json:"actions"`
	EntryIDs   []int64                  `json:"entry_ids"`
}

// Summarize reduces a group to its summary.
func Summarize(g Group) Summary {
	s := Summary{ID: g.ID, Actions: map[model.ActionKind]int{}}
	if len(g.Entries) == 0 {
		return s
	}
	first, last := g.Entries[0], g.Entries[len(g.Entries)-1]
	s.ActorID = first.ActorID
	s.ActorName = first.ActorName
	s.ActorRole = first.ActorRole
	s.IPAddress = first.IPAddress
	s.Browser = first.Browser
	s.StartedAt = first.CreatedAt
	s.EndedAt = last.CreatedAt
	if !s.StartedAt.IsZero() && !s.EndedAt.IsZero() {
		s.Duration = s.EndedAt.Sub(s.StartedAt)
	}
	s.EntryCount = len(g.Entries)
	for _, e := range g.Entries {
		s.Actions[e.Action]++
		if !e.Success {
			s.Failures++
		}
		s.EntryIDs = append(s.EntryIDs, e.ID)
	}
	return s
}
