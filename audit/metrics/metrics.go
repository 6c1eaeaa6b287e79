// Package metrics exposes Prometheus counters for the audit trail.
//
// Usage:
//
//	metrics.EntryWritten(model.ActionUpdate)
//	metrics.CaptureFailed(metrics.StageWrite)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capture stages used as the "stage" label.
const (
	StageReference = "reference"
	StageDescribe  = "describe"
	StageWrite     = "write"
	StageJournal   = "journal"
	StageSnapshot  = "snapshot"
	StageSession   = "session"
	StagePublish   = "publish"
	StagePanic     = "panic"
)

var (
	// EntriesWrittenTotal counts persisted audit entries by action kind.
	EntriesWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgic_audit_entries_written_total",
			Help: "Total number of audit entries written",
		},
		[]string{"action"},
	)

	// CaptureFailuresTotal counts swallowed capture failures by stage.
	CaptureFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgic_audit_capture_failures_total",
			Help: "Total number of audit capture failures, by stage",
		},
		[]string{"stage"},
	)

	// DuplicatesTotal counts near-duplicate captures by outcome
	// (suppressed or backfilled).
	DuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgic_audit_duplicates_total",
			Help: "Total number of near-duplicate captures",
		},
		[]string{"outcome"},
	)

	// ImmutabilityViolationsTotal counts refused updates of sealed entries.
	ImmutabilityViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sgic_audit_immutability_violations_total",
			Help: "Total number of refused updates to write-once audit entries",
		},
	)

	// JournalAppendsRefusedTotal counts appends to closed journals.
	JournalAppendsRefusedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sgic_audit_journal_appends_refused_total",
			Help: "Total number of narrative appends refused on closed journals",
		},
	)

	// SessionsReapedTotal counts sessions closed by the idle reaper.
	SessionsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sgic_audit_sessions_reaped_total",
			Help: "Total number of idle sessions closed",
		},
	)
)

// EntryWritten records a persisted entry.
func EntryWritten(action string) { EntriesWrittenTotal.WithLabelValues(action).Inc() }

// CaptureFailed records a swallowed failure.
func CaptureFailed(stage string) { CaptureFailuresTotal.WithLabelValues(stage).Inc() }

// DuplicateSuppressed records a skipped near-duplicate write.
func DuplicateSuppressed() { DuplicatesTotal.WithLabelValues("suppressed").Inc() }

// DuplicateBackfilled records a near-duplicate that filled an existing row.
func DuplicateBackfilled() { DuplicatesTotal.WithLabelValues("backfilled").Inc() }
