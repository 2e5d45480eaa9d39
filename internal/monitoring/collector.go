// Package monitoring watches run health and posts webhook alerts when
// failure rates, per-change errors or the review backlog cross thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/store"
)

// scanLimit bounds the rows read per check.
const scanLimit = 10000

// Snapshot holds a point-in-time view of sync health.
type Snapshot struct {
	// Runs started within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`
	Changed       int     `json:"changed"`
	ChangeErrors  int     `json:"change_errors"`

	// FailedTypes counts failed runs per record type.
	FailedTypes map[model.RecordType]int `json:"failed_types,omitempty"`

	PendingReviews int `json:"pending_reviews"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the read surface the collector needs.
type Source interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunLog, error)
	ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.src.ListRuns(ctx, store.RunFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		snap.Changed += r.Changed
		snap.ChangeErrors += r.Errors
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusFailed:
			snap.RunsFailed++
			if snap.FailedTypes == nil {
				snap.FailedTypes = make(map[model.RecordType]int)
			}
			snap.FailedTypes[r.RecordType]++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	pending, err := c.src.ListReviews(ctx, model.ReviewPending, scanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list reviews")
	}
	snap.PendingReviews = len(pending)

	return snap, nil
}
