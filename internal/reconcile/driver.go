// Package reconcile runs one ingestion batch against stored state and the
// ticketing system: initial bulk sync on an empty state table, otherwise
// diff and per-change actions, with every run recorded in the run log.
package reconcile

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/config"
	"github.com/sells-group/enforcement-sync/internal/diff"
	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/store"
	"github.com/sells-group/enforcement-sync/pkg/ticketing"
)

// Matcher resolves a violation to a ticket.
type Matcher interface {
	Match(ctx context.Context, rec *model.Record) (*model.MatchResult, error)
}

// Config holds the driver's operating settings.
type Config struct {
	DryRun      config.DryRunConfig
	CloseStepID int64
	Bulk        config.BulkConfig
	Policy      model.SyncPolicy
}

// Batch is one normalized attachment.
type Batch struct {
	Type    model.RecordType
	Records []*model.Record
	// RowCount is the raw row count including rows the normalizer skipped.
	// Zero means len(Records).
	RowCount    int
	Source      string
	IngestionID string
}

// Driver reconciles batches. Batches must not run concurrently for the same
// record type.
type Driver struct {
	store   store.StateStore
	tickets ticketing.Client
	matcher Matcher
	cfg     Config
	now     func() time.Time
	log     *zap.Logger
}

// NewDriver creates a Driver. matcher may be nil when violations are never
// synced.
func NewDriver(st store.StateStore, tickets ticketing.Client, matcher Matcher, cfg Config) *Driver {
	if cfg.Bulk.BatchSize <= 0 || cfg.Bulk.BatchSize > 1000 {
		cfg.Bulk.BatchSize = 1000
	}
	if cfg.Bulk.CallSize <= 0 || cfg.Bulk.CallSize > cfg.Bulk.BatchSize {
		cfg.Bulk.CallSize = min(100, cfg.Bulk.BatchSize)
	}
	if cfg.Policy.Validate() != nil {
		cfg.Policy = model.DefaultSyncPolicy()
	}
	return &Driver{
		store:   st,
		tickets: tickets,
		matcher: matcher,
		cfg:     cfg,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "reconcile")),
	}
}

// Run reconciles one batch. The run log row is always completed, with the
// error message and partial counts on failure, and the error is returned.
func (d *Driver) Run(ctx context.Context, b Batch) (summary *model.RunSummary, err error) {
	start := d.now()
	log := d.log.With(zap.String("record_type", string(b.Type)), zap.String("ingestion_id", b.IngestionID))

	total := b.RowCount
	if total == 0 {
		total = len(b.Records)
	}
	runID, err := d.store.StartRun(ctx, &model.RunLog{
		IngestionID: b.IngestionID,
		RecordType:  b.Type,
		Source:      b.Source,
		Status:      model.RunStatusRunning,
		StartedAt:   start.UTC(),
		Total:       total,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: start %s run", b.Type)
	}
	summary = &model.RunSummary{RunID: runID, Mode: model.RunModeIncremental, Total: total}

	defer func() {
		status := model.RunStatusCompleted
		if err != nil {
			status = model.RunStatusFailed
			summary.Error = err.Error()
		}
		if cerr := d.store.CompleteRun(context.WithoutCancel(ctx), *summary); cerr != nil {
			log.Error("failed to complete run log", zap.Int64("run_id", runID), zap.Error(cerr))
			if err == nil {
				err = eris.Wrap(cerr, "reconcile: complete run")
			}
		}
		metrics.Runs.WithLabelValues(string(b.Type), string(summary.Mode), string(status)).Inc()
		metrics.RunDuration.WithLabelValues(string(b.Type)).Observe(d.now().Sub(start).Seconds())
		log.Info("run finished",
			zap.Int64("run_id", runID),
			zap.String("mode", string(summary.Mode)),
			zap.String("status", string(status)),
			zap.Int("total", summary.Total),
			zap.Int("changed", summary.Changed),
			zap.Int("errors", summary.Errors),
		)
	}()

	count, err := d.store.CountState(ctx, b.Type)
	if err != nil {
		return summary, eris.Wrapf(err, "reconcile: count %s state", b.Type)
	}

	records := diff.Dedup(b.Records, d.cfg.Policy.SignatureField(b.Type))
	if dropped := len(b.Records) - len(records); dropped > 0 {
		log.Debug("dropped duplicate identity keys", zap.Int("dropped", dropped))
	}

	if count == 0 {
		summary.Mode = model.RunModeInitial
		return summary, d.initialSync(ctx, b.Type, records, summary)
	}
	return summary, d.incremental(ctx, b.Type, records, summary)
}

func (d *Driver) incremental(ctx context.Context, t model.RecordType, records []*model.Record, summary *model.RunSummary) error {
	changes, err := diff.Compute(ctx, d.store, t, records, d.cfg.Policy.SignatureField(t))
	if err != nil {
		return err
	}
	if t == model.RecordPermit && !d.dryRun(t) {
		unlinked, err := d.unlinkedPermits(ctx, records, changes)
		if err != nil {
			return err
		}
		if len(unlinked) > 0 {
			d.log.Info("retrying permits without a remote id", zap.Int("count", len(unlinked)))
			changes = append(changes, unlinked...)
			sort.SliceStable(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
		}
	}
	summary.Changed = len(changes)

	var tax *TaxonomyCache
	if t == model.RecordPermit {
		tax = NewTaxonomyCache(d.tickets)
	}

	var links []model.PermitLink
	for _, ch := range changes {
		kind := "updated"
		if ch.IsNew {
			kind = "new"
		}
		metrics.Changes.WithLabelValues(string(t), kind).Inc()

		link, err := d.dispatch(ctx, tax, ch)
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "reconcile: cancelled")
			}
			summary.Errors++
			metrics.ActionErrors.WithLabelValues(string(t)).Inc()
			d.log.Error("change failed", zap.String("key", ch.Key), zap.Error(err))
			continue
		}
		if link != nil {
			links = append(links, *link)
		}
	}

	if err := d.upsertAll(ctx, t, records); err != nil {
		return err
	}
	if err := d.store.SetPermitLinks(ctx, links); err != nil {
		return eris.Wrap(err, "reconcile: write permit links")
	}
	return nil
}

// dispatch applies the per-type action for one change. Dry-run is decided
// here and nowhere else.
func (d *Driver) dispatch(ctx context.Context, tax *TaxonomyCache, ch model.Change) (*model.PermitLink, error) {
	t := ch.Record.Type
	if d.dryRun(t) {
		d.log.Info("dry run: action skipped",
			zap.String("key", ch.Key),
			zap.Bool("new", ch.IsNew),
			zap.String("signature", ch.NewSignature),
		)
		return nil, nil
	}

	switch t {
	case model.RecordViolation:
		return nil, d.applyViolation(ctx, ch)
	case model.RecordInspection:
		return nil, d.applyInspection(ctx, ch)
	case model.RecordPermit:
		return d.applyPermit(ctx, tax, ch)
	default:
		return nil, eris.Errorf("reconcile: unknown record type %q", t)
	}
}

func (d *Driver) dryRun(t model.RecordType) bool {
	if t == model.RecordPermit {
		return d.cfg.DryRun.Permits
	}
	return d.cfg.DryRun.Tickets
}

// upsertAll refreshes state for the whole deduplicated batch.
func (d *Driver) upsertAll(ctx context.Context, t model.RecordType, records []*model.Record) error {
	sigField := d.cfg.Policy.SignatureField(t)
	seen := d.now().UTC()
	rows := make([]model.StateUpsert, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r.Fields)
		if err != nil {
			return eris.Wrapf(err, "reconcile: marshal %s", r.Key())
		}
		rows = append(rows, model.StateUpsert{
			Key:         r.Key(),
			Signature:   r.Signature(sigField),
			ContentHash: r.ContentHash,
			Payload:     payload,
			SeenAt:      seen,
		})
	}
	if err := d.store.UpsertStates(ctx, t, rows); err != nil {
		return eris.Wrapf(err, "reconcile: upsert %s state", t)
	}
	return nil
}
