package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/resilience"
	"github.com/sells-group/enforcement-sync/pkg/ticketing"
)

// maxPermitAttempts bounds create/update retries after a stale taxonomy
// reference: one attempt plus one refresh-and-retry.
const maxPermitAttempts = 2

// maxConcurrentCalls bounds in-flight bulk create calls per processing batch.
const maxConcurrentCalls = 10

func toPermit(r *model.Record, ids TaxonomyIDs) ticketing.Permit {
	return ticketing.Permit{
		Number:      r.Identity.PermitNumber,
		TypeID:      ids.TypeID,
		SubtypeID:   ids.SubtypeID,
		StatusID:    ids.StatusID,
		Address:     r.Field(model.FieldAddress),
		Description: r.Field(model.FieldDescription),
		AppliedAt:   r.Field(model.FieldAppliedDate),
		IssuedAt:    r.Field(model.FieldIssuedDate),
		ExpiresAt:   r.Field(model.FieldExpiresDate),
		Valuation:   r.Field(model.FieldValuation),
		Contractor:  r.Field(model.FieldContractor),
		ExternalID:  r.Key(),
	}
}

func resolveTaxonomy(ctx context.Context, tax *TaxonomyCache, r *model.Record) (TaxonomyIDs, error) {
	return tax.Resolve(ctx, r.Field(model.FieldPermitType), r.Field(model.FieldPermitSubtype), r.Field(model.FieldStatus))
}

// applyPermit creates or updates the permit. A stale taxonomy reference
// invalidates the cache and retries once.
func (d *Driver) applyPermit(ctx context.Context, tax *TaxonomyCache, ch model.Change) (*model.PermitLink, error) {
	var lastErr error
	for attempt := 1; attempt <= maxPermitAttempts; attempt++ {
		link, err := d.upsertPermit(ctx, tax, ch)
		if err == nil {
			return link, nil
		}
		lastErr = err
		if !ticketing.IsStaleReference(err) {
			break
		}
		d.log.Warn("stale permit taxonomy, refreshing",
			zap.String("key", ch.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		tax.Invalidate()
	}
	return nil, lastErr
}

func (d *Driver) upsertPermit(ctx context.Context, tax *TaxonomyCache, ch model.Change) (*model.PermitLink, error) {
	ids, err := resolveTaxonomy(ctx, tax, ch.Record)
	if err != nil {
		return nil, err
	}
	p := toPermit(ch.Record, ids)

	var permitID int64
	if ch.Prior != nil {
		permitID = ch.Prior.Permit.PermitID
	}
	if permitID == 0 {
		existing, err := d.tickets.GetPermit(ctx, p.Number)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: look up permit %s", p.Number)
		}
		if existing != nil {
			permitID = existing.ID
		}
	}

	if permitID != 0 {
		if err := d.tickets.UpdatePermit(ctx, permitID, p); err != nil {
			return nil, eris.Wrapf(err, "reconcile: update permit %s", p.Number)
		}
		metrics.Actions.WithLabelValues(string(model.RecordPermit), "update").Inc()
	} else {
		if permitID, err = d.tickets.CreatePermit(ctx, p); err != nil {
			return nil, eris.Wrapf(err, "reconcile: create permit %s", p.Number)
		}
		metrics.Actions.WithLabelValues(string(model.RecordPermit), "create").Inc()
	}

	return &model.PermitLink{
		Key:       ch.Key,
		PermitID:  permitID,
		TypeID:    ids.TypeID,
		SubtypeID: ids.SubtypeID,
		StatusID:  ids.StatusID,
	}, nil
}

// unlinkedPermits returns changes for unchanged permits whose state row has
// no permit ID yet, such as items a bulk create rejected. They are retried
// on every ingestion until a create or update succeeds.
func (d *Driver) unlinkedPermits(ctx context.Context, records []*model.Record, changes []model.Change) ([]model.Change, error) {
	changed := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		changed[ch.Key] = struct{}{}
	}
	byKey := make(map[string]*model.Record, len(records))
	keys := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := changed[r.Key()]; ok {
			continue
		}
		byKey[r.Key()] = r
		keys = append(keys, r.Key())
	}
	if len(keys) == 0 {
		return nil, nil
	}

	states, err := d.store.GetStates(ctx, model.RecordPermit, keys)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: fetch unlinked permits")
	}
	sigField := d.cfg.Policy.SignatureField(model.RecordPermit)
	var out []model.Change
	for _, k := range keys {
		prior, ok := states[k]
		if !ok || prior.Permit.PermitID != 0 {
			continue
		}
		prev := prior.Signature
		out = append(out, model.Change{
			Key:           k,
			Record:        byKey[k],
			PrevSignature: &prev,
			NewSignature:  byKey[k].Signature(sigField),
			Prior:         prior,
		})
	}
	return out, nil
}

// initialSync populates state for the whole batch. Permits are also
// bulk-created; violations and inspections are state-only.
func (d *Driver) initialSync(ctx context.Context, t model.RecordType, records []*model.Record, summary *model.RunSummary) error {
	d.log.Info("initial sync", zap.String("record_type", string(t)), zap.Int("records", len(records)))

	if err := d.upsertAll(ctx, t, records); err != nil {
		return err
	}
	if t != model.RecordPermit {
		return nil
	}
	if d.dryRun(t) {
		d.log.Info("dry run: bulk permit create skipped", zap.Int("records", len(records)))
		return nil
	}

	res, err := d.bulkCreatePermits(ctx, records)
	summary.Changed = res.created
	summary.Errors = res.failed
	if err != nil {
		return err
	}
	if err := d.store.SetPermitLinks(ctx, res.links); err != nil {
		return eris.Wrap(err, "reconcile: write permit links")
	}
	return nil
}

type bulkOutcome struct {
	created int
	failed  int
	links   []model.PermitLink
}

// bulkCreatePermits creates permits in sequential processing batches, each
// split into API calls issued concurrently. Failures are counted per item
// and never stop later batches.
func (d *Driver) bulkCreatePermits(ctx context.Context, records []*model.Record) (bulkOutcome, error) {
	var out bulkOutcome
	tax := NewTaxonomyCache(d.tickets)
	size := d.cfg.Bulk.BatchSize
	delay := time.Duration(d.cfg.Bulk.BatchDelayMs) * time.Millisecond

	for start := 0; start < len(records); start += size {
		if start > 0 {
			if err := resilience.Sleep(ctx, delay); err != nil {
				return out, eris.Wrap(err, "reconcile: bulk create cancelled")
			}
		}
		end := min(start+size, len(records))
		batch := d.bulkBatch(ctx, tax, records[start:end])

		out.created += batch.created
		out.failed += batch.failed
		out.links = append(out.links, batch.links...)
		d.log.Info("bulk permit batch done",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("created", batch.created),
			zap.Int("failed", batch.failed),
		)
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "reconcile: bulk create cancelled")
		}
	}
	return out, nil
}

type bulkItem struct {
	rec    *model.Record
	ids    TaxonomyIDs
	permit ticketing.Permit
}

func (d *Driver) bulkBatch(ctx context.Context, tax *TaxonomyCache, records []*model.Record) bulkOutcome {
	var out bulkOutcome

	items := make([]bulkItem, 0, len(records))
	for _, r := range records {
		ids, err := resolveTaxonomy(ctx, tax, r)
		if err != nil {
			out.failed++
			d.log.Error("permit taxonomy failed", zap.String("key", r.Key()), zap.Error(err))
			continue
		}
		items = append(items, bulkItem{rec: r, ids: ids, permit: toPermit(r, ids)})
	}

	callSize := d.cfg.Bulk.CallSize
	var chunks [][]bulkItem
	for i := 0; i < len(items); i += callSize {
		chunks = append(chunks, items[i:min(i+callSize, len(items))])
	}
	results := make([][]ticketing.BulkResult, len(chunks))
	callErrs := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(maxConcurrentCalls)
	for i, chunk := range chunks {
		g.Go(func() error {
			permits := make([]ticketing.Permit, len(chunk))
			for j := range chunk {
				permits[j] = chunk[j].permit
			}
			results[i], callErrs[i] = d.tickets.BulkCreatePermits(ctx, permits)
			return nil
		})
	}
	_ = g.Wait()

	for i, chunk := range chunks {
		if callErrs[i] != nil {
			out.failed += len(chunk)
			d.log.Error("bulk create call failed", zap.Int("items", len(chunk)), zap.Error(callErrs[i]))
			continue
		}
		for j, item := range chunk {
			r := ticketing.BulkResult{Error: "missing from bulk response"}
			if j < len(results[i]) {
				r = results[i][j]
			}
			if !r.Success {
				out.failed++
				d.log.Warn("bulk create item failed",
					zap.String("key", item.rec.Key()),
					zap.String("error", r.Error),
				)
				continue
			}
			out.created++
			out.links = append(out.links, model.PermitLink{
				Key:       item.rec.Key(),
				PermitID:  r.ID,
				TypeID:    item.ids.TypeID,
				SubtypeID: item.ids.SubtypeID,
				StatusID:  item.ids.StatusID,
			})
		}
	}
	metrics.Actions.WithLabelValues(string(model.RecordPermit), "bulk_create").Add(float64(out.created))
	return out
}
