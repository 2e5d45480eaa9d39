package reconcile

import (
	"context"
	"errors"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
)

// applyInspection comments on every ticket linked to the inspection's case.
func (d *Driver) applyInspection(ctx context.Context, ch model.Change) error {
	caseNo := ch.Record.Identity.CaseNumber
	ids, err := d.caseTickets(ctx, caseNo)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		d.log.Info("no tickets linked to case", zap.String("key", ch.Key), zap.String("case", caseNo))
		return nil
	}

	comment := inspectionComment(ch, d.cfg.Policy.SignatureField(model.RecordInspection))
	var errs []error
	for _, id := range ids {
		if err := d.tickets.AddComment(ctx, id, comment); err != nil {
			errs = append(errs, eris.Wrapf(err, "reconcile: comment on ticket %d", id))
			continue
		}
		metrics.Actions.WithLabelValues(string(model.RecordInspection), "comment").Inc()
	}
	return errors.Join(errs...)
}

// caseTickets unions tickets cached on the case's violations with tickets
// stamped with a key under the case prefix.
func (d *Driver) caseTickets(ctx context.Context, caseNo string) ([]int64, error) {
	set := make(map[int64]struct{})

	rows, err := d.store.StatesByCase(ctx, model.RecordViolation, caseNo)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: violations on case %s", caseNo)
	}
	for _, r := range rows {
		if r.HasTicket() {
			set[r.TicketID] = struct{}{}
		}
	}

	stamped, err := d.tickets.FindTicketsByExternalIDPrefix(ctx, model.CasePrefix(model.RecordViolation, caseNo))
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: tickets stamped for case %s", caseNo)
	}
	for _, t := range stamped {
		set[t.ID] = struct{}{}
	}

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
