package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
)

// applyViolation closes the linked ticket when the status enters the closing
// set and comments otherwise. New violations are state-only.
func (d *Driver) applyViolation(ctx context.Context, ch model.Change) error {
	if ch.IsNew {
		return nil
	}
	if d.matcher == nil {
		return eris.New("reconcile: no matcher configured for violations")
	}

	res, err := d.matcher.Match(ctx, ch.Record)
	if err != nil {
		return eris.Wrapf(err, "reconcile: match %s", ch.Key)
	}
	if !res.Matched() {
		d.log.Info("no ticket for violation",
			zap.String("key", ch.Key),
			zap.Bool("needs_review", res.NeedsReview),
			zap.String("reason", string(res.Reason)),
		)
		return nil
	}

	if d.cfg.Policy.IsClosing(ch.Record.Field(model.FieldStatus)) {
		if err := d.tickets.ChangeTicketStatus(ctx, res.TicketID, d.cfg.CloseStepID, closeComment(ch)); err != nil {
			return eris.Wrapf(err, "reconcile: close ticket %d", res.TicketID)
		}
		metrics.Actions.WithLabelValues(string(model.RecordViolation), "close").Inc()
		d.log.Info("closed ticket", zap.String("key", ch.Key), zap.Int64("ticket_id", res.TicketID))
		return nil
	}

	comment := violationComment(ch, d.cfg.Policy.SignatureField(model.RecordViolation))
	if err := d.tickets.AddComment(ctx, res.TicketID, comment); err != nil {
		return eris.Wrapf(err, "reconcile: comment on ticket %d", res.TicketID)
	}
	metrics.Actions.WithLabelValues(string(model.RecordViolation), "comment").Inc()
	return nil
}
