// Package matcher links violation records to tickets in the ticketing
// system: cached linkage, then an identity-key stamp lookup, then an optional
// geographic + language-model heuristic, with a manual review queue behind it.
package matcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/config"
	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/pkg/anthropic"
	"github.com/sells-group/enforcement-sync/pkg/geocode"
	"github.com/sells-group/enforcement-sync/pkg/ticketing"
)

// ErrReviewClosed is returned when resolving a review that is no longer pending.
var ErrReviewClosed = eris.New("matcher: review is not pending")

// Store is the persistence the matcher needs.
type Store interface {
	GetStates(ctx context.Context, t model.RecordType, keys []string) (map[string]*model.StateRow, error)
	SetTicketLink(ctx context.Context, link model.TicketLink) error
	HasPendingReview(ctx context.Context, key string) (bool, error)
	EnqueueReview(ctx context.Context, item *model.ReviewItem) (bool, error)
	GetReview(ctx context.Context, id int64) (*model.ReviewItem, error)
	ResolveReview(ctx context.Context, id int64, ticketID int64, note string) error
	LogMatch(ctx context.Context, entry model.MatchLogEntry) error
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithHeuristic enables the geographic + classifier tier. It only runs when
// matching is enabled in config and both clients are set.
func WithHeuristic(geo geocode.Client, llm anthropic.Client) Option {
	return func(m *Matcher) {
		m.geo = geo
		m.llm = llm
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		m.now = now
	}
}

// Matcher resolves violation -> ticket linkage.
type Matcher struct {
	store   Store
	tickets ticketing.Client
	geo     geocode.Client
	llm     anthropic.Client
	cfg     config.MatchingConfig
	schema  *jsonschema.Schema
	now     func() time.Time
	log     *zap.Logger
}

// New creates a Matcher.
func New(st Store, tickets ticketing.Client, cfg config.MatchingConfig, opts ...Option) (*Matcher, error) {
	schema, err := compileResponseSchema()
	if err != nil {
		return nil, err
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = 150
	}
	m := &Matcher{
		store:   st,
		tickets: tickets,
		cfg:     cfg,
		schema:  schema,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "matcher")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Matcher) heuristicEnabled() bool {
	return m.cfg.Enabled && m.geo != nil && m.llm != nil
}

// Match resolves a violation to a ticket. The first tier that produces a
// ticket wins. Ambiguity routes to the review queue and is not an error;
// errors are store or gateway failures.
func (m *Matcher) Match(ctx context.Context, rec *model.Record) (*model.MatchResult, error) {
	if rec == nil || rec.Type != model.RecordViolation {
		return nil, eris.New("matcher: only violations can be matched")
	}
	key := rec.Key()

	states, err := m.store.GetStates(ctx, model.RecordViolation, []string{key})
	if err != nil {
		return nil, eris.Wrap(err, "matcher: load cached linkage")
	}
	if row := states[key]; row.HasTicket() {
		return m.done(&model.MatchResult{
			TicketID:   row.TicketID,
			Method:     model.MatchCached,
			Confidence: model.Confidence(row.MatchConfidence),
		}), nil
	}

	tk, err := m.tickets.FindTicketByExternalID(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: external id lookup")
	}
	if tk != nil {
		if err := m.link(ctx, key, tk.ID, model.MatchExternalID, ""); err != nil {
			return nil, err
		}
		m.log.Debug("matched by external id", zap.String("key", key), zap.Int64("ticket_id", tk.ID))
		return m.done(&model.MatchResult{TicketID: tk.ID, Method: model.MatchExternalID}), nil
	}

	if !m.heuristicEnabled() {
		return m.done(&model.MatchResult{Method: model.MatchNone}), nil
	}
	res, err := m.heuristic(ctx, rec)
	if err != nil {
		return nil, err
	}
	return m.done(res), nil
}

func (m *Matcher) done(res *model.MatchResult) *model.MatchResult {
	metrics.MatchOutcomes.WithLabelValues(string(res.Method)).Inc()
	return res
}

func (m *Matcher) link(ctx context.Context, key string, ticketID int64, method model.MatchMethod, conf model.Confidence) error {
	err := m.store.SetTicketLink(ctx, model.TicketLink{
		Key:        key,
		TicketID:   ticketID,
		Method:     method,
		Confidence: conf,
		MatchedAt:  m.now().UTC(),
	})
	if err != nil {
		return eris.Wrapf(err, "matcher: cache %s match", method)
	}
	return nil
}

// stamp writes the identity key onto the ticket. Failure is logged only; the
// local linkage already holds the match.
func (m *Matcher) stamp(ctx context.Context, key string, ticketID int64) {
	if err := m.tickets.SetExternalID(ctx, ticketID, key); err != nil {
		m.log.Warn("failed to stamp ticket",
			zap.String("key", key),
			zap.Int64("ticket_id", ticketID),
			zap.Error(err),
		)
	}
}

// review queues rec unless a pending entry already exists for its key.
func (m *Matcher) review(ctx context.Context, rec *model.Record, reason model.ReviewReason, cands []model.Candidate) (*model.MatchResult, error) {
	res := &model.MatchResult{Method: model.MatchNone, NeedsReview: true, Reason: reason}
	key := rec.Key()

	pending, err := m.store.HasPendingReview(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: check pending review")
	}
	if pending {
		m.log.Debug("review already pending", zap.String("key", key), zap.String("reason", string(reason)))
		return res, nil
	}

	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: marshal review payload")
	}
	inserted, err := m.store.EnqueueReview(ctx, &model.ReviewItem{
		Key:        key,
		Payload:    payload,
		Candidates: cands,
		Reason:     reason,
		Status:     model.ReviewPending,
	})
	if err != nil {
		return nil, eris.Wrap(err, "matcher: enqueue review")
	}
	if inserted {
		metrics.ReviewsEnqueued.WithLabelValues(string(reason)).Inc()
		m.log.Info("queued for review", zap.String("key", key), zap.String("reason", string(reason)))
	}
	return res, nil
}

// Resolve applies a manual decision from the review queue: the item is
// marked resolved, the linkage cached with method manual and the ticket
// stamped.
func (m *Matcher) Resolve(ctx context.Context, reviewID, ticketID int64, note string) (*model.ReviewItem, error) {
	if ticketID <= 0 {
		return nil, eris.New("matcher: ticket id is required")
	}
	item, err := m.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, eris.Wrapf(err, "matcher: load review %d", reviewID)
	}
	if item.Status != model.ReviewPending {
		return nil, eris.Wrapf(ErrReviewClosed, "matcher: review %d is %s", reviewID, item.Status)
	}
	if err := m.store.ResolveReview(ctx, reviewID, ticketID, note); err != nil {
		return nil, eris.Wrapf(err, "matcher: resolve review %d", reviewID)
	}
	if err := m.link(ctx, item.Key, ticketID, model.MatchManual, ""); err != nil {
		return nil, err
	}
	m.stamp(ctx, item.Key, ticketID)
	m.done(&model.MatchResult{TicketID: ticketID, Method: model.MatchManual})

	item.Status = model.ReviewResolved
	item.ResolvedTicketID = ticketID
	item.ResolutionNote = note
	return item, nil
}
