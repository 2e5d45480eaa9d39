// Package store persists per-type record state, the run log, the review
// queue and the match log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enforcement-sync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	RecordType model.RecordType `json:"record_type,omitempty"`
	Status     model.RunStatus  `json:"status,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// StateStore owns state rows and the run log.
type StateStore interface {
	// CountState returns the number of state rows for a type. Zero means the
	// next ingestion is an initial sync.
	CountState(ctx context.Context, t model.RecordType) (int, error)
	// GetStates fetches the rows for keys in one query, keyed by identity key.
	GetStates(ctx context.Context, t model.RecordType, keys []string) (map[string]*model.StateRow, error)
	// UpsertStates refreshes signature, hash, payload and last-seen for every
	// row in one transaction. Linkage columns are left alone.
	UpsertStates(ctx context.Context, t model.RecordType, rows []model.StateUpsert) error
	// SetTicketLink caches a violation -> ticket match.
	SetTicketLink(ctx context.Context, link model.TicketLink) error
	// SetPermitLinks records external permit and taxonomy IDs.
	SetPermitLinks(ctx context.Context, links []model.PermitLink) error
	// StatesByCase returns every row of type t on a case, ordered by key.
	StatesByCase(ctx context.Context, t model.RecordType, caseNumber string) ([]model.StateRow, error)

	StartRun(ctx context.Context, run *model.RunLog) (int64, error)
	CompleteRun(ctx context.Context, summary model.RunSummary) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunLog, error)
}

// ReviewStore owns the review queue and the match log.
type ReviewStore interface {
	HasPendingReview(ctx context.Context, key string) (bool, error)
	// EnqueueReview inserts a pending item unless one is already pending for
	// the same key. It reports whether a row was inserted.
	EnqueueReview(ctx context.Context, item *model.ReviewItem) (bool, error)
	GetReview(ctx context.Context, id int64) (*model.ReviewItem, error)
	ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error)
	ResolveReview(ctx context.Context, id int64, ticketID int64, note string) error
	SkipReview(ctx context.Context, id int64, note string) error
	LogMatch(ctx context.Context, entry model.MatchLogEntry) error
	// MatchLogs returns the match attempts for a key, oldest first.
	MatchLogs(ctx context.Context, key string) ([]model.MatchLogEntry, error)
}

// Store is the full persistence surface used by the sync commands.
type Store interface {
	StateStore
	ReviewStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

type scannable interface {
	Scan(dest ...any) error
}

func stateTable(t model.RecordType) (string, error) {
	switch t {
	case model.RecordViolation, model.RecordInspection, model.RecordPermit:
		return t.StateTable(), nil
	default:
		return "", eris.Errorf("store: unknown record type %q", t)
	}
}

// stateColumns lists the columns selected for a type; scanState reads them
// in the same order.
func stateColumns(t model.RecordType) string {
	cols := "identity_key, signature, content_hash, last_seen_at, created_at"
	switch t {
	case model.RecordViolation:
		cols += ", ticket_id, match_method, match_confidence, matched_at"
	case model.RecordPermit:
		cols += ", permit_id, type_id, subtype_id, status_id"
	}
	return cols
}

func scanState(t model.RecordType, row scannable) (*model.StateRow, error) {
	var s model.StateRow
	var ticketID, permitID, typeID, subtypeID, statusID *int64
	var method, confidence *string

	dest := []any{&s.Key, &s.Signature, &s.ContentHash, &s.LastSeenAt, &s.CreatedAt}
	switch t {
	case model.RecordViolation:
		dest = append(dest, &ticketID, &method, &confidence, &s.MatchedAt)
	case model.RecordPermit:
		dest = append(dest, &permitID, &typeID, &subtypeID, &statusID)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	s.TicketID = deref(ticketID)
	s.MatchMethod = deref(method)
	s.MatchConfidence = deref(confidence)
	if t == model.RecordPermit {
		s.Permit = model.PermitLink{
			Key:       s.Key,
			PermitID:  deref(permitID),
			TypeID:    deref(typeID),
			SubtypeID: deref(subtypeID),
			StatusID:  deref(statusID),
		}
	}
	return &s, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// nullID maps the zero ID to NULL.
func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func runStatus(summary model.RunSummary) model.RunStatus {
	if summary.Error != "" {
		return model.RunStatusFailed
	}
	return model.RunStatusCompleted
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}
