package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enforcement-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// local dry runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; SQLite serializes anyway and this keeps pragmas per-connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS violation_state (
	identity_key     TEXT PRIMARY KEY,
	signature        TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL DEFAULT '',
	payload          TEXT,
	last_seen_at     DATETIME NOT NULL,
	created_at       DATETIME NOT NULL,
	ticket_id        INTEGER,
	match_method     TEXT,
	match_confidence TEXT,
	matched_at       DATETIME
);

CREATE TABLE IF NOT EXISTS inspection_state (
	identity_key TEXT PRIMARY KEY,
	signature    TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	payload      TEXT,
	last_seen_at DATETIME NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS permit_state (
	identity_key TEXT PRIMARY KEY,
	signature    TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	payload      TEXT,
	last_seen_at DATETIME NOT NULL,
	created_at   DATETIME NOT NULL,
	permit_id    INTEGER,
	type_id      INTEGER,
	subtype_id   INTEGER,
	status_id    INTEGER
);

CREATE TABLE IF NOT EXISTS run_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ingestion_id TEXT NOT NULL DEFAULT '',
	record_type  TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	total        INTEGER NOT NULL DEFAULT 0,
	changed      INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE TABLE IF NOT EXISTS review_queue (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_key       TEXT NOT NULL,
	payload            TEXT,
	candidates         TEXT,
	reason             TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved', 'skipped')),
	resolved_ticket_id INTEGER,
	resolution_note    TEXT,
	created_at         DATETIME NOT NULL,
	resolved_at        DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_queue_pending_key ON review_queue(identity_key) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS match_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_key       TEXT NOT NULL,
	method             TEXT NOT NULL,
	candidate_count    INTEGER NOT NULL DEFAULT 0,
	selected_ticket_id INTEGER,
	confidence         TEXT,
	reasoning          TEXT,
	model              TEXT,
	input_tokens       INTEGER NOT NULL DEFAULT 0,
	output_tokens      INTEGER NOT NULL DEFAULT 0,
	cost_usd           REAL NOT NULL DEFAULT 0,
	duration_ms        INTEGER NOT NULL DEFAULT 0,
	error              TEXT,
	created_at         DATETIME NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- State ---

func (s *SQLiteStore) CountState(ctx context.Context, t model.RecordType) (int, error) {
	table, err := stateTable(t)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", table)
	}
	return n, nil
}

// sqliteMaxVars keeps IN lists under SQLite's bound-parameter limit.
const sqliteMaxVars = 900

func (s *SQLiteStore) GetStates(ctx context.Context, t model.RecordType, keys []string) (map[string]*model.StateRow, error) {
	table, err := stateTable(t)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.StateRow, len(keys))

	for start := 0; start < len(keys); start += sqliteMaxVars {
		end := min(start+sqliteMaxVars, len(keys))
		chunk := keys[start:end]

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		query := fmt.Sprintf("SELECT %s FROM %s WHERE identity_key IN (%s)", stateColumns(t), table, placeholders(len(chunk)))

		if err := s.scanStates(ctx, t, query, args, func(row *model.StateRow) {
			out[row.Key] = row
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) scanStates(ctx context.Context, t model.RecordType, query string, args []any, fn func(*model.StateRow)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: query %s", t.StateTable())
	}
	defer rows.Close()

	for rows.Next() {
		row, err := scanState(t, rows)
		if err != nil {
			return eris.Wrapf(err, "sqlite: scan %s", t.StateTable())
		}
		fn(row)
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate states")
}

func (s *SQLiteStore) UpsertStates(ctx context.Context, t model.RecordType, rows []model.StateUpsert) error {
	table, err := stateTable(t)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert states: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (identity_key, signature, content_hash, payload, last_seen_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity_key) DO UPDATE SET
		   signature = excluded.signature,
		   content_hash = excluded.content_hash,
		   payload = excluded.payload,
		   last_seen_at = excluded.last_seen_at`, table))
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert states: prepare")
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Key, r.Signature, r.ContentHash, payloadJSON(r.Payload), r.SeenAt.UTC(), r.SeenAt.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: upsert %s %s", table, r.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: upsert states: commit")
}

func (s *SQLiteStore) SetTicketLink(ctx context.Context, link model.TicketLink) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO violation_state (identity_key, last_seen_at, created_at, ticket_id, match_method, match_confidence, matched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity_key) DO UPDATE SET
		   ticket_id = excluded.ticket_id,
		   match_method = excluded.match_method,
		   match_confidence = excluded.match_confidence,
		   matched_at = excluded.matched_at`,
		link.Key, now, now, link.TicketID, string(link.Method), nullString(string(link.Confidence)), link.MatchedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: set ticket link %s", link.Key)
}

func (s *SQLiteStore) SetPermitLinks(ctx context.Context, links []model.PermitLink) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: set permit links: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, l := range links {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO permit_state (identity_key, last_seen_at, created_at, permit_id, type_id, subtype_id, status_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(identity_key) DO UPDATE SET
			   permit_id = COALESCE(excluded.permit_id, permit_state.permit_id),
			   type_id = COALESCE(excluded.type_id, permit_state.type_id),
			   subtype_id = COALESCE(excluded.subtype_id, permit_state.subtype_id),
			   status_id = COALESCE(excluded.status_id, permit_state.status_id)`,
			l.Key, now, now, nullID(l.PermitID), nullID(l.TypeID), nullID(l.SubtypeID), nullID(l.StatusID),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: set permit link %s", l.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: set permit links: commit")
}

func (s *SQLiteStore) StatesByCase(ctx context.Context, t model.RecordType, caseNumber string) ([]model.StateRow, error) {
	table, err := stateTable(t)
	if err != nil {
		return nil, err
	}
	prefix := model.CasePrefix(t, caseNumber)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE substr(identity_key, 1, ?) = ? ORDER BY identity_key", stateColumns(t), table)

	var out []model.StateRow
	err = s.scanStates(ctx, t, query, []any{len(prefix), prefix}, func(row *model.StateRow) {
		out = append(out, *row)
	})
	return out, err
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, run *model.RunLog) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (ingestion_id, record_type, source, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		run.IngestionID, string(run.RecordType), run.Source, run.StartedAt.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start run for %s", run.RecordType)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: run id")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, summary model.RunSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, mode = ?, completed_at = ?, total = ?, changed = ?, errors = ?, error = ?
		 WHERE id = ?`,
		string(runStatus(summary)), string(summary.Mode), time.Now().UTC(), summary.Total, summary.Changed,
		summary.Errors, nullString(summary.Error), summary.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %d", summary.RunID)
	}
	return checkRowsAffected(res, fmt.Sprintf("run %d", summary.RunID))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunLog, error) {
	query := `SELECT id, ingestion_id, record_type, source, mode, status, started_at, completed_at,
	            total, changed, errors, COALESCE(error, '')
	          FROM run_log WHERE 1=1`
	var args []any
	if filter.RecordType != "" {
		query += " AND record_type = ?"
		args = append(args, string(filter.RecordType))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.RunLog
	for rows.Next() {
		r, err := scanRunLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// --- Review queue ---

func (s *SQLiteStore) HasPendingReview(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM review_queue WHERE identity_key = ? AND status = 'pending'`, key,
	).Scan(&n)
	return n > 0, eris.Wrapf(err, "sqlite: pending review %s", key)
}

func (s *SQLiteStore) EnqueueReview(ctx context.Context, item *model.ReviewItem) (bool, error) {
	candidates, err := marshalCandidates(item.Candidates)
	if err != nil {
		return false, err
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO review_queue (identity_key, payload, candidates, reason, status, created_at)
		 VALUES (?, ?, ?, ?, 'pending', ?)
		 ON CONFLICT(identity_key) WHERE status = 'pending' DO NOTHING`,
		item.Key, payloadJSON(item.Payload), candidates, string(item.Reason), createdAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: enqueue review %s", item.Key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return false, nil
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return false, eris.Wrap(err, "sqlite: review id")
	}
	item.Status = model.ReviewPending
	return true, nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id int64) (*model.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+reviewColumns+" FROM review_queue WHERE id = ?", id)
	item, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: review %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get review %d", id)
	}
	return item, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+reviewColumns+" FROM review_queue WHERE (? = '' OR status = ?) ORDER BY id LIMIT ?",
		string(status), string(status), defaultLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviews")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate reviews")
}

func (s *SQLiteStore) ResolveReview(ctx context.Context, id int64, ticketID int64, note string) error {
	return s.closeReview(ctx, id, model.ReviewResolved, ticketID, note)
}

func (s *SQLiteStore) SkipReview(ctx context.Context, id int64, note string) error {
	return s.closeReview(ctx, id, model.ReviewSkipped, 0, note)
}

func (s *SQLiteStore) closeReview(ctx context.Context, id int64, status model.ReviewStatus, ticketID int64, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue SET status = ?, resolved_ticket_id = ?, resolution_note = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(status), nullID(ticketID), nullString(note), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s review %d", status, id)
	}
	return checkRowsAffected(res, fmt.Sprintf("pending review %d", id))
}

func (s *SQLiteStore) LogMatch(ctx context.Context, e model.MatchLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_log (identity_key, method, candidate_count, selected_ticket_id, confidence,
		   reasoning, model, input_tokens, output_tokens, cost_usd, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, string(e.Method), e.CandidateCount, nullID(e.SelectedTicket), nullString(string(e.Confidence)),
		nullString(e.Reasoning), nullString(e.Model), e.InputTokens, e.OutputTokens, e.CostUSD,
		e.DurationMs, nullString(e.Error), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: log match %s", e.Key)
}

func (s *SQLiteStore) MatchLogs(ctx context.Context, key string) ([]model.MatchLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matchLogColumns+` FROM match_log WHERE identity_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: match log %s", key)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MatchLogEntry
	for rows.Next() {
		e, err := scanMatchLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match log")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate match log")
}

// helpers

func checkRowsAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s", what)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
