package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enforcement-sync/internal/db"
	"github.com/sells-group/enforcement-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a small bounded pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return MigratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- State ---

func (s *PostgresStore) CountState(ctx context.Context, t model.RecordType) (int, error) {
	table, err := stateTable(t)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s", table)
	}
	return n, nil
}

func (s *PostgresStore) GetStates(ctx context.Context, t model.RecordType, keys []string) (map[string]*model.StateRow, error) {
	table, err := stateTable(t)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.StateRow, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE identity_key = ANY($1)", stateColumns(t), table),
		keys,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		row, err := scanState(t, rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		out[row.Key] = row
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", table)
}

func (s *PostgresStore) UpsertStates(ctx context.Context, t model.RecordType, rows []model.StateUpsert) error {
	table, err := stateTable(t)
	if err != nil {
		return err
	}

	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Key, r.Signature, r.ContentHash, payloadJSON(r.Payload), r.SeenAt}
	}

	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        table,
		Columns:      []string{"identity_key", "signature", "content_hash", "payload", "last_seen_at"},
		ConflictKeys: []string{"identity_key"},
	}, data)
	return eris.Wrapf(err, "postgres: upsert %s", table)
}

func (s *PostgresStore) SetTicketLink(ctx context.Context, link model.TicketLink) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO violation_state (identity_key, ticket_id, match_method, match_confidence, matched_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (identity_key) DO UPDATE SET
		   ticket_id = EXCLUDED.ticket_id,
		   match_method = EXCLUDED.match_method,
		   match_confidence = EXCLUDED.match_confidence,
		   matched_at = EXCLUDED.matched_at`,
		link.Key, link.TicketID, string(link.Method), nullString(string(link.Confidence)), link.MatchedAt,
	)
	return eris.Wrapf(err, "postgres: set ticket link %s", link.Key)
}

func (s *PostgresStore) SetPermitLinks(ctx context.Context, links []model.PermitLink) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(
			`INSERT INTO permit_state (identity_key, permit_id, type_id, subtype_id, status_id)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (identity_key) DO UPDATE SET
			   permit_id = COALESCE(EXCLUDED.permit_id, permit_state.permit_id),
			   type_id = COALESCE(EXCLUDED.type_id, permit_state.type_id),
			   subtype_id = COALESCE(EXCLUDED.subtype_id, permit_state.subtype_id),
			   status_id = COALESCE(EXCLUDED.status_id, permit_state.status_id)`,
			l.Key, nullID(l.PermitID), nullID(l.TypeID), nullID(l.SubtypeID), nullID(l.StatusID),
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: set permit links: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return eris.Wrap(err, "postgres: set permit links")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: set permit links: commit")
}

func (s *PostgresStore) StatesByCase(ctx context.Context, t model.RecordType, caseNumber string) ([]model.StateRow, error) {
	table, err := stateTable(t)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE starts_with(identity_key, $1) ORDER BY identity_key", stateColumns(t), table),
		model.CasePrefix(t, caseNumber),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: states by case %s", caseNumber)
	}
	defer rows.Close()

	var out []model.StateRow
	for rows.Next() {
		row, err := scanState(t, rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		out = append(out, *row)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate states by case")
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, run *model.RunLog) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO run_log (ingestion_id, record_type, source, status, started_at)
		 VALUES ($1, $2, $3, 'running', $4) RETURNING id`,
		run.IngestionID, string(run.RecordType), run.Source, run.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start run for %s", run.RecordType)
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, summary model.RunSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, mode = $2, completed_at = now(),
		   total = $3, changed = $4, errors = $5, error = $6
		 WHERE id = $7`,
		string(runStatus(summary)), string(summary.Mode), summary.Total, summary.Changed,
		summary.Errors, nullString(summary.Error), summary.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %d", summary.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: complete run %d", summary.RunID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunLog, error) {
	query := `SELECT id, ingestion_id, record_type, source, mode, status, started_at, completed_at,
	            total, changed, errors, COALESCE(error, '')
	          FROM run_log WHERE 1=1`
	var args []any
	argN := 1

	if filter.RecordType != "" {
		query += fmt.Sprintf(" AND record_type = $%d", argN)
		args = append(args, string(filter.RecordType))
		argN++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(filter.Status))
		argN++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", argN)
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunLog
	for rows.Next() {
		r, err := scanRunLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// --- Review queue ---

func (s *PostgresStore) HasPendingReview(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM review_queue WHERE identity_key = $1 AND status = 'pending')`,
		key,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: pending review %s", key)
}

func (s *PostgresStore) EnqueueReview(ctx context.Context, item *model.ReviewItem) (bool, error) {
	candidates, err := marshalCandidates(item.Candidates)
	if err != nil {
		return false, err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO review_queue (identity_key, payload, candidates, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5)
		 ON CONFLICT (identity_key) WHERE status = 'pending' DO NOTHING
		 RETURNING id`,
		item.Key, payloadJSON(item.Payload), candidates, string(item.Reason), item.CreatedAt,
	).Scan(&item.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue review %s", item.Key)
	}
	item.Status = model.ReviewPending
	return true, nil
}

const reviewColumns = `id, identity_key, payload, candidates, reason, status,
	COALESCE(resolved_ticket_id, 0), COALESCE(resolution_note, ''), created_at, resolved_at`

func (s *PostgresStore) GetReview(ctx context.Context, id int64) (*model.ReviewItem, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+reviewColumns+" FROM review_queue WHERE id = $1", id)
	item, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: review %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get review %d", id)
	}
	return item, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+reviewColumns+" FROM review_queue WHERE ($1 = '' OR status = $1) ORDER BY created_at, id LIMIT $2",
		string(status), defaultLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate reviews")
}

func (s *PostgresStore) ResolveReview(ctx context.Context, id int64, ticketID int64, note string) error {
	return s.closeReview(ctx, id, model.ReviewResolved, ticketID, note)
}

func (s *PostgresStore) SkipReview(ctx context.Context, id int64, note string) error {
	return s.closeReview(ctx, id, model.ReviewSkipped, 0, note)
}

func (s *PostgresStore) closeReview(ctx context.Context, id int64, status model.ReviewStatus, ticketID int64, note string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = $1, resolved_ticket_id = $2, resolution_note = $3, resolved_at = now()
		 WHERE id = $4 AND status = 'pending'`,
		string(status), nullID(ticketID), nullString(note), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s review %d", status, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: pending review %d", id)
	}
	return nil
}

func (s *PostgresStore) LogMatch(ctx context.Context, e model.MatchLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO match_log (identity_key, method, candidate_count, selected_ticket_id, confidence,
		   reasoning, model, input_tokens, output_tokens, cost_usd, duration_ms, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.Key, string(e.Method), e.CandidateCount, nullID(e.SelectedTicket), nullString(string(e.Confidence)),
		nullString(e.Reasoning), nullString(e.Model), e.InputTokens, e.OutputTokens, e.CostUSD,
		e.DurationMs, nullString(e.Error),
	)
	return eris.Wrapf(err, "postgres: log match %s", e.Key)
}

func (s *PostgresStore) MatchLogs(ctx context.Context, key string) ([]model.MatchLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchLogColumns+` FROM match_log WHERE identity_key = $1 ORDER BY id`, key)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: match log %s", key)
	}
	defer rows.Close()

	var out []model.MatchLogEntry
	for rows.Next() {
		e, err := scanMatchLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan match log")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate match log")
}

// --- helpers shared with SQLite ---

const matchLogColumns = `identity_key, method, candidate_count, selected_ticket_id, confidence,
	reasoning, model, input_tokens, output_tokens, cost_usd, duration_ms, error, created_at`

func scanMatchLog(row scannable) (*model.MatchLogEntry, error) {
	var e model.MatchLogEntry
	var method string
	var selected *int64
	var confidence, reasoning, modelName, errMsg *string
	err := row.Scan(&e.Key, &method, &e.CandidateCount, &selected, &confidence,
		&reasoning, &modelName, &e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.DurationMs, &errMsg, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Method = model.MatchMethod(method)
	e.SelectedTicket = deref(selected)
	e.Confidence = model.Confidence(deref(confidence))
	e.Reasoning = deref(reasoning)
	e.Model = deref(modelName)
	e.Error = deref(errMsg)
	return &e, nil
}

func scanRunLog(row scannable) (*model.RunLog, error) {
	var r model.RunLog
	var recordType, mode, status string
	err := row.Scan(&r.ID, &r.IngestionID, &recordType, &r.Source, &mode, &status,
		&r.StartedAt, &r.CompletedAt, &r.Total, &r.Changed, &r.Errors, &r.Error)
	if err != nil {
		return nil, err
	}
	r.RecordType = model.RecordType(recordType)
	r.Mode = model.RunMode(mode)
	r.Status = model.RunStatus(status)
	return &r, nil
}

func scanReview(row scannable) (*model.ReviewItem, error) {
	var item model.ReviewItem
	var payload, candidates []byte
	var reason, status string
	err := row.Scan(&item.ID, &item.Key, &payload, &candidates, &reason, &status,
		&item.ResolvedTicketID, &item.ResolutionNote, &item.CreatedAt, &item.ResolvedAt)
	if err != nil {
		return nil, err
	}
	item.Reason = model.ReviewReason(reason)
	item.Status = model.ReviewStatus(status)
	if len(payload) > 0 {
		item.Payload = json.RawMessage(payload)
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &item.Candidates); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal candidates")
		}
	}
	return &item, nil
}

func marshalCandidates(c []model.Candidate) (any, error) {
	if len(c) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal candidates")
	}
	return string(data), nil
}

func payloadJSON(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
