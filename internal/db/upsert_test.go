package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "violation_state",
		Columns:      []string{"identity_key", "signature"},
		ConflictKeys: []string{"identity_key"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "violation_state",
		ConflictKeys: []string{"identity_key"},
	}, [][]any{{"k", "OPEN"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "violation_state",
		Columns: []string{"identity_key", "signature"},
	}, [][]any{{"k", "OPEN"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_CommitsInOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"identity_key", "signature"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_violation_state"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_violation_state"}, cols).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "violation_state"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "violation_state",
		Columns:      cols,
		ConflictKeys: []string{"identity_key"},
	}, [][]any{{"a", "OPEN"}, {"b", "CLOSED"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_RollsBackOnCopyFailure(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"identity_key", "signature"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_violation_state"}, cols).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "violation_state",
		Columns:      cols,
		ConflictKeys: []string{"identity_key"},
	}, [][]any{{"a", "OPEN"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	sql := BuildUpsertSQL(UpsertConfig{
		Table:        "permit_state",
		Columns:      []string{"identity_key", "signature", "created_at"},
		ConflictKeys: []string{"identity_key"},
		UpdateCols:   []string{"signature"},
	}, `"src"`)
	assert.Equal(t,
		`INSERT INTO "permit_state" ("identity_key", "signature", "created_at") SELECT "identity_key", "signature", "created_at" FROM "src" ORDER BY "identity_key" ON CONFLICT ("identity_key") DO UPDATE SET "signature" = EXCLUDED."signature"`,
		sql)
}

func TestBuildUpsertSQL_NothingToUpdate(t *testing.T) {
	sql := BuildUpsertSQL(UpsertConfig{
		Table:        "review_queue",
		Columns:      []string{"identity_key"},
		ConflictKeys: []string{"identity_key"},
	}, `"src"`)
	assert.Contains(t, sql, "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"sync.violation_state", `"sync"."violation_state"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
