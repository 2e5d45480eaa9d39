package diff

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/normalize"
	"github.com/sells-group/enforcement-sync/internal/store"
)

func violation(t *testing.T, caseNo, status string) *model.Record {
	t.Helper()
	rec, err := normalize.Normalize(model.RecordViolation, map[string]string{
		"Case Number":    caseNo,
		"Violation Type": "WEEDS",
		"Violation Date": "1/1/2024",
		"Status":         status,
	})
	require.NoError(t, err)
	return rec
}

func TestDedup_LastBySignatureWins(t *testing.T) {
	t.Parallel()

	open := violation(t, "CC24-1", "OPEN")
	complied := violation(t, "CC24-1", "COMPLIED")

	for _, batch := range [][]*model.Record{{open, complied}, {complied, open}} {
		out := Dedup(batch, model.FieldStatus)
		require.Len(t, out, 1)
		assert.Equal(t, "violation|CC24-1|WEEDS|2024-01-01", out[0].Key())
		assert.Equal(t, "COMPLIED", out[0].Field(model.FieldStatus))
	}
}

func TestDedup_PermutationInvariant(t *testing.T) {
	t.Parallel()

	var batch []*model.Record
	for _, c := range []string{"A", "B", "C", "D"} {
		for _, s := range []string{"OPEN", "CLOSED", "COMPLIED", "PENDING"} {
			batch = append(batch, violation(t, c, s))
		}
	}
	want := Dedup(batch, model.FieldStatus)
	require.Len(t, want, 4)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]*model.Record, len(batch))
		copy(shuffled, batch)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := Dedup(shuffled, model.FieldStatus)
		require.Len(t, got, len(want))
		for j := range want {
			assert.Same(t, want[j], got[j])
		}
	}
}

func TestDedup_Empty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Dedup(nil, model.FieldStatus))
}

type fakeStates struct {
	rows  map[string]*model.StateRow
	calls int
	err   error
}

func (f *fakeStates) GetStates(_ context.Context, _ model.RecordType, keys []string) (map[string]*model.StateRow, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*model.StateRow)
	for _, k := range keys {
		if r, ok := f.rows[k]; ok {
			out[k] = r
		}
	}
	return out, nil
}

func TestCompute_Classification(t *testing.T) {
	t.Parallel()

	unchanged := violation(t, "A", "OPEN")
	updated := violation(t, "B", "COMPLIED")
	fresh := violation(t, "C", "OPEN")

	states := &fakeStates{rows: map[string]*model.StateRow{
		unchanged.Key(): {Key: unchanged.Key(), Signature: "OPEN"},
		updated.Key():   {Key: updated.Key(), Signature: "OPEN", TicketID: 9},
	}}

	changes, err := Compute(context.Background(), states, model.RecordViolation,
		Dedup([]*model.Record{fresh, unchanged, updated}, model.FieldStatus), model.FieldStatus)
	require.NoError(t, err)
	assert.Equal(t, 1, states.calls, "one bulk fetch")
	require.Len(t, changes, 2)

	assert.Equal(t, updated.Key(), changes[0].Key)
	assert.False(t, changes[0].IsNew)
	require.NotNil(t, changes[0].PrevSignature)
	assert.Equal(t, "OPEN", *changes[0].PrevSignature)
	assert.Equal(t, "COMPLIED", changes[0].NewSignature)
	assert.Equal(t, int64(9), changes[0].Prior.TicketID)

	assert.Equal(t, fresh.Key(), changes[1].Key)
	assert.True(t, changes[1].IsNew)
	assert.Nil(t, changes[1].PrevSignature)
}

func TestCompute_StoreError(t *testing.T) {
	t.Parallel()
	_, err := Compute(context.Background(), &fakeStates{err: errors.New("db down")}, model.RecordViolation,
		[]*model.Record{violation(t, "A", "OPEN")}, model.FieldStatus)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestCompute_IdempotentReingest(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	batch := Dedup([]*model.Record{violation(t, "A", "OPEN"), violation(t, "B", "CLOSED")}, model.FieldStatus)

	first, err := Compute(ctx, st, model.RecordViolation, batch, model.FieldStatus)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	seen := time.Now().UTC()
	var rows []model.StateUpsert
	for _, r := range batch {
		rows = append(rows, model.StateUpsert{Key: r.Key(), Signature: r.Signature(model.FieldStatus), ContentHash: r.ContentHash, SeenAt: seen})
	}
	require.NoError(t, st.UpsertStates(ctx, model.RecordViolation, rows))

	second, err := Compute(ctx, st, model.RecordViolation, batch, model.FieldStatus)
	require.NoError(t, err)
	assert.Empty(t, second)
}
