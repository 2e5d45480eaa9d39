package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enforcement-sync/internal/model"
)

func TestNormalize_Violation(t *testing.T) {
	t.Parallel()

	row := map[string]string{
		"Case #":         " CC24-1 ",
		"Violation Type": "WEEDS",
		"Violation Date": "1/1/2024 10:15:00 AM",
		"Status":         "OPEN\x00",
		"Site Address":   "100 Main St\r\nSuite 2",
		"Case Type":      "Code",
		"Extra":          "ignored",
	}

	rec, err := Normalize(model.RecordViolation, row)
	require.NoError(t, err)

	assert.Equal(t, "violation|CC24-1|WEEDS|2024-01-01", rec.Key())
	assert.Equal(t, "OPEN", rec.Field(model.FieldStatus))
	assert.Equal(t, "100 Main St  Suite 2", rec.Field(model.FieldAddress))
	assert.Equal(t, "2024-01-01", rec.Field(model.FieldViolationDate))
	assert.Equal(t, "ignored", rec.Raw["Extra"])
	assert.Len(t, rec.ContentHash, 64)
}

func TestNormalize_Inspection(t *testing.T) {
	t.Parallel()

	rec, err := Normalize(model.RecordInspection, map[string]string{
		"case_number":     "CC24-1",
		"inspection_type": "FOLLOW UP",
		"inspection_date": "2/3/2024",
		"result":          "PASSED",
	})
	require.NoError(t, err)
	assert.Equal(t, "inspection|CC24-1|FOLLOW UP|2024-02-03", rec.Key())
	assert.Equal(t, "PASSED", rec.Signature(model.FieldResult))
}

func TestNormalize_PermitDates(t *testing.T) {
	t.Parallel()

	rec, err := Normalize(model.RecordPermit, map[string]string{
		"Permit Number":   "BP|100",
		"Permit Type":     "Building",
		"Issued Date":     "3/15/2024 4:30:00 PM",
		"Expiration Date": "not a date",
		"Applied Date":    "",
	})
	require.NoError(t, err)

	assert.Equal(t, "permit|BP/100", rec.Key())
	assert.Equal(t, "2024-03-15T00:00:00Z", rec.Field(model.FieldIssuedDate))
	_, hasExpires := rec.Fields[model.FieldExpiresDate]
	assert.False(t, hasExpires, "unparseable date must be null, not the literal")
	_, hasApplied := rec.Fields[model.FieldAppliedDate]
	assert.False(t, hasApplied)
}

func TestNormalize_MissingIdentity(t *testing.T) {
	t.Parallel()

	_, err := Normalize(model.RecordViolation, map[string]string{"Status": "OPEN"})
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = Normalize(model.RecordPermit, map[string]string{"Permit Number": " \x00 "})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestNormalize_UnknownType(t *testing.T) {
	t.Parallel()
	_, err := Normalize("complaint", map[string]string{"case": "1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingIdentity)
}

func TestContentHash_ColumnOrderIndependent(t *testing.T) {
	t.Parallel()

	a, err := Normalize(model.RecordPermit, map[string]string{"Permit Number": "P1", "Status": "ISSUED", "Valuation": "100"})
	require.NoError(t, err)
	b, err := Normalize(model.RecordPermit, map[string]string{"valuation": "100", "STATUS": "ISSUED", "permit_no": "P1"})
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)

	c, err := Normalize(model.RecordPermit, map[string]string{"Permit Number": "P1", "Status": "FINALED", "Valuation": "100"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ContentHash, c.ContentHash)
}

func TestBatch_SkipsRejectedRows(t *testing.T) {
	t.Parallel()

	rows := []map[string]string{
		{"Case Number": "C1", "Status": "OPEN"},
		{"Status": "OPEN"},
		{"Case Number": "C2", "Status": "CLOSED"},
	}
	recs, skipped, err := Batch(model.RecordViolation, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, recs, 2)
	assert.Equal(t, "violation|C1||", recs[0].Key())
}
