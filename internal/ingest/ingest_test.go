package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/reconcile"
)

type fakeRunner struct {
	batches []reconcile.Batch
	failOn  model.RecordType
}

func (f *fakeRunner) Run(_ context.Context, b reconcile.Batch) (*model.RunSummary, error) {
	f.batches = append(f.batches, b)
	sum := &model.RunSummary{RunID: int64(len(f.batches)), Total: b.RowCount}
	if b.Type == f.failOn {
		sum.Error = "boom"
		return sum, errors.New("boom")
	}
	return sum, nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Put(_ context.Context, deliveryID, filename string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := deliveryID + "/" + filename
	f.keys = append(f.keys, key)
	return key, nil
}

const (
	violationsCSV  = "Case Number,Violation Type,Violation Date,Status\nCC-1,WEEDS,1/1/2024,OPEN\n,,,\nCC-2,JUNK,1/2/2024,OPEN\n"
	inspectionsCSV = "Case Number,Inspection Type,Inspection Date,Result\nCC-1,INITIAL,1/5/2024,FAILED\n"
)

func TestIngestDelivery_OrdersByRecordType(t *testing.T) {
	runner := &fakeRunner{}
	arc := &fakeArchive{}
	ing := New(runner, WithArchive(arc))

	results, err := ing.IngestDelivery(context.Background(), Delivery{
		ID: "del-1",
		Attachments: []Attachment{
			{Filename: "inspections.csv", Data: []byte(inspectionsCSV)},
			{Filename: "logo.png", Data: []byte{0x89}},
			{Filename: "violations.csv", Data: []byte(violationsCSV)},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Len(t, runner.batches, 2)
	assert.Equal(t, model.RecordViolation, runner.batches[0].Type)
	assert.Equal(t, model.RecordInspection, runner.batches[1].Type)
	assert.Equal(t, "del-1", runner.batches[0].IngestionID)
	assert.Equal(t, "violations.csv", runner.batches[0].Source)
	assert.Len(t, runner.batches[0].Records, 2)
	assert.Equal(t, 2, runner.batches[0].RowCount)

	assert.Equal(t, "violations.csv", results[0].Filename)
	assert.Equal(t, "del-1/violations.csv", results[0].ArchiveKey)
	assert.True(t, results[2].Skipped)
	assert.Equal(t, []string{"del-1/violations.csv", "del-1/inspections.csv"}, arc.keys)
}

func TestIngestDelivery_UsesSubjectAndExpandsZIP(t *testing.T) {
	runner := &fakeRunner{}
	ing := New(runner)

	_, err := ing.IngestDelivery(context.Background(), Delivery{
		Subject: "Code enforcement export",
		Attachments: []Attachment{
			{Filename: "export.zip", Data: zipOf(t, map[string]string{"daily/export.csv": violationsCSV})},
		},
	})
	require.NoError(t, err)
	require.Len(t, runner.batches, 1)
	assert.Equal(t, model.RecordViolation, runner.batches[0].Type)
	assert.NotEmpty(t, runner.batches[0].IngestionID)
}

func TestIngestDelivery_StopsOnFatalError(t *testing.T) {
	runner := &fakeRunner{failOn: model.RecordViolation}
	ing := New(runner)

	results, err := ing.IngestDelivery(context.Background(), Delivery{
		ID: "del-2",
		Attachments: []Attachment{
			{Filename: "violations.csv", Data: []byte(violationsCSV)},
			{Filename: "inspections.csv", Data: []byte(inspectionsCSV)},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "violations.csv")
	require.Len(t, results, 1)
	assert.Equal(t, "boom", results[0].Summary.Error)
	assert.Len(t, runner.batches, 1)
}

func TestIngestAttachment_ArchiveFailureIsNotFatal(t *testing.T) {
	runner := &fakeRunner{}
	ing := New(runner, WithArchive(&fakeArchive{err: errors.New("s3 down")}))

	res, err := ing.IngestAttachment(context.Background(), "del-3", model.RecordInspection,
		Attachment{Filename: "inspections.csv", Data: []byte(inspectionsCSV)})
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveKey)
	assert.Equal(t, 1, res.Rows)
	require.NotNil(t, res.Summary)
}

func TestIngestAttachment_CountsRejectedRows(t *testing.T) {
	runner := &fakeRunner{}
	ing := New(runner)

	csv := "Permit Number,Status\nBP-1,ISSUED\n ,ISSUED\n"
	res, err := ing.IngestAttachment(context.Background(), "del-4", model.RecordPermit,
		Attachment{Filename: "permits.csv", Data: []byte(csv)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Rejected)
	assert.Len(t, runner.batches[0].Records, 1)
	assert.Equal(t, 2, runner.batches[0].RowCount)
}
