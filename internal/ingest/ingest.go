// Package ingest turns an inbound delivery of CSV attachments into
// reconciliation runs, one attachment at a time.
package ingest

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/archive"
	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/normalize"
	"github.com/sells-group/enforcement-sync/internal/reconcile"
)

// Runner reconciles one normalized batch.
type Runner interface {
	Run(ctx context.Context, b reconcile.Batch) (*model.RunSummary, error)
}

// Attachment is one file of a delivery.
type Attachment struct {
	Filename string
	Data     []byte
}

// Delivery is one inbound message.
type Delivery struct {
	ID          string
	Subject     string
	Attachments []Attachment
}

// Result reports what happened to one attachment.
type Result struct {
	Filename   string            `json:"filename"`
	RecordType model.RecordType  `json:"record_type,omitempty"`
	ArchiveKey string            `json:"archive_key,omitempty"`
	Skipped    bool              `json:"skipped,omitempty"`
	Rows       int               `json:"rows"`
	Rejected   int               `json:"rejected"`
	Summary    *model.RunSummary `json:"summary,omitempty"`
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithArchive stores every raw attachment before it is processed.
func WithArchive(a archive.Archiver) Option {
	return func(i *Ingestor) { i.archive = a }
}

// WithCharset sets the attachment text encoding (default UTF-8).
func WithCharset(charset string) Option {
	return func(i *Ingestor) { i.charset = charset }
}

// Ingestor processes deliveries.
type Ingestor struct {
	runner  Runner
	archive archive.Archiver
	charset string
	log     *zap.Logger
}

// New creates an Ingestor.
func New(runner Runner, opts ...Option) *Ingestor {
	i := &Ingestor{
		runner:  runner,
		charset: "utf-8",
		log:     zap.L().With(zap.String("component", "ingest")),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

type classified struct {
	att Attachment
	t   model.RecordType
	ok  bool
}

// IngestDelivery processes a delivery's attachments sequentially, violations
// first, then inspections, then permits, so inspection comments can reach
// tickets linked in the same delivery. ZIP attachments are expanded.
// Unrecognized files are skipped. The first fatal error stops the delivery
// and is returned with the results so far.
func (i *Ingestor) IngestDelivery(ctx context.Context, d Delivery) ([]Result, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	log := i.log.With(zap.String("delivery_id", d.ID))

	var files []Attachment
	for _, a := range d.Attachments {
		if !isZIP(a.Filename) {
			files = append(files, a)
			continue
		}
		inner, err := ExpandZIP(a.Data)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: expand %s", a.Filename)
		}
		files = append(files, inner...)
	}

	items := make([]classified, len(files))
	for n, a := range files {
		t, ok := ClassifyAttachment(a.Filename, d.Subject)
		items[n] = classified{att: a, t: t, ok: ok}
	}
	sort.SliceStable(items, func(a, b int) bool {
		return typeOrder(items[a]) < typeOrder(items[b])
	})

	results := make([]Result, 0, len(items))
	for _, it := range items {
		if !it.ok {
			log.Warn("skipping unrecognized attachment", zap.String("filename", it.att.Filename))
			results = append(results, Result{Filename: it.att.Filename, Skipped: true})
			continue
		}
		res, err := i.IngestAttachment(ctx, d.ID, it.t, it.att)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	log.Info("delivery processed", zap.Int("attachments", len(results)))
	return results, nil
}

func typeOrder(c classified) int {
	if !c.ok {
		return len(model.AllRecordTypes())
	}
	for n, t := range model.AllRecordTypes() {
		if t == c.t {
			return n
		}
	}
	return len(model.AllRecordTypes())
}

// IngestAttachment archives, parses, normalizes and reconciles one attachment.
// Archive failures are logged and do not stop processing.
func (i *Ingestor) IngestAttachment(ctx context.Context, deliveryID string, t model.RecordType, a Attachment) (Result, error) {
	res := Result{Filename: a.Filename, RecordType: t}
	log := i.log.With(
		zap.String("delivery_id", deliveryID),
		zap.String("filename", a.Filename),
		zap.String("record_type", string(t)),
	)

	if i.archive != nil {
		key, err := i.archive.Put(ctx, deliveryID, a.Filename, a.Data)
		if err != nil {
			log.Warn("archive failed", zap.Error(err))
		}
		res.ArchiveKey = key
	}

	rows, err := ReadRows(ctx, bytes.NewReader(a.Data), i.charset)
	if err != nil {
		return res, eris.Wrapf(err, "ingest: parse %s", a.Filename)
	}
	res.Rows = len(rows)

	records, rejected, err := normalize.Batch(t, rows)
	if err != nil {
		return res, eris.Wrapf(err, "ingest: normalize %s", a.Filename)
	}
	res.Rejected = rejected

	summary, err := i.runner.Run(ctx, reconcile.Batch{
		Type:        t,
		Records:     records,
		RowCount:    len(rows),
		Source:      a.Filename,
		IngestionID: deliveryID,
	})
	res.Summary = summary
	if err != nil {
		return res, eris.Wrapf(err, "ingest: reconcile %s", a.Filename)
	}
	return res, nil
}
