// Package normalize turns raw CSV rows into canonical records with a
// deterministic identity key and a content fingerprint.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/model"
)

// ErrMissingIdentity rejects a row whose mandatory identity field is empty.
var ErrMissingIdentity = eris.New("normalize: missing identity field")

// Normalize converts one raw row (header -> value) into a Record. Rows with no
// usable identity return ErrMissingIdentity and should be skipped.
func Normalize(t model.RecordType, row map[string]string) (*model.Record, error) {
	cols, ok := columnSets[t]
	if !ok {
		return nil, eris.Errorf("normalize: unsupported record type %q", t)
	}

	byHeader := make(map[string]string, len(row))
	raw := make(map[string]string, len(row))
	for header, value := range row {
		clean := CleanString(value)
		raw[CleanString(header)] = clean
		byHeader[headerKey(header)] = clean
	}

	fields := make(map[string]string, len(cols))
	for _, col := range cols {
		v := lookup(byHeader, col.aliases)
		switch col.kind {
		case kindDate:
			v = NormalizeDate(v)
		case kindDateTime:
			v = NormalizeDateTime(v)
		}
		if v != "" {
			fields[col.field] = v
		}
	}

	id, err := identity(t, fields)
	if err != nil {
		return nil, err
	}

	hash, err := ContentHash(t, fields)
	if err != nil {
		return nil, err
	}

	return &model.Record{
		Type:        t,
		Identity:    id,
		Fields:      fields,
		ContentHash: hash,
		Raw:         raw,
	}, nil
}

// Batch normalizes rows, skipping rejected ones. It returns the records and
// the number of rows skipped.
func Batch(t model.RecordType, rows []map[string]string) ([]*model.Record, int, error) {
	log := zap.L().With(zap.String("component", "normalize"), zap.String("record_type", string(t)))

	out := make([]*model.Record, 0, len(rows))
	skipped := 0
	for i, row := range rows {
		rec, err := Normalize(t, row)
		if eris.Is(err, ErrMissingIdentity) {
			skipped++
			log.Debug("skipping row without identity", zap.Int("row", i+1))
			continue
		}
		if err != nil {
			return nil, skipped, eris.Wrapf(err, "normalize: row %d", i+1)
		}
		out = append(out, rec)
	}
	if skipped > 0 {
		log.Info("rows skipped", zap.Int("skipped", skipped), zap.Int("kept", len(out)))
	}
	return out, skipped, nil
}

func identity(t model.RecordType, fields map[string]string) (model.IdentityKey, error) {
	var id model.IdentityKey
	switch t {
	case model.RecordPermit:
		id = model.IdentityKey{Type: t, PermitNumber: segment(fields[model.FieldPermitNumber])}
		if id.PermitNumber == "" {
			return id, eris.Wrap(ErrMissingIdentity, model.FieldPermitNumber)
		}
	case model.RecordViolation:
		id = model.IdentityKey{
			Type:       t,
			CaseNumber: segment(fields[model.FieldCaseNumber]),
			Kind:       segment(fields[model.FieldViolationType]),
			Date:       fields[model.FieldViolationDate],
		}
	case model.RecordInspection:
		id = model.IdentityKey{
			Type:       t,
			CaseNumber: segment(fields[model.FieldCaseNumber]),
			Kind:       segment(fields[model.FieldInspectionType]),
			Date:       fields[model.FieldInspectionDate],
		}
	}
	if t != model.RecordPermit && id.CaseNumber == "" {
		return id, eris.Wrap(ErrMissingIdentity, model.FieldCaseNumber)
	}
	return id, id.Validate()
}

// segment makes a value safe to embed in an identity key.
func segment(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, "|", "/"))
}

// ContentHash fingerprints the semantic fields. encoding/json sorts map keys,
// so the hash does not depend on column order.
func ContentHash(t model.RecordType, fields map[string]string) (string, error) {
	data, err := json.Marshal(struct {
		Type   model.RecordType  `json:"type"`
		Fields map[string]string `json:"fields"`
	}{t, fields})
	if err != nil {
		return "", eris.Wrap(err, "normalize: marshal fields")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
