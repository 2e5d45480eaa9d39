// Package model defines the record, state and audit types shared by the sync pipeline.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// RecordType identifies which CSV export a record came from.
type RecordType string

const (
	RecordViolation  RecordType = "violation"
	RecordInspection RecordType = "inspection"
	RecordPermit     RecordType = "permit"
)

// AllRecordTypes returns every supported record type in processing order.
func AllRecordTypes() []RecordType {
	return []RecordType{RecordViolation, RecordInspection, RecordPermit}
}

// ParseRecordType converts "violation", "inspections", "Permit" etc. into a RecordType.
func ParseRecordType(s string) (RecordType, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	switch RecordType(s) {
	case RecordViolation, RecordInspection, RecordPermit:
		return RecordType(s), nil
	default:
		return "", eris.Errorf("unknown record type: %q (valid: violation, inspection, permit)", s)
	}
}

// StateTable returns the state table that holds rows of this type.
func (t RecordType) StateTable() string {
	return string(t) + "_state"
}

// Semantic field names carried in Record.Fields.
const (
	FieldCaseNumber     = "case_number"
	FieldViolationType  = "violation_type"
	FieldViolationDate  = "violation_date"
	FieldInspectionType = "inspection_type"
	FieldInspectionDate = "inspection_date"
	FieldStatus         = "status"
	FieldResult         = "result"
	FieldAddress        = "address"
	FieldCaseType       = "case_type"
	FieldDescription    = "description"
	FieldInspector      = "inspector"
	FieldNotes          = "notes"
	FieldPermitNumber   = "permit_number"
	FieldPermitType     = "permit_type"
	FieldPermitSubtype  = "permit_subtype"
	FieldAppliedDate    = "applied_date"
	FieldIssuedDate     = "issued_date"
	FieldExpiresDate    = "expires_date"
	FieldValuation      = "valuation"
	FieldContractor     = "contractor"

	// SignatureContentHash selects the full content fingerprint as the signature.
	SignatureContentHash = "content_hash"
)

// Record is a normalized CSV row: a deterministic identity, the cleaned
// semantic fields and the raw row kept for audit. Absent or unparseable
// values are simply missing from Fields.
type Record struct {
	Type        RecordType        `json:"type"`
	Identity    IdentityKey       `json:"identity"`
	Fields      map[string]string `json:"fields"`
	ContentHash string            `json:"content_hash"`
	Raw         map[string]string `json:"raw,omitempty"`
}

// Key returns the serialized identity key.
func (r *Record) Key() string {
	return r.Identity.String()
}

// Field returns a semantic field or "" when absent.
func (r *Record) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// Signature returns the value of the tracked field (or the content hash)
// that defines "this record changed" for diffing.
func (r *Record) Signature(field string) string {
	if field == SignatureContentHash {
		return r.ContentHash
	}
	return r.Field(field)
}
