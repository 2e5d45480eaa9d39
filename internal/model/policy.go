package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// TypePolicy selects what counts as a change for one record type.
type TypePolicy struct {
	// Signature is a semantic field name or SignatureContentHash.
	Signature string `yaml:"signature" mapstructure:"signature"`
	// ClosingStatuses is consulted for violations only.
	ClosingStatuses []string `yaml:"closing_statuses,omitempty" mapstructure:"closing_statuses"`
}

// SyncPolicy holds the per-type change policy.
type SyncPolicy struct {
	Violation  TypePolicy `yaml:"violation" mapstructure:"violation"`
	Inspection TypePolicy `yaml:"inspection" mapstructure:"inspection"`
	Permit     TypePolicy `yaml:"permit" mapstructure:"permit"`
}

// DefaultSyncPolicy tracks violation status, inspection result and the full
// permit content. Only violation status transitions drive ticket actions,
// so address or case-type edits on a violation are not detected.
func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		Violation: TypePolicy{
			Signature:       FieldStatus,
			ClosingStatuses: []string{"COMPLIED", "UNFOUNDED"},
		},
		Inspection: TypePolicy{Signature: FieldResult},
		Permit:     TypePolicy{Signature: SignatureContentHash},
	}
}

// For returns the policy for a record type.
func (p SyncPolicy) For(t RecordType) TypePolicy {
	switch t {
	case RecordViolation:
		return p.Violation
	case RecordInspection:
		return p.Inspection
	default:
		return p.Permit
	}
}

// SignatureField returns the tracked signature field for a record type.
func (p SyncPolicy) SignatureField(t RecordType) string {
	return p.For(t).Signature
}

// IsClosing reports whether a violation status belongs to the closing set.
func (p SyncPolicy) IsClosing(status string) bool {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		return false
	}
	for _, s := range p.Violation.ClosingStatuses {
		if strings.ToUpper(strings.TrimSpace(s)) == status {
			return true
		}
	}
	return false
}

// Validate checks that every type names a signature.
func (p SyncPolicy) Validate() error {
	for _, t := range AllRecordTypes() {
		if strings.TrimSpace(p.For(t).Signature) == "" {
			return eris.Errorf("policy: %s signature is required", t)
		}
	}
	return nil
}
