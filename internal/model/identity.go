package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// keyDelimiter separates identity key segments. Segments never contain it;
// the normalizer replaces it before building keys.
const keyDelimiter = "|"

// IdentityKey is the structured form of a record's identity. Violations and
// inspections are identified by case, kind and date; permits by number.
//
// For every key k with k.Validate() == nil: ParseIdentityKey(k.String()) == k.
type IdentityKey struct {
	Type         RecordType
	CaseNumber   string
	Kind         string
	Date         string
	PermitNumber string
}

// String serializes the key, e.g. "violation|CC24-1|WEEDS|2024-01-01" or "permit|BP-100".
func (k IdentityKey) String() string {
	if k.Type == RecordPermit {
		return string(k.Type) + keyDelimiter + k.PermitNumber
	}
	return strings.Join([]string{string(k.Type), k.CaseNumber, k.Kind, k.Date}, keyDelimiter)
}

// Validate reports whether the key can be serialized and parsed back unchanged.
func (k IdentityKey) Validate() error {
	segments := []string{k.CaseNumber, k.Kind, k.Date, k.PermitNumber}
	for _, s := range segments {
		if strings.Contains(s, keyDelimiter) {
			return eris.Errorf("identity: segment %q contains delimiter", s)
		}
	}
	switch k.Type {
	case RecordPermit:
		if k.PermitNumber == "" {
			return eris.New("identity: permit number is required")
		}
		if k.CaseNumber != "" || k.Kind != "" || k.Date != "" {
			return eris.New("identity: permit keys carry only a permit number")
		}
	case RecordViolation, RecordInspection:
		if k.CaseNumber == "" {
			return eris.Errorf("identity: %s case number is required", k.Type)
		}
		if k.PermitNumber != "" {
			return eris.Errorf("identity: %s keys do not carry a permit number", k.Type)
		}
	default:
		return eris.Errorf("identity: unknown record type %q", k.Type)
	}
	return nil
}

// ParseIdentityKey parses a serialized identity key.
func ParseIdentityKey(s string) (IdentityKey, error) {
	parts := strings.Split(s, keyDelimiter)
	if len(parts) < 2 {
		return IdentityKey{}, eris.Errorf("identity: malformed key %q", s)
	}

	var k IdentityKey
	switch RecordType(parts[0]) {
	case RecordPermit:
		if len(parts) != 2 {
			return IdentityKey{}, eris.Errorf("identity: malformed permit key %q", s)
		}
		k = IdentityKey{Type: RecordPermit, PermitNumber: parts[1]}
	case RecordViolation, RecordInspection:
		if len(parts) != 4 {
			return IdentityKey{}, eris.Errorf("identity: malformed %s key %q", parts[0], s)
		}
		k = IdentityKey{Type: RecordType(parts[0]), CaseNumber: parts[1], Kind: parts[2], Date: parts[3]}
	default:
		return IdentityKey{}, eris.Errorf("identity: unknown record type in key %q", s)
	}

	if err := k.Validate(); err != nil {
		return IdentityKey{}, err
	}
	return k, nil
}

// CasePrefix returns the key prefix shared by every record of the given type
// on one case, used for one-to-many lookups (inspection -> violations).
func CasePrefix(t RecordType, caseNumber string) string {
	return string(t) + keyDelimiter + caseNumber + keyDelimiter
}
