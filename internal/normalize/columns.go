package normalize

import (
	"strings"
	"unicode"

	"github.com/sells-group/enforcement-sync/internal/model"
)

type valueKind int

const (
	kindText valueKind = iota
	kindDate
	kindDateTime
)

// column maps one semantic field to the header spellings seen in exports.
// Aliases are in headerKey form and tried in order.
type column struct {
	field   string
	aliases []string
	kind    valueKind
}

var addressAliases = []string{"address", "siteaddress", "propertyaddress", "location", "streetaddress"}

var columnSets = map[model.RecordType][]column{
	model.RecordViolation: {
		{field: model.FieldCaseNumber, aliases: []string{"casenumber", "caseno", "casenum", "caseid", "case"}},
		{field: model.FieldViolationType, aliases: []string{"violationtype", "violationcode", "violation", "code"}},
		{field: model.FieldViolationDate, aliases: []string{"violationdate", "dateofviolation", "dateopened", "opendate"}, kind: kindDate},
		{field: model.FieldStatus, aliases: []string{"status", "violationstatus", "casestatus"}},
		{field: model.FieldAddress, aliases: addressAliases},
		{field: model.FieldCaseType, aliases: []string{"casetype"}},
		{field: model.FieldDescription, aliases: []string{"description", "violationdescription", "comments"}},
		{field: model.FieldInspector, aliases: []string{"inspector", "officer", "assignedto"}},
	},
	model.RecordInspection: {
		{field: model.FieldCaseNumber, aliases: []string{"casenumber", "caseno", "casenum", "caseid", "case"}},
		{field: model.FieldInspectionType, aliases: []string{"inspectiontype", "type"}},
		{field: model.FieldInspectionDate, aliases: []string{"inspectiondate", "scheduleddate", "date"}, kind: kindDate},
		{field: model.FieldResult, aliases: []string{"result", "inspectionresult", "status"}},
		{field: model.FieldAddress, aliases: addressAliases},
		{field: model.FieldInspector, aliases: []string{"inspector", "officer"}},
		{field: model.FieldNotes, aliases: []string{"notes", "comments", "remarks"}},
	},
	model.RecordPermit: {
		{field: model.FieldPermitNumber, aliases: []string{"permitnumber", "permitno", "permitnum", "permitid", "permit"}},
		{field: model.FieldPermitType, aliases: []string{"permittype", "type"}},
		{field: model.FieldPermitSubtype, aliases: []string{"permitsubtype", "subtype", "worktype"}},
		{field: model.FieldStatus, aliases: []string{"status", "permitstatus"}},
		{field: model.FieldAddress, aliases: addressAliases},
		{field: model.FieldAppliedDate, aliases: []string{"applieddate", "applicationdate", "dateapplied"}, kind: kindDateTime},
		{field: model.FieldIssuedDate, aliases: []string{"issueddate", "issuedate", "dateissued"}, kind: kindDateTime},
		{field: model.FieldExpiresDate, aliases: []string{"expiresdate", "expirationdate", "expires"}, kind: kindDateTime},
		{field: model.FieldDescription, aliases: []string{"description", "workdescription"}},
		{field: model.FieldValuation, aliases: []string{"valuation", "jobvalue", "value"}},
		{field: model.FieldContractor, aliases: []string{"contractor", "contractorname"}},
	},
}

// headerKey folds "Case #", "case_number" and "CASE NUMBER" to the same key.
func headerKey(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lookup(byHeader map[string]string, aliases []string) string {
	for _, a := range aliases {
		if v, ok := byHeader[a]; ok && v != "" {
			return v
		}
	}
	return ""
}
