package reconcile

import (
	"fmt"
	"strings"

	"github.com/sells-group/enforcement-sync/internal/model"
)

func prevSignature(ch model.Change) string {
	if ch.PrevSignature == nil {
		return ""
	}
	return *ch.PrevSignature
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func closeComment(ch model.Change) string {
	r := ch.Record
	return fmt.Sprintf("Code case %s (%s) closed with status %s on %s. Ticket closed automatically.",
		r.Identity.CaseNumber, orNone(r.Field(model.FieldViolationType)),
		r.Field(model.FieldStatus), orNone(r.Field(model.FieldViolationDate)))
}

func violationComment(ch model.Change, sigField string) string {
	r := ch.Record
	var b strings.Builder
	fmt.Fprintf(&b, "Code case %s (%s) updated.", r.Identity.CaseNumber, orNone(r.Field(model.FieldViolationType)))
	if sigField == model.FieldStatus {
		fmt.Fprintf(&b, " Status: %s -> %s.", orNone(prevSignature(ch)), orNone(ch.NewSignature))
	} else {
		fmt.Fprintf(&b, " Status: %s.", orNone(r.Field(model.FieldStatus)))
	}
	return b.String()
}

func inspectionComment(ch model.Change, sigField string) string {
	r := ch.Record
	var b strings.Builder
	fmt.Fprintf(&b, "Inspection for code case %s: %s on %s",
		r.Identity.CaseNumber, orNone(r.Field(model.FieldInspectionType)), orNone(r.Field(model.FieldInspectionDate)))
	switch {
	case ch.IsNew:
		fmt.Fprintf(&b, " recorded with result %s.", orNone(r.Field(model.FieldResult)))
	case sigField != model.FieldResult:
		fmt.Fprintf(&b, " updated, result %s.", orNone(r.Field(model.FieldResult)))
	default:
		fmt.Fprintf(&b, " result changed from %s to %s.", orNone(prevSignature(ch)), orNone(r.Field(model.FieldResult)))
	}
	if insp := r.Field(model.FieldInspector); insp != "" {
		fmt.Fprintf(&b, " Inspector: %s.", insp)
	}
	if notes := r.Field(model.FieldNotes); notes != "" {
		fmt.Fprintf(&b, " Notes: %s", notes)
	}
	return b.String()
}
