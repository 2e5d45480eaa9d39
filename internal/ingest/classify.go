package ingest

import (
	"path"
	"strings"

	"github.com/sells-group/enforcement-sync/internal/model"
)

var typeHints = []struct {
	t     model.RecordType
	words []string
}{
	{model.RecordInspection, []string{"inspection"}},
	{model.RecordPermit, []string{"permit"}},
	{model.RecordViolation, []string{"violation", "code case", "code_case", "codecase", "enforcement"}},
}

// ClassifyAttachment guesses the record type of a CSV attachment from its
// filename, falling back to the message subject. Non-CSV files are rejected.
func ClassifyAttachment(filename, subject string) (model.RecordType, bool) {
	ext := strings.ToLower(path.Ext(filename))
	if ext != ".csv" && ext != ".txt" {
		return "", false
	}
	base := strings.TrimSuffix(strings.ToLower(path.Base(strings.ReplaceAll(filename, "\\", "/"))), ext)
	if t, ok := matchHint(base); ok {
		return t, true
	}
	return matchHint(strings.ToLower(subject))
}

func matchHint(s string) (model.RecordType, bool) {
	if s == "" {
		return "", false
	}
	for _, h := range typeHints {
		for _, w := range h.words {
			if strings.Contains(s, w) {
				return h.t, true
			}
		}
	}
	return "", false
}
