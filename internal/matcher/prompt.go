package matcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/enforcement-sync/internal/model"
)

const systemPrompt = `You match code-enforcement violation records to existing service tickets.
Given one violation and a list of nearby open tickets, pick the ticket that reports the same
problem at the same property, or null if none does.
Respond with JSON only: {"ticket_id": <candidate id or null>, "confidence": "high"|"medium"|"low", "reasoning": "<one sentence>"}.
Only choose a ticket_id from the candidate list.`

// promptFields are the violation fields shown to the classifier.
var promptFields = []string{
	model.FieldCaseNumber,
	model.FieldViolationType,
	model.FieldViolationDate,
	model.FieldStatus,
	model.FieldAddress,
	model.FieldCaseType,
	model.FieldDescription,
}

func buildPrompt(rec *model.Record, cands []model.Candidate) (string, error) {
	var b strings.Builder
	b.WriteString("Violation:\n")
	for _, f := range promptFields {
		if v := rec.Field(f); v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", f, v)
		}
	}

	type promptCandidate struct {
		TicketID    int64   `json:"ticket_id"`
		Summary     string  `json:"summary"`
		Description string  `json:"description,omitempty"`
		Address     string  `json:"address,omitempty"`
		Status      string  `json:"status,omitempty"`
		Created     string  `json:"created"`
		DistanceM   float64 `json:"distance_m"`
	}
	list := make([]promptCandidate, len(cands))
	for i, c := range cands {
		list[i] = promptCandidate{
			TicketID:    c.TicketID,
			Summary:     c.Summary,
			Description: c.Description,
			Address:     c.Address,
			Status:      c.Status,
			Created:     c.CreatedAt.Format("2006-01-02"),
			DistanceM:   c.DistanceM,
		}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", err
	}
	b.WriteString("\nCandidate tickets:\n")
	b.Write(data)
	b.WriteString("\n")
	return b.String(), nil
}
