package matcher

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sells-group/enforcement-sync/internal/model"
)

const responseSchemaURL = "https://schemas.enforcement-sync.local/match-response.json"

const responseSchema = `{
  "type": "object",
  "required": ["ticket_id", "confidence"],
  "properties": {
    "ticket_id": {"type": ["integer", "null"]},
    "confidence": {"enum": ["high", "medium", "low"]},
    "reasoning": {"type": "string"}
  }
}`

func compileResponseSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(responseSchema))
	if err != nil {
		return nil, eris.Wrap(err, "matcher: parse response schema")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(responseSchemaURL, doc); err != nil {
		return nil, eris.Wrap(err, "matcher: add response schema")
	}
	sch, err := c.Compile(responseSchemaURL)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: compile response schema")
	}
	return sch, nil
}

type classification struct {
	TicketID   *int64           `json:"ticket_id"`
	Confidence model.Confidence `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
}

// parseClassification validates the classifier output and checks the chosen
// ticket was one of the candidates.
func parseClassification(schema *jsonschema.Schema, text string, cands []model.Candidate) (*classification, error) {
	cleaned := cleanJSON(text)

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(cleaned))
	if err != nil {
		return nil, eris.Wrap(err, "matcher: response is not json")
	}
	if err := schema.Validate(inst); err != nil {
		return nil, eris.Wrap(err, "matcher: response does not match schema")
	}

	var out classification
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, eris.Wrap(err, "matcher: decode response")
	}
	if out.TicketID != nil {
		found := false
		for _, c := range cands {
			if c.TicketID == *out.TicketID {
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Errorf("matcher: ticket %d was not a candidate", *out.TicketID)
		}
	}
	return &out, nil
}

// cleanJSON strips markdown fences and surrounding prose from model output.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
