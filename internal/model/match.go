package model

import (
	"encoding/json"
	"time"
)

// MatchMethod is the resolution tier that produced a ticket linkage.
type MatchMethod string

const (
	MatchCached     MatchMethod = "cached"
	MatchExternalID MatchMethod = "external_id"
	MatchHeuristic  MatchMethod = "heuristic"
	MatchManual     MatchMethod = "manual"
	MatchNone       MatchMethod = "none"
)

// Confidence is the classifier's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Accepted reports whether a match at this confidence may be applied automatically.
func (c Confidence) Accepted() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium
}

// ReviewReason explains why a record was queued for manual review.
type ReviewReason string

const (
	ReasonNoCandidates  ReviewReason = "no_candidates"
	ReasonLowConfidence ReviewReason = "low_confidence"
	ReasonParseError    ReviewReason = "llm_parse_error"
	ReasonAPIError      ReviewReason = "api_error"
	ReasonGeocodeFailed ReviewReason = "geocode_failed"
)

// ReviewStatus is constrained to pending, resolved and skipped.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
	ReviewSkipped  ReviewStatus = "skipped"
)

// MatchResult is the Entity Matcher's answer for one violation.
type MatchResult struct {
	TicketID    int64        `json:"ticket_id,omitempty"`
	Method      MatchMethod  `json:"method"`
	Confidence  Confidence   `json:"confidence,omitempty"`
	NeedsReview bool         `json:"needs_review"`
	Reason      ReviewReason `json:"reason,omitempty"`
}

// Matched reports whether a ticket was resolved.
func (r *MatchResult) Matched() bool {
	return r != nil && r.TicketID != 0
}

// Candidate is a ticket presented to the heuristic classifier.
type Candidate struct {
	TicketID    int64     `json:"ticket_id" yaml:"ticket_id"`
	Summary     string    `json:"summary" yaml:"summary"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Address     string    `json:"address" yaml:"address"`
	Status      string    `json:"status" yaml:"status"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	DistanceM   float64   `json:"distance_m" yaml:"distance_m"`
}

// ReviewItem is a record the matcher could not resolve confidently.
type ReviewItem struct {
	ID               int64           `json:"id" yaml:"id"`
	Key              string          `json:"identity_key" yaml:"identity_key"`
	Payload          json.RawMessage `json:"payload" yaml:"-"`
	Candidates       []Candidate     `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Reason           ReviewReason    `json:"reason" yaml:"reason"`
	Status           ReviewStatus    `json:"status" yaml:"status"`
	ResolvedTicketID int64           `json:"resolved_ticket_id,omitempty" yaml:"resolved_ticket_id,omitempty"`
	ResolutionNote   string          `json:"resolution_note,omitempty" yaml:"resolution_note,omitempty"`
	CreatedAt        time.Time       `json:"created_at" yaml:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// MatchLogEntry audits one matching attempt. Rows are append-only.
type MatchLogEntry struct {
	Key            string      `json:"identity_key" yaml:"identity_key"`
	Method         MatchMethod `json:"method" yaml:"method"`
	CandidateCount int         `json:"candidate_count" yaml:"candidate_count"`
	SelectedTicket int64       `json:"selected_ticket_id,omitempty" yaml:"selected_ticket_id,omitempty"`
	Confidence     Confidence  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Reasoning      string      `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Model          string      `json:"model,omitempty" yaml:"model,omitempty"`
	InputTokens    int64       `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens   int64       `json:"output_tokens" yaml:"output_tokens"`
	CostUSD        float64     `json:"cost_usd" yaml:"cost_usd"`
	DurationMs     int64       `json:"duration_ms" yaml:"duration_ms"`
	Error          string      `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at" yaml:"created_at"`
}
