package model

import "time"

// StateRow is the last observed state of one identity key, plus any linkage
// resolved against the ticketing system. Linkage fields are zero when unset.
type StateRow struct {
	Key         string    `json:"identity_key"`
	Signature   string    `json:"signature"`
	ContentHash string    `json:"content_hash"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`

	// Violation -> ticket linkage.
	TicketID        int64      `json:"ticket_id,omitempty"`
	MatchMethod     string     `json:"match_method,omitempty"`
	MatchConfidence string     `json:"match_confidence,omitempty"`
	MatchedAt       *time.Time `json:"matched_at,omitempty"`

	// Permit linkage.
	Permit PermitLink `json:"permit,omitempty"`
}

// HasTicket reports whether a ticket is already linked.
func (s *StateRow) HasTicket() bool {
	return s != nil && s.TicketID != 0
}

// PermitLink holds the external IDs a permit resolved to.
type PermitLink struct {
	Key       string `json:"identity_key,omitempty"`
	PermitID  int64  `json:"permit_id,omitempty"`
	TypeID    int64  `json:"type_id,omitempty"`
	SubtypeID int64  `json:"subtype_id,omitempty"`
	StatusID  int64  `json:"status_id,omitempty"`
}

// TicketLink is a resolved violation -> ticket match to be cached.
type TicketLink struct {
	Key        string
	TicketID   int64
	Method     MatchMethod
	Confidence Confidence
	MatchedAt  time.Time
}

// StateUpsert is one row of the full-batch state refresh. Linkage columns are
// never touched by it.
type StateUpsert struct {
	Key         string
	Signature   string
	ContentHash string
	Payload     []byte
	SeenAt      time.Time
}

// Change is one actionable difference between a snapshot and stored state.
// It is computed per ingestion and never persisted.
type Change struct {
	Key           string    `json:"identity_key"`
	Record        *Record   `json:"record"`
	PrevSignature *string   `json:"prev_signature"`
	NewSignature  string    `json:"new_signature"`
	IsNew         bool      `json:"is_new"`
	Prior         *StateRow `json:"prior,omitempty"`
}

// RunMode distinguishes the first-ever ingestion from diff-based runs.
type RunMode string

const (
	RunModeInitial     RunMode = "initial"
	RunModeIncremental RunMode = "incremental"
)

// RunStatus is the lifecycle of a run log row.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunLog is one row per ingestion invocation per record type.
type RunLog struct {
	ID          int64      `json:"id"`
	IngestionID string     `json:"ingestion_id"`
	RecordType  RecordType `json:"record_type"`
	Source      string     `json:"source,omitempty"`
	Mode        RunMode    `json:"mode,omitempty"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Total       int        `json:"total"`
	Changed     int        `json:"changed"`
	Errors      int        `json:"errors"`
	Error       string     `json:"error,omitempty"`
}

// RunSummary carries the counters written when a run completes.
type RunSummary struct {
	RunID   int64   `json:"run_id"`
	Mode    RunMode `json:"mode"`
	Total   int     `json:"total"`
	Changed int     `json:"changed"`
	Errors  int     `json:"errors"`
	Error   string  `json:"error,omitempty"`
}
