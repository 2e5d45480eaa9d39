package ticketing

import "time"

// Ticket is a work item in the ticketing system.
type Ticket struct {
	ID          int64     `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Address     string    `json:"address"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	ExternalID  string    `json:"external_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NearbyQuery selects open tickets around a point.
type NearbyQuery struct {
	Lat          float64
	Lng          float64
	RadiusMeters float64
	CreatedAfter time.Time
	// ExcludeStatus defaults to "resolved" when empty.
	ExcludeStatus string
}

// Permit is the ticketing system's permit resource.
type Permit struct {
	ID          int64  `json:"id,omitempty"`
	Number      string `json:"number"`
	TypeID      int64  `json:"type_id,omitempty"`
	SubtypeID   int64  `json:"subtype_id,omitempty"`
	StatusID    int64  `json:"status_id,omitempty"`
	Address     string `json:"address,omitempty"`
	Description string `json:"description,omitempty"`
	AppliedAt   string `json:"applied_at,omitempty"`
	IssuedAt    string `json:"issued_at,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	Valuation   string `json:"valuation,omitempty"`
	Contractor  string `json:"contractor,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
}

// BulkResult is the outcome of one item in a bulk create, aligned to the
// request by Index.
type BulkResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PermitType is a permit type or, when ParentID is set, a subtype.
type PermitType struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID int64  `json:"parent_id,omitempty"`
}

// PermitStatus is a named permit status.
type PermitStatus struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

type bulkResponse struct {
	Results []BulkResult `json:"results"`
}
