package ticketing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

func (c *httpClient) GetPermit(ctx context.Context, number string) (*Permit, error) {
	var resp listResponse[Permit]
	req := request{method: http.MethodGet, path: "/permits", query: url.Values{"number": {number}}}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Data {
		if strings.EqualFold(resp.Data[i].Number, number) {
			return &resp.Data[i], nil
		}
	}
	return nil, nil
}

func (c *httpClient) CreatePermit(ctx context.Context, p Permit) (int64, error) {
	p.ID = 0
	req, err := jsonRequest(http.MethodPost, "/permits", p)
	if err != nil {
		return 0, err
	}
	var resp idResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, eris.Errorf("ticketing: create permit %s returned no id", p.Number)
	}
	return resp.ID, nil
}

func (c *httpClient) UpdatePermit(ctx context.Context, id int64, p Permit) error {
	p.ID = 0
	req, err := jsonRequest(http.MethodPut, fmt.Sprintf("/permits/%d", id), p)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// BulkCreatePermits creates permits in one call. A transport or non-2xx
// failure fails the whole call; per-item failures are reported in the
// index-aligned results.
func (c *httpClient) BulkCreatePermits(ctx context.Context, permits []Permit) ([]BulkResult, error) {
	if len(permits) == 0 {
		return nil, nil
	}
	req, err := jsonRequest(http.MethodPost, "/permits/bulk", map[string]any{"permits": permits})
	if err != nil {
		return nil, err
	}
	var resp bulkResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	// Items the server omitted are reported as failures.
	results := make([]BulkResult, len(permits))
	for i := range results {
		results[i] = BulkResult{Index: i, Error: "missing from bulk response"}
	}
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(permits) {
			continue
		}
		results[r.Index] = r
	}
	return results, nil
}

func (c *httpClient) ListPermitTypes(ctx context.Context) ([]PermitType, error) {
	var resp listResponse[PermitType]
	if err := c.do(ctx, request{method: http.MethodGet, path: "/permit_types"}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *httpClient) CreatePermitType(ctx context.Context, name string, parentID int64) (*PermitType, error) {
	req, err := jsonRequest(http.MethodPost, "/permit_types", PermitType{Name: name, ParentID: parentID})
	if err != nil {
		return nil, err
	}
	var out PermitType
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name = name
	}
	out.ParentID = parentID
	return &out, nil
}

func (c *httpClient) ListPermitStatuses(ctx context.Context) ([]PermitStatus, error) {
	var resp listResponse[PermitStatus]
	if err := c.do(ctx, request{method: http.MethodGet, path: "/permit_statuses"}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *httpClient) CreatePermitStatus(ctx context.Context, name string) (*PermitStatus, error) {
	req, err := jsonRequest(http.MethodPost, "/permit_statuses", PermitStatus{Name: name})
	if err != nil {
		return nil, err
	}
	var out PermitStatus
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name = name
	}
	return &out, nil
}
