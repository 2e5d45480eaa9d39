package ticketing

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

func (c *httpClient) FindTicketByExternalID(ctx context.Context, externalID string) (*Ticket, error) {
	var resp listResponse[Ticket]
	req := request{method: http.MethodGet, path: "/tickets", query: url.Values{"external_id": {externalID}}}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Data {
		if resp.Data[i].ExternalID == externalID {
			return &resp.Data[i], nil
		}
	}
	return nil, nil
}

func (c *httpClient) FindTicketsByExternalIDPrefix(ctx context.Context, prefix string) ([]Ticket, error) {
	var resp listResponse[Ticket]
	req := request{method: http.MethodGet, path: "/tickets", query: url.Values{"external_id_prefix": {prefix}}}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	out := resp.Data[:0]
	for _, t := range resp.Data {
		if strings.HasPrefix(t.ExternalID, prefix) {
			out = append(out, t)
		}
	}
	return out, nil
}

type workflowBody struct {
	StepID  int64  `json:"step_id"`
	Comment string `json:"comment,omitempty"`
}

func (c *httpClient) ChangeTicketStatus(ctx context.Context, ticketID, stepID int64, comment string) error {
	if stepID <= 0 {
		return eris.New("ticketing: workflow step id is required")
	}
	req, err := jsonRequest(http.MethodPost, ticketPath(ticketID, "/workflow"), workflowBody{StepID: stepID, Comment: comment})
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// AddComment posts a form-encoded comment.
func (c *httpClient) AddComment(ctx context.Context, ticketID int64, comment string) error {
	req := request{
		method:      http.MethodPost,
		path:        ticketPath(ticketID, "/comments"),
		body:        []byte(url.Values{"comment": {comment}}.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}
	return c.do(ctx, req, nil)
}

func (c *httpClient) SetExternalID(ctx context.Context, ticketID int64, externalID string) error {
	req, err := jsonRequest(http.MethodPut, ticketPath(ticketID, "/external_id"), map[string]string{"external_id": externalID})
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

func (c *httpClient) ClearExternalID(ctx context.Context, ticketID int64) error {
	return c.do(ctx, request{method: http.MethodDelete, path: ticketPath(ticketID, "/external_id")}, nil)
}

func (c *httpClient) NearbyTickets(ctx context.Context, q NearbyQuery) ([]Ticket, error) {
	exclude := q.ExcludeStatus
	if exclude == "" {
		exclude = "resolved"
	}
	query := url.Values{
		"lat":            {strconv.FormatFloat(q.Lat, 'f', 6, 64)},
		"lng":            {strconv.FormatFloat(q.Lng, 'f', 6, 64)},
		"radius_m":       {strconv.FormatFloat(q.RadiusMeters, 'f', 0, 64)},
		"exclude_status": {exclude},
	}
	if !q.CreatedAfter.IsZero() {
		query.Set("created_after", q.CreatedAfter.UTC().Format(time.RFC3339))
	}

	var resp listResponse[Ticket]
	if err := c.do(ctx, request{method: http.MethodGet, path: "/tickets/nearby", query: query}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
