// Package ticketing provides a rate-limited client for the municipal
// ticketing API: ticket lookup, comments and workflow changes, and permit CRUD.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/resilience"
)

// Client defines the ticketing operations used by the sync pipeline.
type Client interface {
	// FindTicketByExternalID returns the ticket stamped with externalID, or
	// nil when none is.
	FindTicketByExternalID(ctx context.Context, externalID string) (*Ticket, error)
	// FindTicketsByExternalIDPrefix returns every ticket whose stamp starts
	// with prefix.
	FindTicketsByExternalIDPrefix(ctx context.Context, prefix string) ([]Ticket, error)
	ChangeTicketStatus(ctx context.Context, ticketID, stepID int64, comment string) error
	AddComment(ctx context.Context, ticketID int64, comment string) error
	SetExternalID(ctx context.Context, ticketID int64, externalID string) error
	ClearExternalID(ctx context.Context, ticketID int64) error
	NearbyTickets(ctx context.Context, q NearbyQuery) ([]Ticket, error)

	// GetPermit returns the permit with the given number, or nil.
	GetPermit(ctx context.Context, number string) (*Permit, error)
	CreatePermit(ctx context.Context, p Permit) (int64, error)
	UpdatePermit(ctx context.Context, id int64, p Permit) error
	BulkCreatePermits(ctx context.Context, permits []Permit) ([]BulkResult, error)

	ListPermitTypes(ctx context.Context) ([]PermitType, error)
	CreatePermitType(ctx context.Context, name string, parentID int64) (*PermitType, error)
	ListPermitStatuses(ctx context.Context) ([]PermitStatus, error)
	CreatePermitStatus(ctx context.Context, name string) (*PermitStatus, error)
}

// Option configures the ticketing client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithMinInterval sets the minimum spacing between requests. Zero disables
// spacing.
func WithMinInterval(d time.Duration) Option {
	return func(c *httpClient) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRateLimitRetries sets how many 429 responses are retried.
func WithRateLimitRetries(n int) Option {
	return func(c *httpClient) {
		if n >= 0 {
			c.rateLimitRetries = n
		}
	}
}

// WithServerErrorRetries sets how many 5xx or network failures are retried.
func WithServerErrorRetries(n int) Option {
	return func(c *httpClient) {
		if n >= 0 {
			c.serverErrorRetries = n
		}
	}
}

// WithMaxRateLimitWait caps the wait derived from rate-limit headers.
func WithMaxRateLimitWait(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.maxRateLimitWait = d
		}
	}
}

// WithBackoff sets the linear backoff step for server errors and the
// fallback wait for 429s without usable headers.
func WithBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.backoff = d
		}
	}
}

type httpClient struct {
	baseURL            string
	token              string
	orgID              string
	http               *http.Client
	limiter            *rate.Limiter
	rateLimitRetries   int
	serverErrorRetries int
	maxRateLimitWait   time.Duration
	backoff            time.Duration
	log                *zap.Logger
}

// NewClient creates a ticketing client scoped to one organization.
func NewClient(baseURL, token, orgID string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		token:   token,
		orgID:   orgID,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:            rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		rateLimitRetries:   5,
		serverErrorRetries: 3,
		maxRateLimitWait:   60 * time.Second,
		backoff:            time.Second,
		log:                zap.L().With(zap.String("component", "ticketing")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func jsonRequest(method, path string, payload any) (request, error) {
	req := request{method: method, path: path}
	if payload == nil {
		return req, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return req, eris.Wrap(err, "ticketing: marshal request")
	}
	req.body = b
	req.contentType = "application/json"
	return req, nil
}

// do sends req, retrying 429s and server errors on separate budgets, and
// decodes a JSON response into out when out is non-nil.
func (c *httpClient) do(ctx context.Context, req request, out any) error {
	var rateLimited, serverErrors int

	cfg := resilience.RetryConfig{
		MaxAttempts:    c.rateLimitRetries + c.serverErrorRetries + 1,
		InitialBackoff: c.backoff,
		MaxBackoff:     c.maxRateLimitWait,
		Strategy:       resilience.Linear,
		ShouldRetry: func(err error) bool {
			if resilience.IsRateLimited(err) {
				rateLimited++
				return rateLimited <= c.rateLimitRetries
			}
			if resilience.IsTransient(err) {
				serverErrors++
				return serverErrors <= c.serverErrorRetries
			}
			return false
		},
		Delay: func(_ int, err error) time.Duration {
			if resilience.IsRateLimited(err) {
				if d, ok := resilience.RetryAfterOf(err); ok {
					return d
				}
				return c.backoff
			}
			return c.backoff * time.Duration(serverErrors)
		},
		OnRetry: func(attempt int, err error) {
			reason := "server_error"
			if resilience.IsRateLimited(err) {
				reason = "rate_limited"
			}
			metrics.GatewayRetries.WithLabelValues(reason).Inc()
			c.log.Warn("retrying request",
				zap.String("method", req.method),
				zap.String("path", req.path),
				zap.String("reason", reason),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.attempt(ctx, req)
	})
	if err != nil {
		return eris.Wrapf(err, "ticketing: %s %s", req.method, req.path)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "ticketing: decode %s %s", req.method, req.path)
	}
	return nil
}

func (c *httpClient) attempt(ctx context.Context, req request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ticketing: rate limit wait")
	}

	u := c.baseURL + "/organizations/" + url.PathEscape(c.orgID) + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, reader)
	if err != nil {
		return nil, eris.Wrap(err, "ticketing: create request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(req.method, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ticketing: read body"), resp.StatusCode)
	}
	metrics.GatewayRequests.WithLabelValues(req.method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Method:     req.method,
		Path:       req.path,
		Body:       string(body),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		te := resilience.NewTransientError(apiErr, resp.StatusCode)
		te.RetryAfter = resilience.ParseRetryAfter(resp.Header, time.Now(), c.backoff, c.maxRateLimitWait)
		return nil, te
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
	default:
		return nil, apiErr
	}
}

func ticketPath(ticketID int64, suffix string) string {
	return fmt.Sprintf("/tickets/%d%s", ticketID, suffix)
}
