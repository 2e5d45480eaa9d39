// Package geocode resolves street addresses to coordinates through the
// Census one-line geocoder.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enforcement-sync/internal/resilience"
)

const (
	// DefaultBaseURL is the Census one-line address endpoint.
	DefaultBaseURL  = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark = "Public_AR_Current"
)

// Client geocodes a single address.
type Client interface {
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput represents an address to geocode. City and State are appended
// to Street when the street line does not already carry them.
type AddressInput struct {
	Street  string
	City    string
	State   string
	ZipCode string
}

// Result holds the geocoding output. Matched is false when the geocoder
// returned no candidates; that is not an error.
type Result struct {
	Latitude       float64
	Longitude      float64
	MatchedAddress string
	Matched        bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithBaseURL overrides the one-line endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry overrides the retry policy for server errors.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *geocoder) {
		g.retry = cfg
	}
}

type geocoder struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a Census geocoding client.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		limiter:    rate.NewLimiter(5, 5),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
			MatchedAddress string `json:"matchedAddress"`
		} `json:"addressMatches"`
	} `json:"result"`
}

func (g *geocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	line := FormatOneLine(addr)
	if line == "" {
		return &Result{}, nil
	}
	return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Result, error) {
		return g.geocodeOnce(ctx, line)
	})
}

func (g *geocoder) geocodeOnce(ctx context.Context, line string) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"address":   {line},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: census returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var parsed censusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}
	if len(parsed.Result.AddressMatches) == 0 {
		return &Result{}, nil
	}

	m := parsed.Result.AddressMatches[0]
	return &Result{
		Latitude:       m.Coordinates.Y,
		Longitude:      m.Coordinates.X,
		MatchedAddress: m.MatchedAddress,
		Matched:        true,
	}, nil
}

// FormatOneLine joins the address parts into the single line the Census API
// expects, skipping city or state already present in the street line.
func FormatOneLine(addr AddressInput) string {
	street := strings.TrimSpace(addr.Street)
	if street == "" {
		return ""
	}
	parts := []string{street}
	upper := strings.ToUpper(street)
	if c := strings.TrimSpace(addr.City); c != "" && !strings.Contains(upper, strings.ToUpper(c)) {
		parts = append(parts, c)
	}
	if s := strings.TrimSpace(addr.State); s != "" && !strings.Contains(upper, ", "+strings.ToUpper(s)) {
		parts = append(parts, s)
	}
	if z := strings.TrimSpace(addr.ZipCode); z != "" && !strings.Contains(street, z) {
		parts = append(parts, z)
	}
	return strings.Join(parts, ", ")
}
