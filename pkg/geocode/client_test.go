package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enforcement-sync/internal/resilience"
)

const matchJSON = `{"result":{"addressMatches":[{"coordinates":{"x":-97.7431,"y":30.2672},"matchedAddress":"100 MAIN ST, AUSTIN, TX, 78701"}]}}`

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})
}

func TestGeocode_Match(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100 Main St, Austin, TX", r.URL.Query().Get("address"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(matchJSON))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))
	res, err := c.Geocode(context.Background(), AddressInput{Street: "100 Main St", City: "Austin", State: "TX"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.InDelta(t, 30.2672, res.Latitude, 1e-6)
	assert.InDelta(t, -97.7431, res.Longitude, 1e-6)
	assert.Equal(t, "100 MAIN ST, AUSTIN, TX, 78701", res.MatchedAddress)
}

func TestGeocode_NoMatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"addressMatches":[]}}`))
	}))
	defer srv.Close()

	res, err := NewClient(WithBaseURL(srv.URL)).Geocode(context.Background(), AddressInput{Street: "nowhere"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestGeocode_EmptyAddressSkipsRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	res, err := NewClient(WithBaseURL(srv.URL)).Geocode(context.Background(), AddressInput{City: "Austin"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Zero(t, calls.Load())
}

func TestGeocode_RetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(matchJSON))
	}))
	defer srv.Close()

	res, err := NewClient(WithBaseURL(srv.URL), fastRetry()).Geocode(context.Background(), AddressInput{Street: "100 Main St"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeocode_BadRequestNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL), fastRetry()).Geocode(context.Background(), AddressInput{Street: "100 Main St"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFormatOneLine(t *testing.T) {
	tests := []struct {
		name string
		in   AddressInput
		want string
	}{
		{"street only", AddressInput{Street: "1 A St"}, "1 A St"},
		{"full", AddressInput{Street: "1 A St", City: "Austin", State: "TX", ZipCode: "78701"}, "1 A St, Austin, TX, 78701"},
		{"city already present", AddressInput{Street: "1 A St, Austin", City: "austin", State: "TX"}, "1 A St, Austin, TX"},
		{"blank street", AddressInput{City: "Austin"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatOneLine(tt.in))
		})
	}
}
