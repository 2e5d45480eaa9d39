package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", fmt.Errorf("call: %w", NewTransientError(errors.New("limited"), 429)), true},
		{"plain", errors.New("invalid input"), false},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"io timeout text", errors.New("read tcp: i/o timeout"), true},
		{"eof text", errors.New("Post: unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(fmt.Errorf("x: %w", NewTransientError(errors.New("slow down"), 429))) {
		t.Error("429 should be rate limited")
	}
	if IsRateLimited(NewTransientError(errors.New("down"), 503)) {
		t.Error("503 is not rate limited")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 422, 501} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fallback := 2 * time.Second
	ceiling := 30 * time.Second

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"none", http.Header{}, fallback},
		{"seconds", http.Header{"Retry-After": {"7"}}, 7 * time.Second},
		{"http date", http.Header{"Retry-After": {now.Add(10 * time.Second).Format(http.TimeFormat)}}, 10 * time.Second},
		{"reset epoch", http.Header{"X-Ratelimit-Reset": {fmt.Sprint(now.Add(4 * time.Second).Unix())}}, 4 * time.Second},
		{"reset delta", http.Header{"X-Ratelimit-Reset": {"3"}}, 3 * time.Second},
		{"capped", http.Header{"Retry-After": {"3600"}}, ceiling},
		{"past date", http.Header{"Retry-After": {now.Add(-time.Minute).Format(http.TimeFormat)}}, 0},
		{"garbage", http.Header{"Retry-After": {"soon"}}, fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.header, now, fallback, ceiling); got != tt.want {
				t.Errorf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &TransientError{Err: errors.New("429"), StatusCode: 429, RetryAfter: time.Second})
	d, ok := RetryAfterOf(err)
	if !ok || d != time.Second {
		t.Errorf("got %v %v", d, ok)
	}
	if _, ok := RetryAfterOf(errors.New("plain")); ok {
		t.Error("plain error carries no retry-after")
	}
}
