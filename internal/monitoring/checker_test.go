package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/config"
	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
)

func TestChecker_Check(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:             ts.URL,
		LookbackWindowHours:    24,
		FailureRateThreshold:   0.25,
		ReviewBacklogThreshold: 2,
	}
	src := &fakeSource{reviews: []model.ReviewItem{{ID: 1}, {ID: 2}, {ID: 3}}}
	checker := NewChecker(newTestCollector(src), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background(), zap.NewNop())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ReviewBacklog))
}

func TestChecker_CheckPostsOncePerEpisode(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, LookbackWindowHours: 24, ReviewBacklogThreshold: 1}
	src := &fakeSource{reviews: []model.ReviewItem{{ID: 1}, {ID: 2}}}
	checker := NewChecker(newTestCollector(src), NewAlerter(cfg), cfg)
	ctx := context.Background()

	require.Len(t, checker.Check(ctx, zap.NewNop()), 1)
	assert.Empty(t, checker.Check(ctx, zap.NewNop()))
	assert.Equal(t, int32(1), received.Load())

	src.reviews = nil
	assert.Empty(t, checker.Check(ctx, zap.NewNop()))

	src.reviews = []model.ReviewItem{{ID: 3}, {ID: 4}}
	require.Len(t, checker.Check(ctx, zap.NewNop()), 1)
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_RunSweepsImmediately(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, CheckIntervalSecs: 3600, ReviewBacklogThreshold: 1}
	src := &fakeSource{reviews: []model.ReviewItem{{ID: 1}, {ID: 2}}}
	checker := NewChecker(newTestCollector(src), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return received.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(&fakeSource{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(newTestCollector(&fakeSource{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultSweepInterval, checker.interval())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
