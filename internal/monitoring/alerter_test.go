package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enforcement-sync/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold:   0.25,
		ChangeErrorThreshold:   10,
		ReviewBacklogThreshold: 50,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{
		RunsTotal:      20,
		RunsCompleted:  19,
		RunsFailed:     1,
		FailRate:       0.05,
		ChangeErrors:   3,
		PendingReviews: 10,
		LookbackHours:  24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{
		RunsCompleted: 3,
		RunsFailed:    3,
		FailRate:      0.5,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{
		RunsCompleted: 1,
		RunsFailed:    1,
		FailRate:      0.5,
		LookbackHours: 24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ChangeErrorsAndBacklog(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{
		ChangeErrors:   12,
		Changed:        40,
		PendingReviews: 50,
		LookbackHours:  24,
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertChangeErrors, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "12 change(s)")
	assert.Equal(t, AlertReviewBacklog, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "50 review item(s)")
}

func TestAlerter_Evaluate_ZeroThresholdsDisable(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 1})
	alerts := a.Evaluate(&Snapshot{ChangeErrors: 1000, PendingReviews: 1000, RunsCompleted: 5})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert)) {
			assert.NotEmpty(t, alert.Type)
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "a"},
		{Type: AlertReviewBacklog, Severity: "medium", Message: "b"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertChangeErrors}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertChangeErrors}}))
}
