package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/config"
	"github.com/sells-group/enforcement-sync/internal/metrics"
)

const defaultSweepInterval = 5 * time.Minute

// Checker sweeps the run log and review queue on a fixed cadence and posts
// an alert when a threshold first trips. An alert that stays tripped across
// sweeps is posted once; it re-arms after a sweep where it clears.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	firing map[AlertType]bool
}

// NewChecker wires a collector and alerter into a sweep loop.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultSweepInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run sweeps once immediately, then again one interval after each sweep
// finishes, until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	log := zap.L().With(zap.String("component", "monitoring"), zap.Duration("every", every))
	if ctx.Err() != nil {
		return
	}
	log.Info("monitoring sweeps enabled", zap.Int("lookback_hours", c.cfg.LookbackWindowHours))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring sweeps stopped")
			return
		case <-timer.C:
			c.Check(ctx, log)
			timer.Reset(every)
		}
	}
}

// Check runs a single sweep and returns the alerts it posted.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring sweep: collect", zap.Error(err))
		return nil
	}
	metrics.ReviewBacklog.Set(float64(snap.PendingReviews))

	fresh := c.transition(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		return nil
	}
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Warn("monitoring thresholds tripped",
		zap.Int("new_alerts", len(fresh)),
		zap.Int("delivered", sent),
	)
	return fresh
}

// transition records which alert types are tripped now and returns the ones
// that were not tripped on the previous sweep.
func (c *Checker) transition(active []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[AlertType]bool, len(active))
	var fresh []Alert
	for _, a := range active {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.firing = now
	return fresh
}
