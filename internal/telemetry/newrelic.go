// Package telemetry provides New Relic APM integration for monitoring
// fastmine's inversion attempts.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/tos-network/fastmine/internal/config"
	"github.com/tos-network/fastmine/internal/util"
)

// Agent wraps New Relic APM functionality.
type Agent struct {
	cfg *config.TelemetryConfig
	app *newrelic.Application
	mu  sync.RWMutex
}

// NewAgent creates a new telemetry agent.
func NewAgent(cfg *config.TelemetryConfig) *Agent {
	return &Agent{cfg: cfg}
}

// Start initializes the New Relic agent.
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("New Relic APM disabled")
		return nil
	}

	if a.cfg.LicenseKey == "" {
		util.Warn("New Relic license key not configured, APM disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}

	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("New Relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()

	util.Infof("New Relic APM enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop shuts down the New Relic agent.
func (a *Agent) Stop() {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		util.Info("Shutting down New Relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// Application returns the underlying New Relic application (for middleware).
func (a *Agent) Application() *newrelic.Application {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app
}

// IsEnabled returns true if New Relic is enabled and connected.
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app != nil
}

// StartTransaction starts a new New Relic transaction.
func (a *Agent) StartTransaction(name string) *newrelic.Transaction {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app == nil {
		return nil
	}
	return app.StartTransaction(name)
}

// RecordCustomEvent records a custom event.
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric.
func (a *Agent) RecordCustomMetric(name string, value float64) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomMetric(name, value)
	}
}

// NoticeError records an error.
func (a *Agent) NoticeError(txn *newrelic.Transaction, err error) {
	if txn != nil && err != nil {
		txn.NoticeError(err)
	}
}

// NewContext adds a transaction to ctx.
func (a *Agent) NewContext(ctx context.Context, txn *newrelic.Transaction) context.Context {
	if txn == nil {
		return ctx
	}
	return newrelic.NewContext(ctx, txn)
}

// FromContext gets a transaction from ctx.
func (a *Agent) FromContext(ctx context.Context) *newrelic.Transaction {
	return newrelic.FromContext(ctx)
}

// RecordAttempt records one inversion attempt, successful or not. This
// replaces the pool's RecordShareSubmission with the same shape.
func (a *Agent) RecordAttempt(tier string, latency time.Duration, success bool) {
	status := "solved"
	if !success {
		status = "failed"
	}
	a.RecordCustomEvent("InversionAttempt", map[string]interface{}{
		"tier":       tier,
		"latency_ms": latency.Milliseconds(),
		"status":     status,
	})
}

// RecordHardSolve records a hard (rare-tier) solve event.
func (a *Agent) RecordHardSolve(tier string, nonce string) {
	a.RecordCustomEvent("HardSolve", map[string]interface{}{
		"tier":  tier,
		"nonce": nonce,
	})
}

// UpdateClientMetrics updates client-wide throughput metrics.
func (a *Agent) UpdateClientMetrics(solvedPerSec float64, activeConns int64) {
	a.RecordCustomMetric("Custom/Client/SolvedPerSec", solvedPerSec)
	a.RecordCustomMetric("Custom/Client/ActiveConnections", float64(activeConns))
}
