// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	NotificationsSent    prometheus.Counter
	NotificationsEdited  prometheus.Counter
	NotificationsDeleted prometheus.Counter
	ReconcileCycles      prometheus.Counter
	ReconcileHeals       prometheus.Counter
	BackfillRows         prometheus.Counter
	MirroredMessages     prometheus.Counter
	TreasuryAlerts       prometheus.Counter
	WebhookDuplicates    prometheus.Counter

	// Gauges
	TreasuryBalanceGauge prometheus.Gauge
	MappingRowsGauge     prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_notifications_sent_total", Help: "Derived notifications sent"})
		NotificationsEdited = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_notifications_edited_total", Help: "Derived notifications edited in place"})
		NotificationsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_notifications_deleted_total", Help: "Derived notifications deleted"})
		ReconcileCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_reconcile_cycles_total", Help: "Reconciler sweeps completed"})
		ReconcileHeals = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_reconcile_heals_total", Help: "Mapping rows healed (deleted or re-linked) by the reconciler"})
		BackfillRows = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_backfill_rows_total", Help: "Mapping rows inserted during startup backfill"})
		MirroredMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_mirrored_messages_total", Help: "Foreign chat messages mirrored"})
		TreasuryAlerts = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_treasury_alerts_total", Help: "Treasury transaction alerts sent"})
		WebhookDuplicates = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_webhook_duplicates_total", Help: "Webhook deliveries dropped by the tx-hash idempotency check"})
		TreasuryBalanceGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_treasury_balance_ether", Help: "Last observed treasury balance in ether"})
		MappingRowsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_mapping_rows", Help: "Current number of mapping rows"})
	})
}

// Inc increments a counter if metrics are initialized (no-op in tests that
// skip Init).
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Add increments a counter by n if metrics are initialized.
func Add(c prometheus.Counter, n float64) {
	if c != nil {
		c.Add(n)
	}
}

// SetTreasuryBalance records the last polled balance.
func SetTreasuryBalance(ether float64) {
	if TreasuryBalanceGauge != nil {
		TreasuryBalanceGauge.Set(ether)
	}
}

// SetMappingRows records the current mapping row count.
func SetMappingRows(n int) {
	if MappingRowsGauge != nil {
		MappingRowsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}
