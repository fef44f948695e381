// Package metrics exposes Prometheus instrumentation for the transfer and
// ledger paths. A nil *Collector disables recording, so services can be
// wired without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	transfersCompleted  prometheus.Counter
	transfersFailed     prometheus.Counter
	transfersRolledBack prometheus.Counter
	transferConflicts   prometheus.Counter
	transferDuration    prometheus.Histogram
	ledgerAppends       prometheus.Counter
	accountBalance      *prometheus.GaugeVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		registry: registry,
		transfersCompleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "transfers_completed_total",
			Help: "Total number of completed transfers",
		}),
		transfersFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "transfers_failed_total",
			Help: "Total number of transfers rejected or failed",
		}),
		transfersRolledBack: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "transfers_rolled_back_total",
			Help: "Total number of transfers compensated after a committed debit",
		}),
		transferConflicts: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "transfer_conditional_write_conflicts_total",
			Help: "Total number of conditional balance writes that lost a race",
		}),
		transferDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "transfer_duration_seconds",
			Help:    "Time taken to complete a transfer",
			Buckets: prometheus.DefBuckets,
		}),
		ledgerAppends: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "ledger_appends_total",
			Help: "Total number of records appended to the ledger",
		}),
		accountBalance: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "account_balance",
			Help: "Last observed account balance",
		}, []string{"account_id"}),
	}
}

// Handler serves the collector's registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) TransferCompleted(d time.Duration) {
	if c == nil {
		return
	}
	c.transfersCompleted.Inc()
	c.transferDuration.Observe(d.Seconds())
}

func (c *Collector) TransferFailed() {
	if c == nil {
		return
	}
	c.transfersFailed.Inc()
}

func (c *Collector) TransferRolledBack() {
	if c == nil {
		return
	}
	c.transfersRolledBack.Inc()
}

func (c *Collector) ConditionalWriteConflict() {
	if c == nil {
		return
	}
	c.transferConflicts.Inc()
}

func (c *Collector) LedgerAppended() {
	if c == nil {
		return
	}
	c.ledgerAppends.Inc()
}

func (c *Collector) ObserveBalance(accountID string, balance float64) {
	if c == nil {
		return
	}
	c.accountBalance.WithLabelValues(accountID).Set(balance)
}
