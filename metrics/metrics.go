/*
Package metrics exposes the engine's prometheus instruments.

PURPOSE:
  One Metrics value per process, registered on an injected Registerer so
  tests can use a private registry. Metrics implements sales.Observer and
  provides the audit chain's seal observer.

INSTRUMENTS:
  books_sales_total{outcome}            counter   posted | rejected | failed
  books_sale_duration_seconds           histogram
  books_audit_seal_duration_seconds     histogram
  books_audit_seal_failures_total       counter
  books_stockouts_total{product_id}     counter
  books_tax_fallbacks_total             counter
  books_audit_chain_valid               gauge     1 valid, 0 broken
  books_stock_drift_products            gauge

SEE ALSO:
  - sales/engine.go: Observer
  - integrity/scheduler.go: chain validity + drift gauges
*/
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/books-engine/core"
)

const namespace = "books"

// Config labels every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics holds the registered instruments.
type Metrics struct {
	sales         *prometheus.CounterVec
	saleDuration  prometheus.Histogram
	sealDuration  prometheus.Histogram
	sealFailures  prometheus.Counter
	stockouts     *prometheus.CounterVec
	taxFallbacks  prometheus.Counter
	chainValid    prometheus.Gauge
	driftProducts prometheus.Gauge
}

// New registers the instruments on registerer. A nil registerer means
// prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "booksd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &Metrics{
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sales_total",
			Help:        "Sales processed, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		saleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "sale_duration_seconds",
			Help:        "Time to validate and post a sale.",
			ConstLabels: constLabels,
			Buckets:     []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		}),
		sealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "audit_seal_duration_seconds",
			Help:        "Time to hash and append one audit record.",
			ConstLabels: constLabels,
			Buckets:     []float64{.0005, .001, .0025, .005, .01, .05, .1, .5, 1, 3},
		}),
		sealFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "audit_seal_failures_total",
			Help:        "Audit records that could not be sealed.",
			ConstLabels: constLabels,
		}),
		stockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stockouts_total",
			Help:        "Shipments not fully backed by batches.",
			ConstLabels: constLabels,
		}, []string{"product_id"}),
		taxFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "tax_fallbacks_total",
			Help:        "Sales taxed at the base rate because the jurisdiction was unknown.",
			ConstLabels: constLabels,
		}),
		chainValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "audit_chain_valid",
			Help:        "1 when the last verification found the audit chain intact.",
			ConstLabels: constLabels,
		}),
		driftProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stock_drift_products",
			Help:        "Products whose stock differs from their movement history.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.sales, m.saleDuration, m.sealDuration, m.sealFailures,
		m.stockouts, m.taxFallbacks, m.chainValid, m.driftProducts,
	)
	return m
}

// ObserveSale records one ProcessSale call.
func (m *Metrics) ObserveSale(outcome string, elapsed time.Duration) {
	m.sales.WithLabelValues(outcome).Inc()
	m.saleDuration.Observe(elapsed.Seconds())
}

// TaxFallback counts a sale taxed at the base rate only.
func (m *Metrics) TaxFallback(string) {
	m.taxFallbacks.Inc()
}

// Stockout counts an unbacked shipment.
func (m *Metrics) Stockout(productID core.ProductID) {
	m.stockouts.WithLabelValues(string(productID)).Inc()
}

// ObserveSeal is passed to audit.WithSealObserver.
func (m *Metrics) ObserveSeal(elapsed time.Duration, err error) {
	m.sealDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.sealFailures.Inc()
	}
}

// SetChainValid records the outcome of a chain verification.
func (m *Metrics) SetChainValid(valid bool) {
	if valid {
		m.chainValid.Set(1)
		return
	}
	m.chainValid.Set(0)
}

// SetStockDrift records how many products failed reconciliation.
func (m *Metrics) SetStockDrift(products int) {
	m.driftProducts.Set(float64(products))
}
