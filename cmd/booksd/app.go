package main

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/config"
	"github.com/warp/books-engine/inventory"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/logger"
	"github.com/warp/books-engine/metrics"
	"github.com/warp/books-engine/sales"
	"github.com/warp/books-engine/store/sqlite"
	"github.com/warp/books-engine/tax"
)

// app is one wired engine over one store.
type app struct {
	cfg      *config.Config
	store    *sqlite.Store
	hasher   *audit.Hasher
	chain    *audit.Chain
	engine   *sales.Engine
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	log      zerolog.Logger
}

// newApp opens the store (running migrations) and wires every component.
func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	logger.Setup(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: logOut})
	log := logger.WithComponent("booksd")

	rates, err := cfg.TaxRates()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry, metrics.Config{ServiceName: "booksd", Environment: cfg.Environment})

	hasher := audit.NewHasher(audit.WithTimeout(cfg.AuditHashTimeout))
	chain := audit.New(
		audit.WithHasher(hasher),
		audit.WithSealObserver(m.ObserveSeal),
	)

	engine := sales.New(store,
		tax.NewEngine(rates),
		ledger.New(),
		inventory.New(inventory.WithStockoutPolicy(cfg.StockoutPolicy)),
		chain,
		sales.WithLogger(logger.WithComponent("sales")),
		sales.WithObserver(m),
	)

	log.Debug().Str("db", cfg.DBPath).Str("stockout_policy", string(cfg.StockoutPolicy)).
		Str("tax_state", rates.State).Dur("audit_hash_timeout", cfg.AuditHashTimeout).
		Msg("engine wired")

	return &app{
		cfg:      cfg,
		store:    store,
		hasher:   hasher,
		chain:    chain,
		engine:   engine,
		metrics:  m,
		registry: registry,
		log:      log,
	}, nil
}

// Close stops the hash worker and closes the database.
func (a *app) Close() error {
	a.chain.Close()
	a.hasher.Close()
	return a.store.Close()
}
