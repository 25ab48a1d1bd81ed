/*
scheduler.go - Periodic integrity verification

PURPOSE:
  Re-verifies the audit chain and reconciles stock on a fixed interval
  so tampering or drift is noticed without anyone asking. Results are
  logged, kept for the API, and reported to a Recorder (metrics gauges).

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Never repairs anything: a broken chain is reported, not rewritten
  - A failed check is logged at error level and reported as invalid

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  s := integrity.NewScheduler(engine, metrics, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - audit/verify.go: chain verification
  - inventory/reconcile.go: stock reconciliation
*/
package integrity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/inventory"
)

// Checker runs the verifications. sales.Engine implements it.
type Checker interface {
	VerifyChain(ctx context.Context) (audit.Report, error)
	ReconcileStock(ctx context.Context) ([]inventory.StockDrift, error)
}

// Recorder receives check results. metrics.Metrics implements it.
type Recorder interface {
	SetChainValid(valid bool)
	SetStockDrift(products int)
}

type nopRecorder struct{}

func (nopRecorder) SetChainValid(bool) {}
func (nopRecorder) SetStockDrift(int)  {}

// Result is the outcome of one check run.
type Result struct {
	CheckedAt time.Time
	Chain     audit.Report
	Drift     []inventory.StockDrift
	Error     string
}

// Healthy reports whether the chain verified and stock reconciled.
func (r Result) Healthy() bool {
	return r.Error == "" && r.Chain.Valid && len(r.Drift) == 0
}

// Scheduler runs integrity checks in the background.
type Scheduler struct {
	Checker       Checker
	Recorder      Recorder
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *Result
}

// NewScheduler creates a scheduler. A nil recorder discards results.
func NewScheduler(checker Checker, recorder Recorder, log zerolog.Logger) *Scheduler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Scheduler{
		Checker:       checker,
		Recorder:      recorder,
		CheckInterval: time.Hour,
		Enabled:       true,
		log:           log,
		now:           time.Now,
	}
}

// Start begins the scheduler. A non-positive interval disables it.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.log.Info().Msg("integrity scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker.C, s.stop)

	s.log.Info().Dur("interval", s.CheckInterval).Msg("integrity scheduler started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info().Msg("integrity scheduler stopped")
	}
}

func (s *Scheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-tick:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one check synchronously and records its result.
func (s *Scheduler) RunNow(ctx context.Context) Result {
	res := Result{CheckedAt: s.now().UTC()}

	report, err := s.Checker.VerifyChain(ctx)
	if err != nil {
		res.Error = err.Error()
		s.log.Error().Err(err).Msg("audit chain verification could not run")
	}
	res.Chain = report
	s.Recorder.SetChainValid(err == nil && report.Valid)

	if err == nil && !report.Valid {
		s.log.Error().Int64("broken_at", report.BrokenAt).Str("reason", report.Reason).
			Int("records", report.Records).Msg("audit chain broken")
	}

	drift, derr := s.Checker.ReconcileStock(ctx)
	if derr != nil {
		if res.Error == "" {
			res.Error = derr.Error()
		}
		s.log.Error().Err(derr).Msg("stock reconciliation could not run")
	} else {
		res.Drift = drift
		products := map[string]bool{}
		for _, d := range drift {
			products[string(d.ProductID)] = true
			ev := s.log.Warn().Str("product_id", string(d.ProductID)).
				Str("recorded", d.Recorded.String()).Str("computed", d.Computed.String())
			if d.BatchID != 0 {
				ev = ev.Int64("batch_id", d.BatchID)
			}
			ev.Msg("stock drift")
		}
		s.Recorder.SetStockDrift(len(products))
	}

	if res.Healthy() {
		s.log.Debug().Int("records", report.Records).Msg("integrity check passed")
	}

	s.lastMu.Lock()
	s.last = &res
	s.lastMu.Unlock()
	return res
}

// Last returns the most recent result, or nil before the first run.
func (s *Scheduler) Last() *Result {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// NextRunTime returns when the next scheduled check will occur.
func (s *Scheduler) NextRunTime() time.Time {
	return s.now().Add(s.CheckInterval)
}
