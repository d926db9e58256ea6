// Package syncer downloads the distribution backlog of configured companies
// in the background.
//
// Each run walks every company: it loads the company's certificate, reads
// the stored cursor and calls the distribution service page by page until
// the service reports no more documents, the page cap is reached, the
// cursor stops advancing or the service refuses the call.
//
// # Cursor Safety
//
// A page's documents are saved before the cursor advances past them. The
// cursor never moves backwards.
//
// # Rate Limiting
//
// The service answers cStat 656 when a tax ID queries too often. The company
// is then paused for RateLimitPause; other companies continue.
//
// # Backoff
//
// A failed run (certificate, storage or transport error) pauses the company
// for InitialBackoff, multiplied by BackoffMultiple after each consecutive
// failure up to MaxBackoff. A successful run resets the backoff.
//
// # Concurrency
//
// Companies are processed by a pool of Workers goroutines. A company is never
// synced by two goroutines at once: a run requested while another is in
// flight for the same tax ID returns ErrAlreadyRunning.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-dfe/internal/metrics"
	"github.com/sirosfoundation/go-dfe/internal/storage"
	"github.com/sirosfoundation/go-dfe/pkg/certificate"
	"github.com/sirosfoundation/go-dfe/pkg/dfe"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
)

var (
	ErrAlreadyRunning = errors.New("sync already running for tax ID")
	ErrUnknownCompany = errors.New("company is not configured")
)

// Run results
const (
	ResultComplete    = "complete"
	ResultPageLimit   = "page_limit"
	ResultRateLimited = "rate_limited"
	ResultPaused      = "paused"
	ResultRejected    = "rejected"
	ResultStalled     = "stalled"
	ResultError       = "error"
)

// Fetcher runs one distribution call. *dfe.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, identity *certificate.Identity, query *message.DistributionQuery) (*distribution.Result, error)
}

// IdentityLoader reads a company certificate
type IdentityLoader func(path, password string) (*certificate.Identity, error)

// Company is one tax ID to keep in sync
type Company struct {
	TaxID           string
	Jurisdiction    string
	CertificateFile string
	Password        string
}

// Config holds syncer configuration
type Config struct {
	Interval       time.Duration
	MaxPagesPerRun int
	Workers        int
	RateLimitPause time.Duration

	// Backoff after failed runs
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Interval:       time.Hour,
		MaxPagesPerRun: 20,
		Workers:        2,
		RateLimitPause: time.Hour,

		InitialBackoff:  time.Minute,
		MaxBackoff:      30 * time.Minute,
		BackoffMultiple: 2.0,
	}
}

// Report describes one company run
type Report struct {
	RunID     string    `json:"runId"`
	TaxID     string    `json:"taxId"`
	Result    string    `json:"result"`
	Pages     int       `json:"pages"`
	Documents int       `json:"documents"`
	Created   int       `json:"created"`
	LastNSU   uint64    `json:"ultNSU"`
	MaxNSU    uint64    `json:"maxNSU"`
	Status    string    `json:"cStat,omitempty"`
	Reason    string    `json:"xMotivo,omitempty"`
	Error     string    `json:"error,omitempty"`
	RetryAt   time.Time `json:"retryAt,omitzero"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
}

// Syncer handles background download of distribution documents
type Syncer struct {
	store     storage.Store
	fetcher   Fetcher
	load      IdentityLoader
	metrics   *metrics.Metrics
	logger    *slog.Logger
	companies map[string]Company
	order     []string

	// Configuration
	interval       time.Duration
	maxPages       int
	workers        int
	rateLimitPause time.Duration
	now            func() time.Time

	initialBackoff  time.Duration
	maxBackoff      time.Duration
	backoffMultiple float64

	mu          sync.Mutex
	running     map[string]bool
	pausedUntil map[string]time.Time
	failures    map[string]int
	lastReports map[string]*Report

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates a new background syncer
func NewSyncer(
	store storage.Store,
	fetcher Fetcher,
	companies []Company,
	cfg *Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Syncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.MaxPagesPerRun <= 0 {
		cfg.MaxPagesPerRun = defaults.MaxPagesPerRun
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.RateLimitPause <= 0 {
		cfg.RateLimitPause = defaults.RateLimitPause
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.BackoffMultiple < 1 {
		cfg.BackoffMultiple = defaults.BackoffMultiple
	}

	byTaxID := make(map[string]Company, len(companies))
	order := make([]string, 0, len(companies))
	for _, c := range companies {
		c.TaxID = message.NormalizeTaxID(c.TaxID)
		if _, dup := byTaxID[c.TaxID]; !dup {
			order = append(order, c.TaxID)
		}
		byTaxID[c.TaxID] = c
	}

	return &Syncer{
		store:          store,
		fetcher:        fetcher,
		load:           certificate.Load,
		metrics:        m,
		logger:         logger,
		companies:      byTaxID,
		order:          order,
		interval:       cfg.Interval,
		maxPages:       cfg.MaxPagesPerRun,
		workers:        cfg.Workers,
		rateLimitPause: cfg.RateLimitPause,
		now:            time.Now,

		initialBackoff:  cfg.InitialBackoff,
		maxBackoff:      cfg.MaxBackoff,
		backoffMultiple: cfg.BackoffMultiple,

		running:     make(map[string]bool),
		pausedUntil: make(map[string]time.Time),
		failures:    make(map[string]int),
		lastReports: make(map[string]*Report),
	}
}

// WithIdentityLoader replaces the certificate loader
func (s *Syncer) WithIdentityLoader(load IdentityLoader) *Syncer {
	s.load = load
	return s
}

// Start runs a first pass immediately and then one per interval
func (s *Syncer) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.logger.Info("syncer started", "interval", s.interval, "companies", len(s.order))
}

// Stop gracefully stops the syncer
func (s *Syncer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("syncer stopped")
}

func (s *Syncer) run() {
	defer s.wg.Done()

	s.RunOnce(s.ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(s.ctx)
		}
	}
}

// TaxIDs returns the configured tax IDs in configuration order
func (s *Syncer) TaxIDs() []string {
	return append([]string(nil), s.order...)
}

// LastReport returns the report of the most recent run for a tax ID
func (s *Syncer) LastReport(taxID string) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReports[message.NormalizeTaxID(taxID)]
}

// RunOnce syncs every company and returns the reports in configuration order
func (s *Syncer) RunOnce(ctx context.Context) []*Report {
	reports := make([]*Report, len(s.order))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report, err := s.SyncCompany(ctx, s.order[i])
				if err != nil && report == nil {
					report = &Report{TaxID: s.order[i], Result: ResultError, Error: err.Error()}
				}
				reports[i] = report
			}
		}()
	}

	for i := range s.order {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	out := reports[:0]
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// SyncCompany downloads the backlog of one configured company.
// The returned error is also recorded in the report.
func (s *Syncer) SyncCompany(ctx context.Context, taxID string) (*Report, error) {
	taxID = message.NormalizeTaxID(taxID)
	company, ok := s.companies[taxID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompany, taxID)
	}

	if !s.acquire(taxID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, taxID)
	}
	defer s.release(taxID)

	report := &Report{
		RunID:     uuid.NewString(),
		TaxID:     taxID,
		StartedAt: s.now().UTC(),
	}
	log := s.logger.With("tax_id", taxID, "run_id", report.RunID)

	err := s.syncCompany(ctx, company, report, log)
	report.Duration = s.now().Sub(report.StartedAt).String()
	if err != nil {
		report.Result = ResultError
		report.Error = err.Error()
		if ctx.Err() == nil {
			report.RetryAt = s.handleSyncError(taxID)
		}
		log.Error("sync failed", "error", err, "pages", report.Pages, "retry_at", report.RetryAt)
	} else {
		if report.Result != ResultPaused {
			s.resetBackoff(taxID)
		}
		log.Info("sync finished",
			"result", report.Result,
			"pages", report.Pages,
			"documents", report.Documents,
			"created", report.Created,
			"ult_nsu", report.LastNSU,
		)
	}

	s.metrics.ObserveSyncRun(report.Result)

	s.mu.Lock()
	s.lastReports[taxID] = report
	s.mu.Unlock()

	return report, err
}

func (s *Syncer) syncCompany(ctx context.Context, company Company, report *Report, log *slog.Logger) error {
	if until, paused := s.pausedUntilFor(company.TaxID); paused {
		report.Result = ResultPaused
		log.Info("company paused after rate limit", "until", until)
		return nil
	}

	identity, err := s.load(company.CertificateFile, company.Password)
	if err != nil {
		return fmt.Errorf("loading certificate: %w", err)
	}

	cursor, err := s.store.GetCursor(ctx, company.TaxID)
	if err != nil {
		return fmt.Errorf("reading cursor: %w", err)
	}
	if cursor == nil {
		cursor = &storage.Cursor{TaxID: company.TaxID}
	}
	report.LastNSU = cursor.LastNSU
	report.MaxNSU = cursor.MaxNSU

	for report.Pages < s.maxPages {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		result, err := s.fetcher.Fetch(ctx, identity, &message.DistributionQuery{
			TaxID:        company.TaxID,
			Jurisdiction: company.Jurisdiction,
			LastNSU:      cursor.LastNSU,
		})
		if err != nil {
			outcome := string(dfe.KindOf(err))
			if outcome == "" {
				outcome = ResultError
			}
			s.metrics.ObserveCall(metrics.SourceSync, outcome, start, nil)
			return err
		}
		s.metrics.ObserveCall(metrics.SourceSync, result.StatusCode, start, result)
		report.Pages++
		report.Status = result.StatusCode
		report.Reason = result.StatusReason

		switch result.StatusCode {
		case distribution.StatusDocumentsFound:
			docs := make([]*storage.Document, 0, len(result.Documents))
			for _, d := range result.Documents {
				docs = append(docs, storage.NewDocument(company.TaxID, d, s.now().UTC()))
			}
			created, err := s.store.SaveDocuments(ctx, docs)
			if err != nil {
				return fmt.Errorf("saving documents: %w", err)
			}
			report.Documents += len(docs)
			report.Created += created

			previous := cursor.LastNSU
			if err := s.advance(ctx, cursor, result, report); err != nil {
				return err
			}
			if !result.HasMore() {
				report.Result = ResultComplete
				return nil
			}
			// Repeating a query for the same NSU is answered with 656
			if cursor.LastNSU <= previous {
				log.Warn("distribution cursor did not advance", "ult_nsu", result.LastNSU, "max_nsu", result.MaxNSU)
				report.Result = ResultStalled
				return nil
			}

		case distribution.StatusNoDocuments:
			if err := s.advance(ctx, cursor, result, report); err != nil {
				return err
			}
			report.Result = ResultComplete
			return nil

		case distribution.StatusRateLimited:
			until := s.now().Add(s.rateLimitPause)
			s.mu.Lock()
			s.pausedUntil[company.TaxID] = until
			s.mu.Unlock()
			log.Warn("rate limited by distribution service", "xmotivo", result.StatusReason, "paused_until", until)
			report.Result = ResultRateLimited
			return s.saveStatus(ctx, cursor, result)

		default:
			log.Warn("distribution call rejected", "cstat", result.StatusCode, "xmotivo", result.StatusReason)
			report.Result = ResultRejected
			return s.saveStatus(ctx, cursor, result)
		}
	}

	report.Result = ResultPageLimit
	return nil
}

// advance moves the cursor forward after a page has been stored
func (s *Syncer) advance(ctx context.Context, cursor *storage.Cursor, result *distribution.Result, report *Report) error {
	if result.LastNSU > cursor.LastNSU {
		cursor.LastNSU = result.LastNSU
	}
	if result.MaxNSU > 0 {
		cursor.MaxNSU = result.MaxNSU
	}
	if err := s.saveStatus(ctx, cursor, result); err != nil {
		return err
	}
	report.LastNSU = cursor.LastNSU
	report.MaxNSU = cursor.MaxNSU
	s.metrics.SetCursor(cursor.TaxID, cursor.LastNSU)
	return nil
}

func (s *Syncer) saveStatus(ctx context.Context, cursor *storage.Cursor, result *distribution.Result) error {
	cursor.LastStatus = result.StatusCode
	cursor.LastReason = result.StatusReason
	cursor.UpdatedAt = s.now().UTC()
	if err := s.store.SaveCursor(ctx, cursor); err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// handleSyncError pauses a failing company with exponential backoff
func (s *Syncer) handleSyncError(taxID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[taxID]++
	backoff := s.initialBackoff
	for i := 1; i < s.failures[taxID] && backoff < s.maxBackoff; i++ {
		backoff = time.Duration(float64(backoff) * s.backoffMultiple)
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}

	until := s.now().Add(backoff)
	s.pausedUntil[taxID] = until
	return until
}

func (s *Syncer) resetBackoff(taxID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, taxID)
}

func (s *Syncer) pausedUntilFor(taxID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.pausedUntil[taxID]
	if !ok {
		return time.Time{}, false
	}
	if !s.now().Before(until) {
		delete(s.pausedUntil, taxID)
		return time.Time{}, false
	}
	return until, true
}

func (s *Syncer) acquire(taxID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[taxID] {
		return false
	}
	s.running[taxID] = true
	return true
}

func (s *Syncer) release(taxID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, taxID)
}
