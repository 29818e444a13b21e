package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marketintel/dashboard-sync/internal/metrics"
	"github.com/marketintel/dashboard-sync/internal/model"
)

// SnapshotSource fetches a full dashboard payload for a reporting period.
type SnapshotSource interface {
	GetDashboard(ctx context.Context, period string) (model.DashboardPayload, error)
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	ApplySnapshot(data model.DashboardData, fetchedAt time.Time)
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(model.DashboardData, time.Time)

func (f SnapshotHandlerFunc) ApplySnapshot(data model.DashboardData, fetchedAt time.Time) {
	f(data, fetchedAt)
}

// Config holds poller configuration.
type Config struct {
	Period          string        // Initial reporting period
	RefreshInterval time.Duration // Time between fetches
	Timeout         time.Duration // Per-request timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Period:          "1d",
		RefreshInterval: time.Minute,
		Timeout:         10 * time.Second,
	}
}

// Poller periodically fetches dashboard snapshots and hands them to the
// merge coordinator.
type Poller struct {
	cfg     Config
	source  SnapshotSource
	handler SnapshotHandler
	logger  *slog.Logger
	metrics *metrics.Metrics

	periodCh chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller.
func New(cfg Config, source SnapshotSource, handler SnapshotHandler, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:      cfg,
		source:   source,
		handler:  handler,
		logger:   logger,
		metrics:  m,
		periodCh: make(chan string, 1),
	}
}

// Start begins the refresh loop with an immediate first fetch.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"period", p.cfg.Period,
		"interval", p.cfg.RefreshInterval,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPeriod switches the reporting period and triggers an immediate refetch.
// Latest-wins: a rapid sequence of changes fetches only the newest period.
func (p *Poller) SetPeriod(period string) {
	select {
	case p.periodCh <- period:
	default:
		select {
		case <-p.periodCh:
		default:
		}
		select {
		case p.periodCh <- period:
		default:
		}
	}
}

// run is the refresh loop.
func (p *Poller) run() {
	defer p.wg.Done()

	period := p.cfg.Period

	// Fetch immediately on start.
	p.fetch(period)

	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case next := <-p.periodCh:
			if next == period {
				continue
			}
			period = next
			p.logger.Info("reporting period changed", "period", period)
			p.fetch(period)
			ticker.Reset(p.cfg.RefreshInterval)
		case <-ticker.C:
			p.fetch(period)
		}
	}
}

// fetch retrieves one snapshot and hands it to the handler. Failures are
// logged and counted, never fatal: the previous state stays current until
// the next successful fetch.
func (p *Poller) fetch(period string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	payload, err := p.source.GetDashboard(ctx, period)
	p.metrics.RecordSnapshotFetch(err)
	if err != nil {
		p.logger.Warn("snapshot fetch failed",
			"period", period,
			"error", err,
		)
		return
	}

	p.handler.ApplySnapshot(payload.Data, time.Now())

	p.logger.Debug("snapshot fetched",
		"period", period,
		"duration", time.Since(start),
	)
}
