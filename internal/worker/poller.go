package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dispatchwatch/dispatchwatch/internal/dashboard"
	"github.com/dispatchwatch/dispatchwatch/internal/occupancy"
	"github.com/dispatchwatch/dispatchwatch/internal/railway"
	"github.com/dispatchwatch/dispatchwatch/internal/telemetry"
)

// ChangePublisher forwards occupancy changes outside the process.
type ChangePublisher interface {
	PublishChanges(ctx context.Context, serverCode string, changes []occupancy.Change)
}

// Poller fetches the station list of the selected server on every tick and
// hands each result to the dashboard controller.
type Poller struct {
	config     PollConfig
	logger     zerolog.Logger
	provider   railway.Provider
	controller *dashboard.Controller
	publisher  ChangePublisher
	metrics    *telemetry.PollMetrics

	inFlight   sync.WaitGroup
	refreshing atomic.Bool
	stats      *PollStats
}

// PollStats tracks poller statistics.
type PollStats struct {
	mu sync.RWMutex

	// Counters
	PollsIssued      int64
	PollsFailed      int64
	StaleDropped     int64
	SnapshotsApplied int64
	OccupancyChanges int64
	ServerLoads      int64
	ServerLoadErrors int64

	// Timings
	LastPollAt       time.Time
	LastSuccessAt    time.Time
	LastPollDuration time.Duration
}

// PollerConfig holds configuration for creating a Poller.
type PollerConfig struct {
	Config     PollConfig
	Logger     zerolog.Logger
	Provider   railway.Provider
	Controller *dashboard.Controller

	// Publisher receives every applied change (optional).
	Publisher ChangePublisher

	// Metrics records poll instruments (optional).
	Metrics *telemetry.PollMetrics
}

// NewPoller creates a new station poller.
func NewPoller(cfg PollerConfig) *Poller {
	return &Poller{
		config:     cfg.Config.withDefaults(),
		logger:     cfg.Logger,
		provider:   cfg.Provider,
		controller: cfg.Controller,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		stats:      &PollStats{},
	}
}

// Run loads the server list, then ticks until ctx is cancelled. A selection
// change triggers an immediate tick. Fetches still in flight at shutdown are
// cancelled through ctx and their results discarded.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Dur("interval", p.config.Interval).
		Dur("server_refresh_interval", p.config.ServerRefreshInterval).
		Str("provider", p.provider.Name()).
		Msg("starting station poller")

	if err := p.LoadServers(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	var refresh <-chan time.Time
	if p.config.ServerRefreshInterval > 0 {
		refreshTicker := time.NewTicker(p.config.ServerRefreshInterval)
		defer refreshTicker.Stop()
		refresh = refreshTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.inFlight.Wait()
			p.logger.Info().Fields(p.StatsSnapshot()).Msg("station poller stopped")
			return nil
		case <-p.controller.SelectionChanged():
			p.Tick(ctx)
		case <-ticker.C:
			p.Tick(ctx)
		case <-refresh:
			p.refreshServers(ctx)
		}
	}
}

// LoadServers fetches the server list with exponential backoff until it
// succeeds or ctx ends, and hands it to the controller.
func (p *Poller) LoadServers(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.config.LoadInitialInterval
	bo.MaxInterval = p.config.LoadMaxInterval
	bo.MaxElapsedTime = 0 // until ctx ends

	operation := func() error {
		err := p.loadServersOnce(ctx)
		if errors.Is(err, dashboard.ErrStopped) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		p.logger.Warn().
			Err(err).
			Dur("retry_in", next).
			Msg("failed to load server list")
	}

	return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
}

func (p *Poller) loadServersOnce(ctx context.Context) error {
	servers, err := p.provider.GetServers(ctx)
	if err != nil {
		p.recordServerLoad(err)
		return err
	}
	if err := p.controller.SetServers(ctx, servers); err != nil {
		return err
	}
	p.recordServerLoad(nil)

	p.logger.Info().
		Int("servers", len(servers)).
		Int("active", len(railway.ActiveServers(servers))).
		Msg("server list loaded")
	return nil
}

func (p *Poller) refreshServers(ctx context.Context) {
	if !p.refreshing.CompareAndSwap(false, true) {
		return
	}

	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		defer p.refreshing.Store(false)

		if err := p.loadServersOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("server list refresh failed")
		}
	}()
}

// Tick issues one asynchronous fetch for the selected server. It is a no-op
// when no server is selected. Fetches are not serialized: a slow fetch may
// complete after a later one.
func (p *Poller) Tick(ctx context.Context) {
	tag, ok, err := p.controller.Current(ctx)
	if err != nil || !ok {
		return
	}

	p.metrics.PollIssued(tag.ServerCode)
	p.stats.mu.Lock()
	p.stats.PollsIssued++
	p.stats.LastPollAt = time.Now()
	p.stats.mu.Unlock()

	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		p.poll(ctx, tag)
	}()
}

func (p *Poller) poll(ctx context.Context, tag dashboard.Tag) {
	logger := p.logger.With().
		Str("server", tag.ServerCode).
		Uint64("epoch", tag.Epoch).
		Logger()

	start := time.Now()
	stations, err := p.provider.GetStations(ctx, tag.ServerCode)
	duration := time.Since(start)
	p.metrics.PollCompleted(tag.ServerCode, duration, err)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.stats.mu.Lock()
		p.stats.PollsFailed++
		p.stats.LastPollDuration = duration
		p.stats.mu.Unlock()

		logger.Warn().Err(err).Dur("duration", duration).Msg("station poll failed")
		return
	}

	// One capture time for the whole snapshot.
	at := time.Now()

	changes, err := p.controller.Apply(ctx, tag, at, stations)
	switch {
	case errors.Is(err, dashboard.ErrStaleSnapshot):
		p.metrics.StaleDropped(tag.ServerCode)
		p.stats.mu.Lock()
		p.stats.StaleDropped++
		p.stats.mu.Unlock()

		logger.Debug().Msg("dropped station list for previous selection")
		return
	case err != nil:
		// Controller stopped or ctx cancelled: shutting down.
		return
	}

	p.metrics.SnapshotApplied(tag.ServerCode, len(changes))
	p.stats.mu.Lock()
	p.stats.SnapshotsApplied++
	p.stats.OccupancyChanges += int64(len(changes))
	p.stats.LastSuccessAt = at
	p.stats.LastPollDuration = duration
	p.stats.mu.Unlock()

	for _, change := range changes {
		logger.Info().
			Str("station", change.Prefix).
			Str("from", change.Previous).
			Str("to", change.Event.Occupant).
			Msg("station occupancy changed")
	}

	if p.publisher != nil && len(changes) > 0 {
		p.publisher.PublishChanges(ctx, tag.ServerCode, changes)
	}
}

func (p *Poller) recordServerLoad(err error) {
	p.stats.mu.Lock()
	defer p.stats.mu.Unlock()

	p.stats.ServerLoads++
	if err != nil {
		p.stats.ServerLoadErrors++
	}
}

// GetStats returns a copy of the current statistics.
func (p *Poller) GetStats() PollStats {
	p.stats.mu.RLock()
	defer p.stats.mu.RUnlock()

	return PollStats{
		PollsIssued:      p.stats.PollsIssued,
		PollsFailed:      p.stats.PollsFailed,
		StaleDropped:     p.stats.StaleDropped,
		SnapshotsApplied: p.stats.SnapshotsApplied,
		OccupancyChanges: p.stats.OccupancyChanges,
		ServerLoads:      p.stats.ServerLoads,
		ServerLoadErrors: p.stats.ServerLoadErrors,
		LastPollAt:       p.stats.LastPollAt,
		LastSuccessAt:    p.stats.LastSuccessAt,
		LastPollDuration: p.stats.LastPollDuration,
	}
}

// StatsSnapshot returns a snapshot of the current statistics as a map.
func (p *Poller) StatsSnapshot() map[string]interface{} {
	s := p.GetStats()
	return map[string]interface{}{
		"polls_issued":       s.PollsIssued,
		"polls_failed":       s.PollsFailed,
		"stale_dropped":      s.StaleDropped,
		"snapshots_applied":  s.SnapshotsApplied,
		"occupancy_changes":  s.OccupancyChanges,
		"server_loads":       s.ServerLoads,
		"server_load_errors": s.ServerLoadErrors,
		"last_poll_at":       s.LastPollAt,
		"last_success_at":    s.LastSuccessAt,
		"last_poll_duration": s.LastPollDuration.String(),
	}
}
