package worker_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchwatch/dispatchwatch/internal/dashboard"
	"github.com/dispatchwatch/dispatchwatch/internal/occupancy"
	"github.com/dispatchwatch/dispatchwatch/internal/provider/resilience"
	"github.com/dispatchwatch/dispatchwatch/internal/railway"
	"github.com/dispatchwatch/dispatchwatch/internal/railway/simrail"
	"github.com/dispatchwatch/dispatchwatch/internal/worker"
)

// fakeProvider serves canned server and station lists. A server code present
// in gates blocks its station fetch until the gate is closed.
type fakeProvider struct {
	mu             sync.Mutex
	servers        []railway.Server
	serverErrs     int
	stations       map[string][]railway.Station
	stationErr     error
	gates          map[string]chan struct{}
	serverCalls    atomic.Int32
	stationCalls   atomic.Int32
	stationsByCode map[string]int
}

func newFakeProvider(servers ...railway.Server) *fakeProvider {
	return &fakeProvider{
		servers:        servers,
		stations:       make(map[string][]railway.Station),
		gates:          make(map[string]chan struct{}),
		stationsByCode: make(map[string]int),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GetServers(_ context.Context) ([]railway.Server, error) {
	f.serverCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.serverErrs > 0 {
		f.serverErrs--
		return nil, errors.New("panel unavailable")
	}
	return f.servers, nil
}

func (f *fakeProvider) GetStations(ctx context.Context, code string) ([]railway.Station, error) {
	f.stationCalls.Add(1)

	f.mu.Lock()
	f.stationsByCode[code]++
	gate := f.gates[code]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stationErr != nil {
		return nil, f.stationErr
	}
	return f.stations[code], nil
}

func (f *fakeProvider) setStations(code string, stations ...railway.Station) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stations[code] = stations
}

func (f *fakeProvider) fetchesFor(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stationsByCode[code]
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []occupancy.Change
	servers []string
}

func (r *recordingPublisher) PublishChanges(_ context.Context, serverCode string, changes []occupancy.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
	for range changes {
		r.servers = append(r.servers, serverCode)
	}
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func station(prefix string, steamIDs ...string) railway.Station {
	s := railway.Station{Prefix: prefix}
	for _, id := range steamIDs {
		s.DispatchedBy = append(s.DispatchedBy, railway.Dispatcher{SteamID: id})
	}
	return s
}

func startController(t *testing.T) *dashboard.Controller {
	t.Helper()

	c := dashboard.NewController(dashboard.Config{Location: time.UTC, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return c
}

func newPoller(provider railway.Provider, controller *dashboard.Controller, publisher worker.ChangePublisher) *worker.Poller {
	cfg := worker.PollerConfig{
		Config: worker.PollConfig{
			Interval:            time.Hour, // tests drive ticks by hand
			LoadInitialInterval: time.Millisecond,
			LoadMaxInterval:     5 * time.Millisecond,
		},
		Logger:     zerolog.Nop(),
		Provider:   provider,
		Controller: controller,
	}
	if publisher != nil {
		cfg.Publisher = publisher
	}
	return worker.NewPoller(cfg)
}

func stationCount(t *testing.T, c *dashboard.Controller) int {
	t.Helper()
	stations, err := c.Stations(context.Background())
	require.NoError(t, err)
	return len(stations)
}

func TestDefaultPollConfig(t *testing.T) {
	cfg := worker.DefaultPollConfig()

	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Minute, cfg.ServerRefreshInterval)
	assert.Positive(t, cfg.LoadInitialInterval)
	assert.Greater(t, cfg.LoadMaxInterval, cfg.LoadInitialInterval)
}

func TestPoller_TickWithoutSelectionIsNoop(t *testing.T) {
	provider := newFakeProvider()
	controller := startController(t)
	p := newPoller(provider, controller, nil)

	p.Tick(context.Background())

	assert.Zero(t, provider.stationCalls.Load())
	assert.Zero(t, p.GetStats().PollsIssued)
}

func TestPoller_LoadServersRetriesUntilSuccess(t *testing.T) {
	provider := newFakeProvider(
		railway.Server{Code: "de1", Active: false},
		railway.Server{Code: "en1", Active: true},
	)
	provider.serverErrs = 2
	controller := startController(t)
	p := newPoller(provider, controller, nil)

	require.NoError(t, p.LoadServers(context.Background()))

	assert.Equal(t, int32(3), provider.serverCalls.Load())
	assert.True(t, controller.Ready())

	tag, ok, err := controller.Current(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "en1", tag.ServerCode)

	stats := p.GetStats()
	assert.Equal(t, int64(3), stats.ServerLoads)
	assert.Equal(t, int64(2), stats.ServerLoadErrors)
}

func TestPoller_LoadServersStopsOnCancel(t *testing.T) {
	provider := newFakeProvider()
	provider.serverErrs = 1 << 30
	controller := startController(t)
	p := newPoller(provider, controller, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.LoadServers(ctx)
	require.Error(t, err)
	assert.False(t, controller.Ready())
}

func TestPoller_TickAppliesSnapshot(t *testing.T) {
	provider := newFakeProvider(railway.Server{Code: "en1", Active: true})
	provider.setStations("en1", station("KO", "111"), station("SG"))
	publisher := &recordingPublisher{}
	controller := startController(t)
	p := newPoller(provider, controller, publisher)
	ctx := context.Background()

	require.NoError(t, p.LoadServers(ctx))
	p.Tick(ctx)

	require.Eventually(t, func() bool {
		return p.GetStats().SnapshotsApplied == 1
	}, time.Second, 5*time.Millisecond)

	view, err := controller.View(ctx)
	require.NoError(t, err)
	require.Len(t, view.Histories, 2)
	assert.Equal(t, "111", view.Histories[0].Events[0].Occupant)
	assert.Equal(t, occupancy.BotOccupant, view.Histories[1].Events[0].Occupant)

	assert.Equal(t, 2, publisher.count())
	assert.Equal(t, int64(2), p.GetStats().OccupancyChanges)

	// Unchanged occupants append nothing and publish nothing.
	p.Tick(ctx)
	require.Eventually(t, func() bool {
		return p.GetStats().SnapshotsApplied == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, publisher.count())
}

func TestPoller_FailedPollLeavesStateUntouched(t *testing.T) {
	provider := newFakeProvider(railway.Server{Code: "en1", Active: true})
	provider.setStations("en1", station("KO", "111"))
	controller := startController(t)
	p := newPoller(provider, controller, nil)
	ctx := context.Background()

	require.NoError(t, p.LoadServers(ctx))
	p.Tick(ctx)
	require.Eventually(t, func() bool {
		return p.GetStats().SnapshotsApplied == 1
	}, time.Second, 5*time.Millisecond)

	provider.mu.Lock()
	provider.stationErr = errors.New("decoding response: unexpected EOF")
	provider.mu.Unlock()

	p.Tick(ctx)
	require.Eventually(t, func() bool {
		return p.GetStats().PollsFailed == 1
	}, time.Second, 5*time.Millisecond)

	history, err := controller.History(ctx, "KO")
	require.NoError(t, err)
	assert.Len(t, history.Events, 1)
	assert.Equal(t, int64(1), p.GetStats().SnapshotsApplied)
}

func TestPoller_TimeoutDropsCycle(t *testing.T) {
	var stall atomic.Bool
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/servers-open" {
			_, _ = w.Write([]byte(`{"result": true, "data": [{"ServerCode": "en1", "ServerName": "EN1", "IsActive": true}], "count": 1}`))
			return
		}
		if stall.Load() {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte(`{"result": true, "data": [{"Prefix": "KO", "DispatchedBy": [{"SteamId": "111"}]}], "count": 1}`))
	}))
	defer upstream.Close()
	defer close(release)

	provider := simrail.NewClient(simrail.ClientConfig{
		BaseURL:    upstream.URL,
		HTTPClient: resilience.NewClient(resilience.PollingClientConfig("simrail-test", 50*time.Millisecond)),
		Logger:     zerolog.Nop(),
	})
	controller := startController(t)
	p := newPoller(provider, controller, nil)
	ctx := context.Background()

	require.NoError(t, p.LoadServers(ctx))
	p.Tick(ctx)
	require.Eventually(t, func() bool {
		return p.GetStats().SnapshotsApplied == 1
	}, 2*time.Second, 5*time.Millisecond)

	stall.Store(true)
	p.Tick(ctx)
	require.Eventually(t, func() bool {
		return p.GetStats().PollsFailed == 1
	}, 2*time.Second, 5*time.Millisecond)

	history, err := controller.History(ctx, "KO")
	require.NoError(t, err)
	require.Len(t, history.Events, 1)
	assert.Equal(t, "111", history.Events[0].Occupant)
	assert.Equal(t, int64(1), p.GetStats().SnapshotsApplied)
	assert.Equal(t, []string{"KO"}, mustStations(t, controller))
}

func TestPoller_StaleResponseDropped(t *testing.T) {
	provider := newFakeProvider(
		railway.Server{Code: "en1", Active: true},
		railway.Server{Code: "pl1", Active: true},
	)
	provider.setStations("en1", station("KO", "111"))
	provider.setStations("pl1", station("WP", "222"))
	gate := make(chan struct{})
	provider.gates["en1"] = gate

	controller := startController(t)
	p := newPoller(provider, controller, nil)
	ctx := context.Background()

	require.NoError(t, p.LoadServers(ctx))

	// The en1 fetch hangs while the user switches to pl1.
	p.Tick(ctx)
	require.Eventually(t, func() bool {
		return provider.fetchesFor("en1") == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, controller.SelectServer(ctx, "pl1"))
	p.Tick(ctx)
	require.Eventually(t, func() bool {
		return p.GetStats().SnapshotsApplied == 1
	}, time.Second, 5*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool {
		return p.GetStats().StaleDropped == 1
	}, time.Second, 5*time.Millisecond)

	stations, err := controller.Stations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"WP"}, stations)
}

func TestPoller_RunTicksOnSelection(t *testing.T) {
	provider := newFakeProvider(
		railway.Server{Code: "en1", Active: true},
		railway.Server{Code: "pl1", Active: true},
	)
	provider.setStations("en1", station("KO", "111"))
	provider.setStations("pl1", station("WP"))

	controller := startController(t)
	p := newPoller(provider, controller, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Auto-selection of en1 triggers the first fetch without waiting for the ticker.
	require.Eventually(t, func() bool {
		return stationCount(t, controller) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, controller.SelectServer(context.Background(), "pl1"))
	require.Eventually(t, func() bool {
		return provider.fetchesFor("pl1") >= 1 && p.GetStats().SnapshotsApplied >= 2
	}, time.Second, 5*time.Millisecond)

	stations, err := controller.Stations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"WP"}, stations)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_StatsSnapshot(t *testing.T) {
	p := newPoller(newFakeProvider(), startController(t), nil)

	snapshot := p.StatsSnapshot()
	assert.Contains(t, snapshot, "polls_issued")
	assert.Contains(t, snapshot, "stale_dropped")
	assert.Contains(t, snapshot, "last_poll_duration")
}

func mustStations(t *testing.T, c *dashboard.Controller) []string {
	t.Helper()
	stations, err := c.Stations(context.Background())
	require.NoError(t, err)
	return stations
}
