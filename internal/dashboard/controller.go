// Package dashboard owns the live application state of the occupancy dashboard.
//
// A Controller runs a single goroutine that holds the server list, the selected
// server, the display preferences and the occupancy log. Every read and write is
// a message to that goroutine, so the state needs no locks.
package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dispatchwatch/dispatchwatch/internal/occupancy"
	"github.com/dispatchwatch/dispatchwatch/internal/railway"
)

// Controller errors.
var (
	// ErrUnknownServer is returned when selecting a server that is not listed as active.
	ErrUnknownServer = errors.New("unknown or inactive server")

	// ErrStopped is returned when the controller is not running.
	ErrStopped = errors.New("dashboard controller stopped")

	// ErrStaleSnapshot is returned when a snapshot was fetched for a selection
	// that has since been replaced.
	ErrStaleSnapshot = errors.New("snapshot belongs to a previous selection")
)

// Tag identifies the selection a fetch was issued for. Epoch increases with
// every selection, so re-selecting the same server still invalidates older fetches.
type Tag struct {
	ServerCode string
	Epoch      uint64
}

// Config holds configuration for the Controller.
type Config struct {
	// DarkMode is the initial theme.
	DarkMode bool

	// DefaultServer is selected on first load when it is active.
	// Otherwise the first active server is selected.
	DefaultServer string

	// Location is the display zone for clock labels. Default: time.Local
	Location *time.Location

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	Logger zerolog.Logger
}

// Controller serializes all state transitions of the dashboard.
type Controller struct {
	inbox      chan func(*state)
	selections chan struct{}
	done       chan struct{}
	running    atomic.Bool
	ready      atomic.Bool

	location *time.Location
	now      func() time.Time
	logger   zerolog.Logger

	state *state
}

type state struct {
	servers       []railway.Server
	selected      railway.Server
	epoch         uint64
	dark          bool
	filter        string
	defaultServer string
	log           *occupancy.Log
	lastAppliedAt time.Time
}

// NewController creates a controller. Call Run to start serving requests.
func NewController(cfg Config) *Controller {
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Controller{
		inbox:      make(chan func(*state)),
		selections: make(chan struct{}, 1),
		done:       make(chan struct{}),
		location:   location,
		now:        now,
		logger:     cfg.Logger,
		state: &state{
			dark:          cfg.DarkMode,
			defaultServer: cfg.DefaultServer,
			log:           occupancy.NewLog(),
		},
	}
}

// Run processes messages until ctx is cancelled. It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("dashboard controller already running")
	}
	defer close(c.done)

	c.logger.Info().Msg("dashboard controller started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("dashboard controller stopped")
			return nil
		case msg := <-c.inbox:
			msg(c.state)
		}
	}
}

// SelectionChanged signals after every server selection. Signals are
// coalesced, so a reader sees at least one signal after the last selection.
func (c *Controller) SelectionChanged() <-chan struct{} {
	return c.selections
}

// Ready reports whether a server list has been loaded.
func (c *Controller) Ready() bool {
	return c.ready.Load()
}

// call runs fn on the controller goroutine and waits for it to finish.
func (c *Controller) call(ctx context.Context, fn func(*state)) error {
	finished := make(chan struct{})
	msg := func(s *state) {
		defer close(finished)
		fn(s)
	}

	select {
	case c.inbox <- msg:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once accepted the message always runs to completion.
	<-finished
	return nil
}

// SetServers replaces the server list. If nothing is selected yet, it selects
// the default server when active, else the first active server.
// The current selection is kept even when it is no longer listed.
func (c *Controller) SetServers(ctx context.Context, servers []railway.Server) error {
	list := make([]railway.Server, len(servers))
	copy(list, servers)

	err := c.call(ctx, func(s *state) {
		s.servers = list

		if s.selected.Code != "" {
			return
		}

		if server, ok := railway.FindActive(list, s.defaultServer); ok {
			c.selectServer(s, server)
			return
		}

		server, err := railway.FirstActive(list)
		if err != nil {
			c.logger.Warn().Int("servers", len(list)).Msg("no active server to select")
			return
		}
		c.selectServer(s, server)
	})
	if err != nil {
		return err
	}

	c.ready.Store(true)
	return nil
}

// SelectServer makes code the selected server and clears every station history.
func (c *Controller) SelectServer(ctx context.Context, code string) error {
	var found bool
	err := c.call(ctx, func(s *state) {
		server, ok := railway.FindActive(s.servers, code)
		if !ok {
			return
		}
		found = true
		c.selectServer(s, server)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownServer
	}
	return nil
}

func (c *Controller) selectServer(s *state, server railway.Server) {
	cleared := s.log.Len()
	s.selected = server
	s.epoch++
	s.log.Reset()
	s.lastAppliedAt = time.Time{}

	c.logger.Info().
		Str("server", server.Code).
		Uint64("epoch", s.epoch).
		Int("stations_cleared", cleared).
		Msg("server selected")

	select {
	case c.selections <- struct{}{}:
	default:
	}
}

// Current returns the tag of the current selection. ok is false when no
// server is selected.
func (c *Controller) Current(ctx context.Context) (tag Tag, ok bool, err error) {
	err = c.call(ctx, func(s *state) {
		if s.selected.Code == "" {
			return
		}
		tag = Tag{ServerCode: s.selected.Code, Epoch: s.epoch}
		ok = true
	})
	return tag, ok, err
}

// Apply ingests a station list fetched for tag and taken at at. It returns
// ErrStaleSnapshot without touching the log when tag is not the current selection.
func (c *Controller) Apply(ctx context.Context, tag Tag, at time.Time, stations []railway.Station) ([]occupancy.Change, error) {
	snapshot := make([]occupancy.Observation, 0, len(stations))
	for i := range stations {
		snapshot = append(snapshot, occupancy.Observation{
			Prefix:      stations[i].Prefix,
			Dispatchers: stations[i].DispatcherIDs(),
		})
	}

	var (
		changes []occupancy.Change
		stale   bool
	)
	err := c.call(ctx, func(s *state) {
		if tag.ServerCode != s.selected.Code || tag.Epoch != s.epoch {
			stale = true
			return
		}
		changes = s.log.Ingest(at, snapshot)
		s.lastAppliedAt = at
	})
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, ErrStaleSnapshot
	}
	return changes, nil
}

// ToggleTheme flips between dark and light and returns the new dark flag.
func (c *Controller) ToggleTheme(ctx context.Context) (bool, error) {
	var dark bool
	err := c.call(ctx, func(s *state) {
		s.dark = !s.dark
		dark = s.dark
	})
	return dark, err
}

// SetFilter restricts the view to the station whose prefix equals filter.
// An empty filter shows every station.
func (c *Controller) SetFilter(ctx context.Context, filter string) error {
	return c.call(ctx, func(s *state) {
		s.filter = filter
	})
}

// Servers returns the active servers in listed order.
func (c *Controller) Servers(ctx context.Context) ([]railway.Server, error) {
	var servers []railway.Server
	err := c.call(ctx, func(s *state) {
		servers = railway.ActiveServers(s.servers)
	})
	return servers, err
}

// Stations returns every observed prefix in first-observation order.
func (c *Controller) Stations(ctx context.Context) ([]string, error) {
	var stations []string
	err := c.call(ctx, func(s *state) {
		stations = s.log.Stations()
	})
	return stations, err
}

// History returns one station's events, labelled for display.
func (c *Controller) History(ctx context.Context, prefix string) (StationView, error) {
	var (
		history occupancy.StationHistory
		lookErr error
	)
	err := c.call(ctx, func(s *state) {
		history, lookErr = s.log.History(prefix)
	})
	if err != nil {
		return StationView{}, err
	}
	if lookErr != nil {
		return StationView{}, lookErr
	}
	return newStationView(history, c.renderTime()), nil
}

// View returns the full read-only projection of the dashboard.
func (c *Controller) View(ctx context.Context) (View, error) {
	var (
		view      View
		histories []occupancy.StationHistory
	)
	err := c.call(ctx, func(s *state) {
		view.Servers = railway.ActiveServers(s.servers)
		if s.selected.Code != "" {
			selected := s.selected
			view.Selected = &selected
		}
		view.DarkMode = s.dark
		view.Filter = s.filter
		view.Stations = s.log.Stations()
		view.LastSnapshotAt = s.lastAppliedAt
		histories = s.log.View(s.filter)
	})
	if err != nil {
		return View{}, err
	}

	// Labels are computed off the controller goroutine from copied histories.
	view.RenderedAt = c.renderTime()
	view.Histories = make([]StationView, 0, len(histories))
	for _, h := range histories {
		view.Histories = append(view.Histories, newStationView(h, view.RenderedAt))
	}

	return view, nil
}

func (c *Controller) renderTime() time.Time {
	return c.now().In(c.location)
}
