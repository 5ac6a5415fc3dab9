package dashboard

import (
	"time"

	"github.com/dispatchwatch/dispatchwatch/internal/occupancy"
	"github.com/dispatchwatch/dispatchwatch/internal/railway"
)

// View is the read-only projection handed to the renderer.
type View struct {
	// Servers are the active servers offered for selection.
	Servers []railway.Server

	// Selected is the current server, nil until one is selected.
	Selected *railway.Server

	DarkMode bool

	// Filter is the station prefix the histories are restricted to, or empty.
	Filter string

	// Stations lists every observed prefix for the filter dropdown.
	Stations []string

	// Histories are the filtered station histories in first-observation order.
	Histories []StationView

	// LastSnapshotAt is when the last accepted snapshot was taken. Zero if none.
	LastSnapshotAt time.Time

	// RenderedAt is the instant clock labels were computed for.
	RenderedAt time.Time
}

// StationView is one station's history with display labels.
type StationView struct {
	Prefix string

	// Current is the latest recorded occupant.
	Current string

	Events []EventView
}

// EventView is one occupancy event with display labels.
type EventView struct {
	At         time.Time
	Clock      string
	Occupant   string
	Bot        bool
	ProfileURL string
}

func newStationView(h occupancy.StationHistory, renderAt time.Time) StationView {
	events := make([]EventView, 0, len(h.Events))
	for _, e := range h.Events {
		events = append(events, EventView{
			At:         e.At,
			Clock:      occupancy.ClockLabel(e.At, renderAt),
			Occupant:   e.Occupant,
			Bot:        e.IsBot(),
			ProfileURL: e.ProfileURL(),
		})
	}
	view := StationView{Prefix: h.Prefix, Events: events}
	if last, ok := h.Last(); ok {
		view.Current = last.Occupant
	}
	return view
}
