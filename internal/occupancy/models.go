// Package occupancy keeps the per-station dispatch history of a single server.
//
// A Log ingests repeated station snapshots and turns them into an append-only,
// deduplicated sequence of occupancy events per station: a new event is recorded
// only when the occupant differs from the station's last recorded occupant.
package occupancy

import (
	"errors"
	"time"
)

// BotOccupant is the occupant recorded for stations run by the automated controller.
const BotOccupant = "BOT"

// SteamProfileBaseURL is the base URL of player profile links.
const SteamProfileBaseURL = "https://steamcommunity.com/profiles/"

// ErrStationNotFound is returned when a station has never been observed.
var ErrStationNotFound = errors.New("station not found")

// Observation is one station entry of a snapshot.
type Observation struct {
	// Prefix uniquely identifies the station within a server.
	Prefix string

	// Dispatchers are the player identifiers listed as dispatching the station.
	// Only the first one is taken into account.
	Dispatchers []string
}

// Occupant resolves who controls the station: the first dispatcher or BotOccupant.
func (o Observation) Occupant() string {
	if len(o.Dispatchers) > 0 {
		return o.Dispatchers[0]
	}
	return BotOccupant
}

// Event records that Occupant took over a station at At.
type Event struct {
	At       time.Time `json:"at"`
	Occupant string    `json:"occupant"`
}

// IsBot reports whether the event belongs to the automated controller.
func (e Event) IsBot() bool {
	return e.Occupant == BotOccupant
}

// ProfileURL returns the Steam profile link of a player occupant, or "" for BOT.
func (e Event) ProfileURL() string {
	if e.IsBot() {
		return ""
	}
	return SteamProfileBaseURL + e.Occupant
}

// StationHistory is the ordered event log of one station.
type StationHistory struct {
	Prefix string
	Events []Event
}

// Last returns the most recent event, if any.
func (h StationHistory) Last() (Event, bool) {
	if len(h.Events) == 0 {
		return Event{}, false
	}
	return h.Events[len(h.Events)-1], true
}

// Change describes an event appended by Ingest.
type Change struct {
	Prefix string
	// Previous is the occupant before the change, empty on first observation.
	Previous string
	Event    Event
}
