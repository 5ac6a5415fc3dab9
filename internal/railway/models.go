// Package railway defines the server and station models of the simulation-railway panel.
package railway

import (
	"context"
	"errors"
)

// Railway errors.
var (
	ErrNoActiveServer = errors.New("no active server")
)

// Server is one multiplayer server listed by the panel.
type Server struct {
	// Code is the server identifier used in station queries (e.g. "en1").
	Code string `json:"code"`

	// Name is the human-readable server name.
	Name string `json:"name"`

	// Region is the hosting region, informational only.
	Region string `json:"region,omitempty"`

	// Active reports whether the server is currently online.
	Active bool `json:"active"`
}

// Dispatcher is a player dispatching a station.
type Dispatcher struct {
	SteamID string
}

// Station is one dispatchable station of a server.
type Station struct {
	// Prefix is the station's unique short code (e.g. "KO").
	Prefix string

	// DispatchedBy lists the players currently dispatching the station.
	// Empty when the automated controller runs it.
	DispatchedBy []Dispatcher
}

// DispatcherIDs returns the Steam ids of the station's dispatchers, in listed order.
func (s Station) DispatcherIDs() []string {
	if len(s.DispatchedBy) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.DispatchedBy))
	for _, d := range s.DispatchedBy {
		ids = append(ids, d.SteamID)
	}
	return ids
}

// Provider fetches server and station lists from the panel.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// GetServers fetches every listed server, active or not.
	GetServers(ctx context.Context) ([]Server, error)

	// GetStations fetches the stations of one server.
	GetStations(ctx context.Context, serverCode string) ([]Station, error)
}

// ActiveServers returns the active servers, keeping their listed order.
func ActiveServers(servers []Server) []Server {
	active := make([]Server, 0, len(servers))
	for _, s := range servers {
		if s.Active {
			active = append(active, s)
		}
	}
	return active
}

// FirstActive returns the first active server.
func FirstActive(servers []Server) (Server, error) {
	for _, s := range servers {
		if s.Active {
			return s, nil
		}
	}
	return Server{}, ErrNoActiveServer
}

// FindActive returns the active server with the given code.
func FindActive(servers []Server, code string) (Server, bool) {
	for _, s := range servers {
		if s.Active && s.Code == code {
			return s, true
		}
	}
	return Server{}, false
}
