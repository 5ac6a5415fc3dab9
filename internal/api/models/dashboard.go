package models

// Server is one selectable multiplayer server.
type Server struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
}

// ServerList is the response of GET /v1/servers.
type ServerList struct {
	Items []Server `json:"items"`
}

// OccupancyEvent is one entry of a station history.
type OccupancyEvent struct {
	At         Timestamp `json:"at"`
	Clock      string    `json:"clock"`
	Occupant   string    `json:"occupant"`
	Bot        bool      `json:"bot"`
	ProfileURL string    `json:"profileUrl,omitempty"`
}

// StationHistory is the ordered history of one station.
type StationHistory struct {
	Prefix  string           `json:"prefix"`
	Current string           `json:"current"`
	Events  []OccupancyEvent `json:"events"`
}

// StationList is the response of GET /v1/stations.
type StationList struct {
	Items []string `json:"items"`
}

// Dashboard is the full read-only view rendered by the client.
type Dashboard struct {
	Servers        []Server         `json:"servers"`
	SelectedServer *Server          `json:"selectedServer,omitempty"`
	DarkMode       bool             `json:"darkMode"`
	Filter         string           `json:"filter"`
	Stations       []string         `json:"stations"`
	Histories      []StationHistory `json:"histories"`
	LastSnapshotAt *Timestamp       `json:"lastSnapshotAt,omitempty"`
	RenderedAt     Timestamp        `json:"renderedAt"`
}

// SelectionInput is the body of PUT /v1/selection.
type SelectionInput struct {
	ServerCode string `json:"serverCode"`
}

// Selection is the response of PUT /v1/selection.
type Selection struct {
	Server Server `json:"server"`
}

// FilterInput is the body of PUT /v1/filter.
type FilterInput struct {
	Station string `json:"station"`
}

// Filter is the response of PUT /v1/filter.
type Filter struct {
	Station string `json:"station"`
}

// Theme is the response of POST /v1/theme:toggle.
type Theme struct {
	DarkMode bool `json:"darkMode"`
}
