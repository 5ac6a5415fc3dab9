// Package worker drives the background polling of the SimRail panel.
package worker

import (
	"time"
)

// PollConfig holds configuration for the station poller.
type PollConfig struct {
	// Interval is the period between station fetches of the selected server.
	// Default: 1 second
	Interval time.Duration

	// ServerRefreshInterval is the period between server list reloads.
	// Zero disables the refresh.
	ServerRefreshInterval time.Duration

	// LoadInitialInterval is the first backoff interval of the initial server list load.
	// Default: 500ms
	LoadInitialInterval time.Duration

	// LoadMaxInterval caps the backoff interval of the initial server list load.
	// Default: 30 seconds
	LoadMaxInterval time.Duration
}

// DefaultPollConfig returns the default poll configuration.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:              time.Second,
		ServerRefreshInterval: 5 * time.Minute,
		LoadInitialInterval:   500 * time.Millisecond,
		LoadMaxInterval:       30 * time.Second,
	}
}

func (c PollConfig) withDefaults() PollConfig {
	defaults := DefaultPollConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.ServerRefreshInterval < 0 {
		c.ServerRefreshInterval = 0
	}
	if c.LoadInitialInterval <= 0 {
		c.LoadInitialInterval = defaults.LoadInitialInterval
	}
	if c.LoadMaxInterval <= 0 {
		c.LoadMaxInterval = defaults.LoadMaxInterval
	}
	return c
}
