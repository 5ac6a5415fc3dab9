package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status    HealthStatus     `json:"status"`
	Time      Timestamp        `json:"time"`
	Providers []ProviderStatus `json:"providers"`
	Poller    PollerStatus     `json:"poller"`
}

// ProviderStatus represents the status of an upstream client.
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             *string      `json:"message,omitempty"`
}

// PollerStatus reports the station poll counters.
type PollerStatus struct {
	PollsIssued      int64      `json:"pollsIssued"`
	PollsFailed      int64      `json:"pollsFailed"`
	StaleDropped     int64      `json:"staleDropped"`
	SnapshotsApplied int64      `json:"snapshotsApplied"`
	OccupancyChanges int64      `json:"occupancyChanges"`
	ServerLoads      int64      `json:"serverLoads"`
	ServerLoadErrors int64      `json:"serverLoadErrors"`
	LastPollAt       *Timestamp `json:"lastPollAt,omitempty"`
	LastSuccessAt    *Timestamp `json:"lastSuccessAt,omitempty"`
	LastPollDuration string     `json:"lastPollDuration"`
}
