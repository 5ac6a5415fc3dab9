package resilience_test

import (
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchwatch/dispatchwatch/internal/provider/resilience"
)

func registered(t *testing.T, names ...string) *resilience.Registry {
	t.Helper()
	registry := resilience.NewRegistry()
	for _, name := range names {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		_ = resilience.NewClient(cfg)
	}
	return registry
}

func TestRegistry_NewClientRegisters(t *testing.T) {
	registry := registered(t, "servers")

	health := registry.GetHealth("servers")
	require.NotNil(t, health)
	assert.Equal(t, "servers", health.Name)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.Nil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
	assert.Equal(t, resilience.LevelHealthy, health.Level())
}

func TestRegistry_RecordOutcomes(t *testing.T) {
	registry := registered(t, "stations")

	registry.RecordSuccess("stations")
	health := registry.GetHealth("stations")
	require.NotNil(t, health.LastSuccessAt)
	assert.WithinDuration(t, time.Now(), *health.LastSuccessAt, time.Second)
	assert.Empty(t, health.LastError)

	registry.RecordFailure("stations", assert.AnError)
	health = registry.GetHealth("stations")
	require.NotNil(t, health.LastFailureAt)
	assert.Equal(t, assert.AnError.Error(), health.LastError)
	assert.Equal(t, resilience.LevelDegraded, health.Level())
}

func TestRegistry_UnknownName(t *testing.T) {
	registry := resilience.NewRegistry()

	assert.NotPanics(t, func() {
		registry.RecordSuccess("missing")
		registry.RecordFailure("missing", assert.AnError)
	})
	assert.Nil(t, registry.GetHealth("missing"))
	assert.Empty(t, registry.GetAllHealth())
}

func TestRegistry_GetAllHealthSorted(t *testing.T) {
	registry := registered(t, "stations", "servers", "alpha")

	health := registry.GetAllHealth()
	require.Len(t, health, 3)
	names := []string{health[0].Name, health[1].Name, health[2].Name}
	assert.Equal(t, []string{"alpha", "servers", "stations"}, names)
}

func TestProviderHealth_Level(t *testing.T) {
	earlier := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Minute)

	tests := []struct {
		name   string
		health resilience.ProviderHealth
		want   resilience.Level
	}{
		{"closed and quiet", resilience.ProviderHealth{CircuitState: gobreaker.StateClosed}, resilience.LevelHealthy},
		{"half-open", resilience.ProviderHealth{CircuitState: gobreaker.StateHalfOpen}, resilience.LevelDegraded},
		{"open", resilience.ProviderHealth{CircuitState: gobreaker.StateOpen, LastSuccessAt: &later}, resilience.LevelDown},
		{
			"closed, failed after last success",
			resilience.ProviderHealth{CircuitState: gobreaker.StateClosed, LastSuccessAt: &earlier, LastFailureAt: &later},
			resilience.LevelDegraded,
		},
		{
			"closed, recovered",
			resilience.ProviderHealth{CircuitState: gobreaker.StateClosed, LastSuccessAt: &later, LastFailureAt: &earlier},
			resilience.LevelHealthy,
		},
		{
			"closed, never succeeded",
			resilience.ProviderHealth{CircuitState: gobreaker.StateClosed, LastFailureAt: &earlier},
			resilience.LevelDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.health.Level())
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "healthy", resilience.LevelHealthy.String())
	assert.Equal(t, "degraded", resilience.LevelDegraded.String())
	assert.Equal(t, "down", resilience.LevelDown.String())
	assert.Equal(t, "unknown", resilience.Level(9).String())
}
