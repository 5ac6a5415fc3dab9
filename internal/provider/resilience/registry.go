package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Level grades an upstream client for the ops status endpoint.
type Level int

const (
	LevelHealthy Level = iota
	LevelDegraded
	LevelDown
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelDegraded:
		return "degraded"
	case LevelDown:
		return "down"
	default:
		return "unknown"
	}
}

// ProviderHealth is a point-in-time view of one registered client.
type ProviderHealth struct {
	Name          string
	CircuitState  gobreaker.State
	Counts        gobreaker.Counts
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// Level reports down while the circuit is open, and degraded while it is
// half-open or the latest outcome was a failure.
func (h *ProviderHealth) Level() Level {
	switch h.CircuitState {
	case gobreaker.StateOpen:
		return LevelDown
	case gobreaker.StateHalfOpen:
		return LevelDegraded
	}
	if h.LastFailureAt != nil && (h.LastSuccessAt == nil || h.LastFailureAt.After(*h.LastSuccessAt)) {
		return LevelDegraded
	}
	return LevelHealthy
}

// Registry remembers the last outcome of every client created with it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	client    *Client
	successAt *time.Time
	failureAt *time.Time
	lastErr   string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Register adds or replaces the client tracked under name.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	r.entries[name] = &entry{client: client}
	r.mu.Unlock()
}

// RecordSuccess stamps a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		at := r.now()
		e.successAt = &at
	}
}

// RecordFailure stamps a failed call and keeps its message.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	at := r.now()
	e.failureAt = &at
	if err != nil {
		e.lastErr = err.Error()
	}
}

// GetHealth returns nil for a name that was never registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	return e.snapshot(name)
}

// GetAllHealth lists every client, sorted by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	all := make([]*ProviderHealth, 0, len(r.entries))
	for name, e := range r.entries {
		all = append(all, e.snapshot(name))
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

func (e *entry) snapshot(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:          name,
		CircuitState:  e.client.CircuitBreakerState(),
		Counts:        e.client.CircuitBreakerCounts(),
		LastSuccessAt: e.successAt,
		LastFailureAt: e.failureAt,
		LastError:     e.lastErr,
	}
}
