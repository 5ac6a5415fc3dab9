package occupancy

import "time"

// Log is the occupancy history of every station observed on one server.
//
// Log is not safe for concurrent use. It is owned by a single goroutine that
// applies snapshots and serves read projections.
type Log struct {
	histories map[string][]Event
	order     []string
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		histories: make(map[string][]Event),
	}
}

// Ingest applies one snapshot taken at at. Each station gets a new event only
// when its resolved occupant differs from its last recorded occupant.
// It returns the appended events in snapshot order.
func (l *Log) Ingest(at time.Time, snapshot []Observation) []Change {
	var changes []Change

	for _, obs := range snapshot {
		occupant := obs.Occupant()

		history, ok := l.histories[obs.Prefix]
		if !ok {
			l.order = append(l.order, obs.Prefix)
		}

		var previous string
		if n := len(history); n > 0 {
			previous = history[n-1].Occupant
			if previous == occupant {
				continue
			}
		}

		event := Event{At: at, Occupant: occupant}
		l.histories[obs.Prefix] = append(history, event)
		changes = append(changes, Change{
			Prefix:   obs.Prefix,
			Previous: previous,
			Event:    event,
		})
	}

	return changes
}

// Reset drops every station history.
func (l *Log) Reset() {
	l.histories = make(map[string][]Event)
	l.order = nil
}

// Len returns the number of stations observed.
func (l *Log) Len() int {
	return len(l.order)
}

// Stations returns the observed prefixes in first-observation order.
func (l *Log) Stations() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// History returns a copy of one station's events.
func (l *Log) History(prefix string) (StationHistory, error) {
	events, ok := l.histories[prefix]
	if !ok {
		return StationHistory{}, ErrStationNotFound
	}
	return StationHistory{Prefix: prefix, Events: copyEvents(events)}, nil
}

// View projects the histories selected by filter: the station whose prefix
// equals filter, or every station when filter is empty. Stations keep their
// first-observation order and events are copied.
func (l *Log) View(filter string) []StationHistory {
	out := make([]StationHistory, 0, len(l.order))
	for _, prefix := range l.order {
		if filter != "" && filter != prefix {
			continue
		}
		out = append(out, StationHistory{
			Prefix: prefix,
			Events: copyEvents(l.histories[prefix]),
		})
	}
	return out
}

func copyEvents(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
