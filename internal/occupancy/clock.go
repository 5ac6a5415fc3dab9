package occupancy

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// ClockLabel formats at as a zero-padded HH:MM:SS wall-clock time.
//
// The UTC offset is taken from renderAt, not from at: the label reflects the
// display zone as it is when rendering. If the zone's offset changed since the
// event was captured (DST switch), the label shifts with it.
func ClockLabel(at, renderAt time.Time) string {
	_, offset := renderAt.Zone()

	secs := (at.Unix() + int64(offset)) % secondsPerDay
	if secs < 0 {
		secs += secondsPerDay
	}

	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
