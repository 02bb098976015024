package trigger

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidDelay = errors.New("trigger: delay must be a finite number of minutes")

// Info is the public view of an armed trigger, shaped like the host alarm object.
type Info struct {
	Name          string  `json:"name"`
	ScheduledTime float64 `json:"scheduledTime"` // unix milliseconds
}

// At returns ScheduledTime as a UTC time.Time.
func (i Info) At() time.Time {
	return time.UnixMilli(int64(i.ScheduledTime)).UTC()
}

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ; empty means local

	// FiredBuffer is the capacity of the Fired channel (default 64).
	FiredBuffer int

	// Now overrides the clock used to compute deadlines. Tests only.
	Now func() time.Time
}

// Persister stores armed trigger deadlines (name -> unix ms) so they survive restarts.
type Persister interface {
	LoadTriggers(ctx context.Context) (map[string]int64, error)
	SaveTriggers(ctx context.Context, triggers map[string]int64) error
}
