package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"timez/internal/metrics"
	"timez/internal/state"
	"timez/internal/trigger"
	logx "timez/pkg/logx"
)

// reschedule re-arms a fired daily alarm for tomorrow at its HH:MM.
// Disabled alarms stay disarmed.
func (r *Router) reschedule(ctx context.Context, a state.Alarm) {
	id := trigger.Alarm(strconv.FormatInt(a.ID, 10))
	if !a.Enabled {
		r.log.Debug("alarm disabled, not re-armed", logx.String("name", id.Name()))
		return
	}
	now := r.now()
	next, err := nextOccurrence(a.Time, now, r.loc)
	if err != nil {
		r.log.Warn("alarm not re-armed", logx.String("name", id.Name()), logx.Err(err))
		return
	}
	delay := next.Sub(now).Minutes()
	if _, err := r.sched.Create(ctx, id, delay); err != nil {
		r.log.Warn("alarm re-arm failed", logx.String("name", id.Name()), logx.Err(err))
		return
	}
	metrics.ReschedulesTotal.Inc()
	r.log.Info("alarm re-armed", logx.String("name", id.Name()), logx.Time("at", next))
}

// nextOccurrence is today's HH:MM in loc, moved one calendar day ahead.
// The day is added even when today's HH:MM is still ahead of now.
func nextOccurrence(hhmm string, now time.Time, loc *time.Location) (time.Time, error) {
	h, m, err := parseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
	return today.AddDate(0, 0, 1), nil
}

func parseClock(s string) (int, int, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("alarm time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("alarm time %q: bad hour", s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("alarm time %q: bad minute", s)
	}
	return h, m, nil
}
