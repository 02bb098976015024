package trigger

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "timez/pkg/logx"
)

// onceSchedule is a cron.Schedule that yields a single activation.
//
// cron asks Next once when the entry is added and once after every run.
// The first answer is the deadline (or "now" when the deadline already
// passed); every later answer is the zero time, which cron never runs.
type onceSchedule struct {
	at     time.Time
	issued atomic.Bool
}

var _ cron.Schedule = (*onceSchedule)(nil)

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.issued.Swap(true) {
		return time.Time{}
	}
	if s.at.After(t) {
		return s.at
	}
	return t
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
