package trigger

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "timez/pkg/logx"
)

// maxDelayMinutes keeps deadlines inside time.Duration range (~100 years).
const maxDelayMinutes = 100 * 365 * 24 * 60

type entry struct {
	id  cron.EntryID
	at  time.Time
	gen uint64
}

// Scheduler arms named one-shot triggers. At most one trigger exists per name;
// arming an existing name replaces it. Fired triggers are delivered on Fired().
type Scheduler struct {
	mu sync.Mutex

	log     logx.Logger
	loc     *time.Location
	now     func() time.Time
	persist Persister

	c       *cron.Cron
	entries map[string]entry
	gen     uint64
	started bool

	fired    chan Info
	done     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, persist Persister, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := loadLocation(cfg.Timezone, log)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	buf := cfg.FiredBuffer
	if buf <= 0 {
		buf = 64
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		log:     log,
		loc:     loc,
		now:     now,
		persist: persist,
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		entries: map[string]entry{},
		fired:   make(chan Info, buf),
		done:    make(chan struct{}),
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the zone deadlines and daily alarms are computed in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Fired delivers triggers as their deadline passes.
func (s *Scheduler) Fired() <-chan Info { return s.fired }

// Start restores persisted triggers and starts timing. Triggers whose
// deadline passed while the process was down fire right away.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	restored := 0
	if s.persist != nil {
		saved, err := s.persist.LoadTriggers(ctx)
		if err != nil {
			s.log.Warn("trigger restore failed", logx.Err(err))
		}
		s.mu.Lock()
		for name, ms := range saved {
			if _, ok := s.entries[name]; ok {
				continue
			}
			s.armLocked(name, time.UnixMilli(ms))
			restored++
		}
		s.mu.Unlock()
	}

	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("restored", restored))
}

// Stop stops timing. Persisted deadlines stay so the next Start resumes them.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.c.Stop()
	// Unblock jobs waiting to hand off a fire before waiting for them.
	s.stopOnce.Do(func() { close(s.done) })
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Create arms id to fire after delayMinutes, replacing any trigger of the same name.
func (s *Scheduler) Create(ctx context.Context, id ID, delayMinutes float64) (Info, error) {
	if math.IsNaN(delayMinutes) || math.IsInf(delayMinutes, 0) || delayMinutes > maxDelayMinutes {
		return Info{}, ErrInvalidDelay
	}
	if delayMinutes < 0 {
		delayMinutes = 0
	}
	name := id.Name()
	at := s.now().Add(time.Duration(delayMinutes * float64(time.Minute)))

	s.mu.Lock()
	s.armLocked(name, at)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snap)
	s.log.Debug("trigger armed", logx.String("name", name), logx.Time("at", at), logx.Float64("delay_min", delayMinutes))
	return Info{Name: name, ScheduledTime: float64(at.UnixMilli())}, nil
}

// Clear disarms id. It reports whether a trigger existed.
func (s *Scheduler) Clear(ctx context.Context, id ID) bool {
	name := id.Name()
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		s.c.Remove(e.id)
		delete(s.entries, name)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if ok {
		s.save(ctx, snap)
		s.log.Debug("trigger cleared", logx.String("name", name))
	}
	return ok
}

// Get returns the armed trigger for id.
func (s *Scheduler) Get(id ID) (Info, bool) {
	name := id.Name()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Info{}, false
	}
	return Info{Name: name, ScheduledTime: float64(e.at.UnixMilli())}, true
}

// List returns every armed trigger ordered by name.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, Info{Name: name, ScheduledTime: float64(e.at.UnixMilli())})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) armLocked(name string, at time.Time) {
	if old, ok := s.entries[name]; ok {
		s.c.Remove(old.id)
	}
	s.gen++
	gen := s.gen
	eid := s.c.Schedule(&onceSchedule{at: at.In(s.loc)}, cron.FuncJob(func() { s.fire(name, gen) }))
	s.entries[name] = entry{id: eid, at: at, gen: gen}
}

func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.gen != gen {
		// replaced or cleared after cron picked it up
		s.mu.Unlock()
		return
	}
	s.c.Remove(e.id)
	delete(s.entries, name)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.save(ctx, snap)
	cancel()

	info := Info{Name: name, ScheduledTime: float64(e.at.UnixMilli())}
	s.log.Debug("trigger fired", logx.String("name", name))
	select {
	case s.fired <- info:
	case <-s.done:
	}
}

func (s *Scheduler) snapshotLocked() map[string]int64 {
	m := make(map[string]int64, len(s.entries))
	for name, e := range s.entries {
		m[name] = e.at.UnixMilli()
	}
	return m
}

func (s *Scheduler) save(ctx context.Context, snap map[string]int64) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveTriggers(ctx, snap); err != nil {
		s.log.Warn("trigger persist failed", logx.Err(err))
	}
}
