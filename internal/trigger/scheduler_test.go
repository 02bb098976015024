package trigger

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "timez/pkg/logx"
)

type memPersist struct {
	mu   sync.Mutex
	data map[string]int64
	sets int
}

func (p *memPersist) LoadTriggers(ctx context.Context) (map[string]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]int64{}
	for k, v := range p.data {
		out[k] = v
	}
	return out, nil
}

func (p *memPersist) SaveTriggers(ctx context.Context, m map[string]int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = m
	p.sets++
	return nil
}

func (p *memPersist) snapshot() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestParseName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		kind  Kind
		alarm string
	}{
		{name: "timer", kind: KindTimer},
		{name: "alarm-7", kind: KindAlarm, alarm: "7"},
		{name: "alarm-", kind: KindAlarm, alarm: ""},
		{name: "alarm-abc", kind: KindAlarm, alarm: "abc"},
		{name: "timers", kind: KindUnknown},
		{name: "Alarm-1", kind: KindUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			id := ParseName(tt.name)
			if id.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", id.Kind, tt.kind)
			}
			if id.AlarmID != tt.alarm {
				t.Fatalf("AlarmID = %q, want %q", id.AlarmID, tt.alarm)
			}
			if id.Name() != tt.name {
				t.Fatalf("Name() = %q, want %q", id.Name(), tt.name)
			}
		})
	}
}

func TestCreateGetClear(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := &memPersist{}
	s := New(Config{Now: fixedClock(now)}, p, logx.Nop())
	ctx := context.Background()

	info, err := s.Create(ctx, Timer(), 5)
	require.NoError(t, err)
	assert.Equal(t, "timer", info.Name)
	assert.WithinDuration(t, now.Add(5*time.Minute), info.At(), 0)

	got, ok := s.Get(Timer())
	require.True(t, ok)
	assert.Equal(t, info, got)
	assert.Equal(t, map[string]int64{"timer": now.Add(5 * time.Minute).UnixMilli()}, p.snapshot())

	assert.True(t, s.Clear(ctx, Timer()))
	_, ok = s.Get(Timer())
	assert.False(t, ok)
	assert.Empty(t, p.snapshot())
	assert.False(t, s.Clear(ctx, Timer()))
}

func TestCreateReplacesSameName(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New(Config{Now: fixedClock(now)}, nil, logx.Nop())
	ctx := context.Background()

	_, err := s.Create(ctx, Alarm("3"), 10)
	require.NoError(t, err)
	_, err = s.Create(ctx, Alarm("3"), 1)
	require.NoError(t, err)
	_, err = s.Create(ctx, Timer(), 2)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alarm-3", list[0].Name)
	assert.WithinDuration(t, now.Add(time.Minute), list[0].At(), 0)
	assert.Equal(t, "timer", list[1].Name)
}

func TestInfoAtIsUTC(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	got := Info{Name: "timer", ScheduledTime: float64(at.UnixMilli())}.At()
	assert.Equal(t, at, got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestCreateRejectsBadDelay(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	for _, d := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), maxDelayMinutes + 1} {
		_, err := s.Create(context.Background(), Timer(), d)
		assert.ErrorIs(t, err, ErrInvalidDelay, "delay %v", d)
	}
}

func TestCreateClampsNegativeDelay(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New(Config{Now: fixedClock(now)}, nil, logx.Nop())
	info, err := s.Create(context.Background(), Timer(), -3)
	require.NoError(t, err)
	assert.WithinDuration(t, now, info.At(), 0)
}

func TestFiresOnce(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	_, err := s.Create(ctx, Alarm("1"), 0.001) // 60ms
	require.NoError(t, err)

	select {
	case info := <-s.Fired():
		assert.Equal(t, "alarm-1", info.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire")
	}
	_, ok := s.Get(Alarm("1"))
	assert.False(t, ok, "fired trigger should be gone")

	select {
	case info := <-s.Fired():
		t.Fatalf("unexpected second fire: %+v", info)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClearedTriggerDoesNotFire(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	_, err := s.Create(ctx, Timer(), 0.002)
	require.NoError(t, err)
	require.True(t, s.Clear(ctx, Timer()))

	select {
	case info := <-s.Fired():
		t.Fatalf("cleared trigger fired: %+v", info)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestStartRestoresOverdueTriggers(t *testing.T) {
	p := &memPersist{data: map[string]int64{
		"alarm-9": time.Now().Add(-time.Hour).UnixMilli(),
	}}
	s := New(Config{}, p, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	select {
	case info := <-s.Fired():
		assert.Equal(t, "alarm-9", info.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("restored trigger did not fire")
	}
}

func TestOnceSchedule(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s := &onceSchedule{at: now.Add(time.Minute)}
	assert.Equal(t, now.Add(time.Minute), s.Next(now))
	assert.True(t, s.Next(now.Add(time.Minute)).IsZero())

	past := &onceSchedule{at: now.Add(-time.Minute)}
	assert.Equal(t, now, past.Next(now))
	assert.True(t, past.Next(now).IsZero())
}

func TestInvalidTimezoneFallsBackToLocal(t *testing.T) {
	s := New(Config{Timezone: "Mars/Olympus"}, nil, logx.Nop())
	assert.Equal(t, time.Local, s.Location())

	s = New(Config{Timezone: "Asia/Tokyo"}, nil, logx.Nop())
	assert.Equal(t, "Asia/Tokyo", s.Location().String())
}
