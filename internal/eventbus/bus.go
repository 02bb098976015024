package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	// TypeAlarmFired is published after a trigger fired and its notification went out.
	TypeAlarmFired = "alarm-fired"
	// TypeNotification carries a notification for the client to display.
	TypeNotification = "notification"
)

// ErrNoSubscribers is returned by Publish when nobody is listening.
// Callers broadcasting best-effort should ignore it.
var ErrNoSubscribers = errors.New("eventbus: no subscribers")

// Event is the broadcast sent to popup clients.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers get buffered channels; slow subscribers drop events.
type Event struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	// Notification is set on TypeNotification events.
	Notification any       `json:"notification,omitempty"`
	Time         time.Time `json:"-"`
}

type Bus interface {
	Publish(e Event) error
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	if len(chs) == 0 {
		return ErrNoSubscribers
	}
	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
	return nil
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
