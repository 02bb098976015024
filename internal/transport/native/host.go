package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"timez/internal/eventbus"
	"timez/internal/router"
	logx "timez/pkg/logx"
)

// Dispatcher runs a popup message to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg router.Message) (router.Response, error)
}

type Subscriber interface {
	Subscribe(buffer int) (<-chan eventbus.Event, func())
}

// Storage is the key-value surface the popup uses in place of
// storage.local.
type Storage interface {
	Values(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	SetValues(ctx context.Context, values map[string]json.RawMessage) error
}

// Storage frames carry "op" instead of "type", so they never collide with
// popup message types.
const (
	OpStorageGet = "storage.get"
	OpStorageSet = "storage.set"
)

// envelope is read before the full request so that every reply, even to a
// malformed request, can carry the caller's id.
type envelope struct {
	ID     *int64                     `json:"id,omitempty"`
	Op     string                     `json:"op,omitempty"`
	Keys   []string                   `json:"keys,omitempty"`
	Values map[string]json.RawMessage `json:"values,omitempty"`
}

// Host bridges one extension connection to the router.
// Replies and broadcasts share stdout, so writes are serialized.
type Host struct {
	d      Dispatcher
	kv     Storage
	events Subscriber
	log    logx.Logger

	stdin  io.Reader
	stdout io.Writer
	wmu    sync.Mutex
}

// NewHost creates a host on os.Stdin/os.Stdout. kv and events may be nil to
// disable storage frames and broadcast frames.
func NewHost(d Dispatcher, kv Storage, events Subscriber, log logx.Logger) *Host {
	return newHost(d, kv, events, log, os.Stdin, os.Stdout)
}

func newHost(d Dispatcher, kv Storage, events Subscriber, log logx.Logger, in io.Reader, out io.Writer) *Host {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Host{
		d:      d,
		kv:     kv,
		events: events,
		log:    log.With(logx.String("comp", "native")),
		stdin:  in,
		stdout: out,
	}
}

// Run reads requests until stdin closes. EOF is a clean shutdown: the
// browser closes the pipe when the extension disconnects.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if h.events != nil {
		ch, unsub := h.events.Subscribe(16)
		defer unsub()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.forward(ctx, ch)
		}()
	}
	defer wg.Wait()
	defer cancel()

	h.log.Info("native host connected")
	for {
		err := h.processOneMessage(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			h.log.Info("native host disconnected")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (h *Host) processOneMessage(ctx context.Context) error {
	data, err := ReadMessage(h.stdin)
	if err != nil {
		return err
	}

	var env envelope
	envErr := json.Unmarshal(data, &env)
	if env.Op != "" {
		if envErr != nil {
			h.log.Warn("invalid storage request", logx.Err(envErr))
			return h.write(withID(map[string]any{"error": fmt.Sprintf("invalid request: %v", envErr)}, env.ID))
		}
		return h.write(h.storageOp(ctx, env))
	}

	var msg router.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Warn("invalid request", logx.Err(err))
		return h.write(withID(map[string]any{"error": fmt.Sprintf("invalid request: %v", err)}, env.ID))
	}

	resp, err := h.d.Dispatch(ctx, msg)
	if err != nil {
		return err
	}
	return h.write(resp)
}

func (h *Host) storageOp(ctx context.Context, env envelope) map[string]any {
	if h.kv == nil {
		return withID(map[string]any{"error": "storage unavailable"}, env.ID)
	}
	switch env.Op {
	case OpStorageGet:
		values, err := h.kv.Values(ctx, env.Keys...)
		if err != nil {
			return withID(map[string]any{"error": err.Error()}, env.ID)
		}
		return withID(map[string]any{"values": values}, env.ID)
	case OpStorageSet:
		if err := h.kv.SetValues(ctx, env.Values); err != nil {
			h.log.Warn("storage write refused", logx.Err(err))
			return withID(map[string]any{"error": err.Error()}, env.ID)
		}
		return withID(map[string]any{"success": true}, env.ID)
	default:
		return withID(map[string]any{"error": "Unknown op"}, env.ID)
	}
}

func withID(m map[string]any, id *int64) map[string]any {
	if id != nil {
		m["id"] = *id
	}
	return m
}

func (h *Host) forward(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := h.write(ev); err != nil {
				h.log.Warn("broadcast write failed", logx.String("name", ev.Name), logx.Err(err))
				return
			}
		}
	}
}

func (h *Host) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.wmu.Lock()
	defer h.wmu.Unlock()
	return WriteMessage(h.stdout, b)
}
