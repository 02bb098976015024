package native

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timez/internal/eventbus"
	"timez/internal/notifier"
	"timez/internal/router"
	"timez/internal/state"
	"timez/internal/storage"
	"timez/internal/trigger"
	logx "timez/pkg/logx"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	seen []router.Message
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg router.Message) (router.Response, error) {
	f.mu.Lock()
	f.seen = append(f.seen, msg)
	f.mu.Unlock()
	if msg.Type == router.TypeGetTimerState {
		return router.Response{Kind: router.ResponseTimerState}, nil
	}
	return router.Response{Kind: router.ResponseSuccess}, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) frames(t *testing.T) []string {
	t.Helper()
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()
	r := bytes.NewReader(data)
	var out []string
	for {
		msg, err := ReadMessage(r)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(msg))
	}
}

func frame(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte(s)))
	return buf.Bytes()
}

func TestProtocolRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte(`{"type":"cancel-timer"}`)))
	assert.Equal(t, []byte{23, 0, 0, 0}, buf.Bytes()[:4])

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"cancel-timer"}`, string(got))
}

func TestProtocolRejectsOversize(t *testing.T) {
	big := make([]byte, MaxMessageSize+1)
	assert.Error(t, WriteMessage(io.Discard, big))

	hdr := []byte{0x01, 0x00, 0x10, 0x00} // 1 MiB + 1
	_, err := ReadMessage(bytes.NewReader(hdr))
	assert.Error(t, err)
}

func TestHostRepliesInOrderAndEchoesID(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, `{"id":1,"type":"create-timer","delayInMinutes":5}`))
	in.Write(frame(t, `{"id":2,"type":"get-timer-state"}`))
	in.Write(frame(t, `not json`))

	d := &fakeDispatcher{}
	out := &lockedBuffer{}
	h := newHost(d, nil, nil, logx.Nop(), &in, out)

	require.NoError(t, h.Run(context.Background()))

	frames := out.frames(t)
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"success":true}`, frames[0])
	assert.JSONEq(t, `{"alarm":null}`, frames[1])
	assert.True(t, strings.HasPrefix(frames[2], `{"error":"invalid request`), frames[2])

	require.Len(t, d.seen, 2)
	require.NotNil(t, d.seen[0].ID)
	assert.Equal(t, int64(1), *d.seen[0].ID)
	require.NotNil(t, d.seen[0].DelayInMinutes)
	assert.Equal(t, 5.0, *d.seen[0].DelayInMinutes)
}

func TestHostWritesBroadcastFrames(t *testing.T) {
	pr, pw := io.Pipe()
	bus := eventbus.New()
	out := &lockedBuffer{}
	h := newHost(&fakeDispatcher{}, nil, bus, logx.Nop(), pr, out)

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmFired, Name: "alarm-7"}) == nil
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(out.frames(t)) > 0 }, time.Second, 5*time.Millisecond)

	var ev map[string]string
	require.NoError(t, json.Unmarshal([]byte(out.frames(t)[0]), &ev))
	assert.Equal(t, map[string]string{"type": "alarm-fired", "name": "alarm-7"}, ev)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}

func TestHostInvalidRequestKeepsID(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, `{"id":3,"type":"create-alarm","alarmId":{}}`))
	in.Write(frame(t, `{"id":4,"op":"storage.get","keys":5}`))

	out := &lockedBuffer{}
	h := newHost(&fakeDispatcher{}, state.New(storage.NewMemory()), nil, logx.Nop(), &in, out)
	require.NoError(t, h.Run(context.Background()))

	frames := out.frames(t)
	require.Len(t, frames, 2)
	for i, want := range []float64{3, 4} {
		var reply map[string]any
		require.NoError(t, json.Unmarshal([]byte(frames[i]), &reply))
		assert.Equal(t, want, reply["id"])
		assert.Contains(t, reply["error"], "invalid request")
	}
}

func TestHostStorageFrames(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, `{"id":1,"op":"storage.set","values":{"alarms":[{"id":7,"label":"Standup","time":"09:15","enabled":true}]}}`))
	in.Write(frame(t, `{"id":2,"op":"storage.get","keys":["alarms","missing"]}`))
	in.Write(frame(t, `{"op":"storage.set","values":{"triggers":{}}}`))
	in.Write(frame(t, `{"op":"storage.clear"}`))
	in.Write(frame(t, `{"type":"storage.get"}`))

	d := &fakeDispatcher{}
	out := &lockedBuffer{}
	h := newHost(d, state.New(storage.NewMemory()), nil, logx.Nop(), &in, out)
	require.NoError(t, h.Run(context.Background()))

	frames := out.frames(t)
	require.Len(t, frames, 5)
	assert.JSONEq(t, `{"success":true,"id":1}`, frames[0])
	assert.JSONEq(t, `{"values":{"alarms":[{"id":7,"label":"Standup","time":"09:15","enabled":true}]},"id":2}`, frames[1])
	assert.Contains(t, frames[2], "managed by the daemon")
	assert.JSONEq(t, `{"error":"Unknown op"}`, frames[3])

	// A "type" frame always goes to the router, whatever its value.
	require.Len(t, d.seen, 1)
	assert.Equal(t, "storage.get", d.seen[0].Type)
}

func TestHostForwardsNotifications(t *testing.T) {
	pr, pw := io.Pipe()
	bus := eventbus.New()
	out := &lockedBuffer{}
	h := newHost(&fakeDispatcher{}, nil, bus, logx.Nop(), pr, out)

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()

	sink := notifier.ClientSink{Bus: bus}
	n := notifier.Notification{Type: notifier.TypeBasic, IconURL: notifier.DefaultIcon, Title: "Timez", Message: "Timer complete!"}
	// The host subscribes asynchronously; resend until a frame shows up.
	require.Eventually(t, func() bool {
		require.NoError(t, sink.Send(context.Background(), n))
		return len(out.frames(t)) > 0
	}, time.Second, 5*time.Millisecond)

	assert.JSONEq(t,
		`{"type":"notification","notification":{"type":"basic","iconUrl":"icons/icon-48.png","title":"Timez","message":"Timer complete!"}}`,
		out.frames(t)[0])

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}

type noteRecorder struct {
	mu  sync.Mutex
	got []notifier.Notification
}

func (r *noteRecorder) Notify(ctx context.Context, n notifier.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func TestAlarmSavedOverHostFiresWithLabel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	repo := state.New(storage.NewMemory())
	sched := trigger.New(trigger.Config{Timezone: "UTC", Now: clock}, repo, logx.Nop())
	t.Cleanup(func() { sched.Stop(context.Background()) })
	notes := &noteRecorder{}
	rt := router.New(router.Deps{
		Store:     repo,
		Scheduler: sched,
		Notifier:  notes,
		Location:  sched.Location(),
		Now:       clock,
	})

	var in bytes.Buffer
	in.Write(frame(t, `{"op":"storage.set","values":{"alarms":[{"id":7,"label":"Standup","time":"09:15","enabled":true}]}}`))
	out := &lockedBuffer{}
	require.NoError(t, newHost(rt, repo, nil, logx.Nop(), &in, out).Run(ctx))
	require.Len(t, out.frames(t), 1)
	assert.JSONEq(t, `{"success":true}`, out.frames(t)[0])

	require.NoError(t, rt.HandleFire(ctx, trigger.Alarm("7")))

	require.Len(t, notes.got, 1)
	assert.Equal(t, "Standup", notes.got[0].Message)

	info, ok := sched.Get(trigger.Alarm("7"))
	require.True(t, ok)
	assert.WithinDuration(t, time.Date(2026, 3, 11, 9, 15, 0, 0, time.UTC), info.At(), 0)
}
