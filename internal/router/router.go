// Package router interprets trigger fires and popup messages and drives the
// scheduler, the notifier and the state store.
//
// HandleFire and HandleMessage are plain functions over typed input. Run
// serializes both sources onto one goroutine; transports reach it via Dispatch.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timez/internal/eventbus"
	"timez/internal/metrics"
	"timez/internal/notifier"
	"timez/internal/state"
	"timez/internal/trigger"
	logx "timez/pkg/logx"
)

const (
	notificationTitle = "Timez"
	timerMessage      = "Timer complete!"
	alarmFallback     = "Alarm"
)

// Scheduler is the trigger API the router drives.
type Scheduler interface {
	Create(ctx context.Context, id trigger.ID, delayMinutes float64) (trigger.Info, error)
	Clear(ctx context.Context, id trigger.ID) bool
	Get(id trigger.ID) (trigger.Info, bool)
}

type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Broadcaster interface {
	Publish(e eventbus.Event) error
}

type Deps struct {
	Store     state.Store
	Scheduler Scheduler
	Notifier  Notifier
	Bus       Broadcaster
	Log       logx.Logger

	// Location is where alarm HH:MM times are interpreted. Nil means local.
	Location *time.Location
	Now      func() time.Time
	// Icon overrides notifier.DefaultIcon.
	Icon string
}

type request struct {
	msg   Message
	reply chan Response
}

type Router struct {
	store state.Store
	sched Scheduler
	notif Notifier
	bus   Broadcaster
	log   logx.Logger
	loc   *time.Location
	now   func() time.Time
	icon  string

	reqs chan request
}

func New(d Deps) *Router {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	icon := strings.TrimSpace(d.Icon)
	if icon == "" {
		icon = notifier.DefaultIcon
	}
	return &Router{
		store: d.Store,
		sched: d.Scheduler,
		notif: d.Notifier,
		bus:   d.Bus,
		log:   log.With(logx.String("comp", "router")),
		loc:   loc,
		now:   now,
		icon:  icon,
		reqs:  make(chan request),
	}
}

// Install seeds default state. reason is "install" or "startup" and only
// shows up in the log.
func (r *Router) Install(ctx context.Context, reason string) error {
	written, err := r.store.EnsureDefaults(ctx)
	if err != nil {
		return fmt.Errorf("ensure defaults: %w", err)
	}
	r.log.Info("timez initialized", logx.String("reason", reason), logx.Any("seeded", written))
	return nil
}

// Run handles fires and dispatched messages one at a time until ctx is done.
func (r *Router) Run(ctx context.Context, fired <-chan trigger.Info) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case info, ok := <-fired:
			if !ok {
				fired = nil
				continue
			}
			if err := r.HandleFire(ctx, trigger.ParseName(info.Name)); err != nil {
				r.log.Error("fire handling failed", logx.String("name", info.Name), logx.Err(err))
			}
		case req := <-r.reqs:
			req.reply <- r.HandleMessage(ctx, req.msg)
		}
	}
}

// Dispatch queues msg on the Run loop and waits for the reply.
func (r *Router) Dispatch(ctx context.Context, msg Message) (Response, error) {
	req := request{msg: msg, reply: make(chan Response, 1)}
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// HandleFire reacts to a trigger firing.
func (r *Router) HandleFire(ctx context.Context, id trigger.ID) error {
	r.log.Info("trigger fired", logx.String("name", id.Name()))
	metrics.FiresTotal.WithLabelValues(id.Kind.String()).Inc()

	switch id.Kind {
	case trigger.KindTimer:
		r.notify(ctx, timerMessage)
	case trigger.KindAlarm:
		alarms, err := r.store.Alarms(ctx)
		if err != nil {
			return fmt.Errorf("load alarms for %s: %w", id.Name(), err)
		}
		a, ok := state.FindAlarm(alarms, id.AlarmID)
		if !ok {
			metrics.FallbacksTotal.Inc()
			r.log.Warn("alarm record missing", logx.String("alarm_id", id.AlarmID))
			r.notify(ctx, alarmFallback)
			break
		}
		msg := a.Label
		if msg == "" {
			msg = alarmFallback
		}
		r.notify(ctx, msg)
		r.reschedule(ctx, a)
	}

	r.broadcast(id)
	return nil
}

// HandleMessage executes one popup request.
func (r *Router) HandleMessage(ctx context.Context, msg Message) Response {
	resp := r.handle(ctx, msg)
	resp.ID = msg.ID

	outcome := "ok"
	typ := msg.Type
	switch {
	case resp.Kind == ResponseError && resp.Error == errUnknownType:
		outcome, typ = "unknown", "other"
	case resp.Kind == ResponseError:
		outcome = "error"
	}
	metrics.MessagesTotal.WithLabelValues(typ, outcome).Inc()
	return resp
}

func (r *Router) handle(ctx context.Context, msg Message) Response {
	r.log.Debug("message received", logx.String("type", msg.Type), logx.String("alarm_id", string(msg.AlarmID)))

	switch msg.Type {
	case TypeCreateTimer:
		return r.create(ctx, trigger.Timer(), msg.DelayInMinutes)
	case TypeCancelTimer:
		r.sched.Clear(ctx, trigger.Timer())
		return success()
	case TypeCreateAlarm:
		return r.create(ctx, trigger.Alarm(string(msg.AlarmID)), msg.DelayInMinutes)
	case TypeCancelAlarm:
		r.sched.Clear(ctx, trigger.Alarm(string(msg.AlarmID)))
		return success()
	case TypeGetTimerState:
		resp := Response{Kind: ResponseTimerState}
		if info, ok := r.sched.Get(trigger.Timer()); ok {
			resp.Alarm = &info
		}
		return resp
	default:
		return failure(errUnknownType)
	}
}

func (r *Router) create(ctx context.Context, id trigger.ID, delay *float64) Response {
	if delay == nil {
		return failure(errMissingDelay)
	}
	if _, err := r.sched.Create(ctx, id, *delay); err != nil {
		r.log.Warn("create trigger failed", logx.String("name", id.Name()), logx.Err(err))
		return failure(err.Error())
	}
	return success()
}

func (r *Router) notify(ctx context.Context, message string) {
	if r.notif == nil {
		return
	}
	n := notifier.Notification{
		Type:    notifier.TypeBasic,
		IconURL: r.icon,
		Title:   notificationTitle,
		Message: message,
	}
	if err := r.notif.Notify(ctx, n); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		r.log.Warn("notification dispatch failed", logx.String("message", message), logx.Err(err))
	}
}

func (r *Router) broadcast(id trigger.ID) {
	if r.bus == nil {
		return
	}
	err := r.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmFired, Name: id.Name(), Time: r.now()})
	switch {
	case err == nil:
		metrics.BroadcastsTotal.WithLabelValues("delivered").Inc()
	case errors.Is(err, eventbus.ErrNoSubscribers):
		metrics.BroadcastsTotal.WithLabelValues("no_listener").Inc()
	default:
		r.log.Debug("broadcast failed", logx.String("name", id.Name()), logx.Err(err))
	}
}
