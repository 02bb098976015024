// Package httpapi exposes the popup message schema over local HTTP, plus a
// WebSocket stream of broadcasts, the world clock, metrics and health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"timez/internal/eventbus"
	"timez/internal/metrics"
	"timez/internal/notifier"
	"timez/internal/router"
	"timez/internal/state"
	logx "timez/pkg/logx"
)

const maxBodyBytes = 1 << 20

// DefaultAllowedOrigins admits any installed browser extension. Patterns are
// scheme://host with path.Match wildcards in the host; a bare "*" admits
// every origin.
var DefaultAllowedOrigins = []string{"moz-extension://*", "chrome-extension://*"}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg router.Message) (router.Response, error)
}

type Subscriber interface {
	Subscribe(buffer int) (<-chan eventbus.Event, func())
}

type CityLister interface {
	Cities(ctx context.Context) ([]state.City, error)
}

// Storage is the key-value surface the popup uses in place of storage.local.
type Storage interface {
	Values(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	SetValues(ctx context.Context, values map[string]json.RawMessage) error
}

type HistoryLister interface {
	History() []notifier.HistoryItem
}

type Deps struct {
	Dispatcher     Dispatcher
	Events         Subscriber
	Cities         CityLister
	Storage        Storage
	History        HistoryLister
	Log            logx.Logger
	AllowedOrigins []string
	Now            func() time.Time
	// Pprof mounts net/http/pprof under /debug/pprof.
	Pprof bool
}

type api struct {
	d       Dispatcher
	events  Subscriber
	cities  CityLister
	kv      Storage
	history HistoryLister
	log     logx.Logger
	now     func() time.Time
	wsOpts  *websocket.AcceptOptions
}

// NewHandler builds the chi router.
func NewHandler(d Deps) http.Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "httpapi"))
	now := d.Now
	if now == nil {
		now = time.Now
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}

	policy := newOriginPolicy(origins)

	a := &api{
		d:       d.Dispatcher,
		events:  d.Events,
		cities:  d.Cities,
		kv:      d.Storage,
		history: d.History,
		log:     log,
		now:     now,
		// The origin guard has already run; the library check repeats it on
		// the same patterns.
		wsOpts: &websocket.AcceptOptions{OriginPatterns: policy.patterns},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors.New(cors.Options{
		AllowOriginFunc: policy.allowed,
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:  []string{"Content-Type"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if d.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(originGuard(policy, log))
		r.With(middleware.AllowContentType("application/json")).Post("/messages", a.postMessage)
		r.Get("/events", a.streamEvents)
		r.Get("/world-clock", a.worldClock)
		r.Get("/notifications", a.notifications)
		r.Get("/storage/{key}", a.getValue)
		r.With(middleware.AllowContentType("application/json")).Put("/storage/{key}", a.putValue)
	})
	return r
}

func (a *api) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg router.Message
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request: " + err.Error()})
		return
	}
	resp, err := a.d.Dispatch(r.Context(), msg)
	if err != nil {
		a.log.Warn("dispatch failed", logx.String("type", msg.Type), logx.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		http.Error(w, "events disabled", http.StatusNotFound)
		return
	}
	conn, err := websocket.Accept(w, r, a.wsOpts)
	if err != nil {
		a.log.Debug("websocket accept failed", logx.Err(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ch, unsub := a.events.Subscribe(16)
	defer unsub()

	// Clients never send; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (a *api) getValue(w http.ResponseWriter, r *http.Request) {
	if a.kv == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "storage disabled"})
		return
	}
	key := chi.URLParam(r, "key")
	got, err := a.kv.Values(r.Context(), key)
	if err != nil {
		a.log.Warn("storage read failed", logx.String("key", key), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	v, ok := got[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
}

func (a *api) putValue(w http.ResponseWriter, r *http.Request) {
	if a.kv == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "storage disabled"})
		return
	}
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request: " + err.Error()})
		return
	}
	err = a.kv.SetValues(r.Context(), map[string]json.RawMessage{key: body})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, state.ErrReservedKey):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, state.ErrInvalidValue), errors.Is(err, state.ErrNoKeys):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		a.log.Warn("storage write failed", logx.String("key", key), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (a *api) notifications(w http.ResponseWriter, _ *http.Request) {
	items := []notifier.HistoryItem{}
	if a.history != nil {
		if h := a.history.History(); h != nil {
			items = h
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

// CityTime is one world clock row.
type CityTime struct {
	state.City
	Time   string `json:"time,omitempty"`
	Offset string `json:"offset,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (a *api) worldClock(w http.ResponseWriter, r *http.Request) {
	if a.cities == nil {
		writeJSON(w, http.StatusOK, map[string]any{"cities": []CityTime{}})
		return
	}
	cities, err := a.cities.Cities(r.Context())
	if err != nil {
		a.log.Warn("load cities failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	now := a.now()
	out := make([]CityTime, 0, len(cities))
	for _, c := range cities {
		out = append(out, cityTime(c, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cities": out})
}

func cityTime(c state.City, now time.Time) CityTime {
	ct := CityTime{City: c}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		ct.Error = "unknown timezone"
		return ct
	}
	t := now.In(loc)
	ct.Time = t.Format(time.RFC3339)
	ct.Offset = t.Format("-07:00")
	return ct
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// originPolicy admits browser origins against the configured patterns.
// A pattern holding "://" is matched against scheme://host, anything else
// against the host alone, the way websocket.AcceptOptions reads them.
type originPolicy struct {
	patterns []string
	any      bool
}

func newOriginPolicy(origins []string) originPolicy {
	var p originPolicy
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "" {
			continue
		}
		if o == "*" {
			p.any = true
		}
		p.patterns = append(p.patterns, o)
	}
	return p
}

func (p originPolicy) allowed(origin string) bool {
	if p.any {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	full := strings.ToLower(u.Scheme) + "://" + host
	for _, pat := range p.patterns {
		target := host
		if strings.Contains(pat, "://") {
			target = full
		}
		if ok, _ := path.Match(pat, target); ok {
			return true
		}
	}
	return false
}
