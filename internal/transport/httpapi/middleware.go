package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	logx "timez/pkg/logx"
)

// requestLogger logs one line per request with the chi request id.
func requestLogger(log logx.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []logx.Field{
					logx.String("request_id", middleware.GetReqID(r.Context())),
					logx.String("method", r.Method),
					logx.String("path", r.URL.Path),
					logx.Int("status", status),
					logx.Int("bytes", ww.BytesWritten()),
					logx.Duration("duration", time.Since(t1)),
				}
				if status >= 500 {
					log.Warn("http request", fields...)
					return
				}
				log.Debug("http request", fields...)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// originGuard refuses browser requests from origins outside the policy.
// CORS alone only hides responses; simple requests would still run.
// Requests without an Origin header (CLI, curl) pass.
func originGuard(p originPolicy, log logx.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && !p.allowed(origin) {
				log.Warn("origin refused",
					logx.String("request_id", middleware.GetReqID(r.Context())),
					logx.String("origin", origin),
					logx.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
