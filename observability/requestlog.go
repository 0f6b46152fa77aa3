package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/scel/idgen"
	"github.com/hazyhaar/scel/kit"
)

// statusRecorder captures the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger returns middleware that writes one request_logs row per
// request. The write runs after the response is sent and uses a short
// detached context so slow storage cannot hold the connection open.
func (r *Recorder) RequestLogger() func(http.Handler) http.Handler {
	newID := idgen.Prefixed("req_", idgen.Default)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := r.now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)

			ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), 2*time.Second)
			defer cancel()
			_, err := r.db.ExecContext(ctx, `
				INSERT INTO request_logs
					(log_id, method, path, status_code, duration_ms, trace_id, client_id, remote_addr, created_at)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				newID(), req.Method, req.URL.Path, rec.status,
				r.now().Sub(start).Milliseconds(),
				kit.GetTraceID(req.Context()), kit.GetClientID(req.Context()),
				kit.GetRemoteAddr(req.Context()),
				start.Unix())
			if err != nil {
				slog.Warn("observability: request log write failed", "error", err, "path", req.URL.Path)
			}
		})
	}
}
