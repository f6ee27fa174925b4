package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"chatdesk/gateway/internal/logger"
)

// AccessLog writes one line per request once the handler returns. Streams are logged when they close.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := RequestLogger(r).WithFields(logger.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(started).Milliseconds(),
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("request served")
				return
			}
			entry.Info("request served")
		}()
		next.ServeHTTP(ww, r)
	})
}
