package observability

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"chatdesk/gateway/internal/logger"
)

const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

var httpLog = logger.Named("http")

// RequestID reuses a client supplied X-Request-Id or assigns a new one, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestLogger returns the http logger tagged with the request id.
func RequestLogger(r *http.Request) *logger.LogEntry {
	return httpLog.WithField("request_id", RequestIDFrom(r.Context()))
}
