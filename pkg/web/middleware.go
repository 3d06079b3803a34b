package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ritzau/tswatch/pkg/logging"
)

// withRequestLog tags each request with an X-Request-ID and logs it once
// it is answered. Event streams stay open until the client leaves, so
// they are also logged when they start.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.WithRequestID(r.Context(), id)

		stream := strings.HasPrefix(r.URL.Path, "/api/subscribe")
		if stream {
			log.InfoContext(ctx, "Status stream opened", "path", r.URL.Path, "remote", r.RemoteAddr)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		attrs := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"bytes", rec.bytes, "duration", time.Since(start)}
		switch {
		case rec.status >= http.StatusInternalServerError:
			log.ErrorContext(ctx, "Request failed", attrs...)
		case stream:
			log.InfoContext(ctx, "Status stream closed", attrs...)
		default:
			log.DebugContext(ctx, "Request served", attrs...)
		}
	})
}

// statusRecorder captures what a handler answered.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Flush keeps event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
