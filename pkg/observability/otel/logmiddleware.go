package otelobs

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"sentra/pkg/structlog"
)

// HTTPTraceLogMiddleware logs a compact access line with trace_id/span_id per
// request and sets Trace-Id/Span-Id response headers for correlation.
func HTTPTraceLogMiddleware(logger *structlog.Logger, next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		fields := structlog.Fields{"method": r.Method, "path": r.URL.Path}
		sc := trace.SpanContextFromContext(r.Context())
		if sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
			sr.Header().Set("Trace-Id", sc.TraceID().String())
			sr.Header().Set("Span-Id", sc.SpanID().String())
		}

		next.ServeHTTP(sr, r)

		fields["status"] = sr.status
		fields["dur_ms"] = time.Since(start).Milliseconds()
		logger.Info("access", fields)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
