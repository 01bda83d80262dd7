package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

type responseRecorder struct {
	status int
	bytes  int64
	writer http.ResponseWriter
}

func (r *responseRecorder) Header() http.Header {
	return r.writer.Header()
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.writer.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.writer.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.writer.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.writer.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack unsupported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

type contextLookupFunc func(context.Context) schema.NotebookContextID

// withRequestLogging logs one line per request. Health checks log at debug,
// server errors at warn, and long-lived event streams are reported when they
// end.
func withRequestLogging(next http.Handler, lookup contextLookupFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{writer: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logger := pslog.Ctx(r.Context()).With("remote", clientIP(r))
		if lookup != nil {
			if ctxID := lookup(r.Context()); ctxID != "" {
				logger = logger.With("nb_ctx", string(ctxID))
			}
		}
		fields := []any{"method", r.Method, "path", requestPath(r), "status", status, "bytes", rec.bytes, "duration_ms", time.Since(start).Milliseconds()}
		if method, ok := strings.CutPrefix(r.URL.Path, "/rpc/"); ok {
			fields = append(fields, "rpc", method)
		}
		switch {
		case r.URL.Path == "/healthz":
			logger.Debug("http request", fields...)
		case status >= http.StatusInternalServerError:
			logger.Warn("http request", fields...)
		case isStreamPath(r.URL.Path):
			logger.Info("http stream ended", fields...)
		default:
			logger.Info("http request", fields...)
		}
	})
}

func isStreamPath(path string) bool {
	return path == "/api/stream" || path == "/api/ws"
}

// requestPath returns the path with any token query parameter redacted.
func requestPath(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	query := r.URL.Query()
	if query.Has("token") {
		query.Set("token", "REDACTED")
	}
	return r.URL.Path + "?" + query.Encode()
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}
