// Package httpapi implements the HTTP and WebSocket surface, wiring
// together internal/catalogstore, internal/adapter, internal/auth,
// internal/query, internal/request, internal/serialize, internal/stream,
// and internal/validate behind a github.com/gorilla/mux router. The
// middleware chain (request ID, structured logging, CORS, response-writer
// wrapper) uses idiomatic gorilla/mux path-parameter routing.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/metrics"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RequestID propagates or assigns an X-Request-Id header and stashes it
// in the request context, a direct translation of httpx.RequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = apperr.NewCorrelationID()
		}
		w.Header().Set("X-Request-Id", rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext mirrors httpx.ReqIDFromCtx.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logging wraps every request in structured zap logging plus Prometheus
// observation.
func Logging(logger *zap.Logger, collectors *metrics.Collectors) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &respWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rw, r)
			dur := time.Since(start)

			route := routePattern(r)
			statusClass := fmt.Sprintf("%dxx", rw.code/100)
			if collectors != nil {
				collectors.ObserveRequest(route, r.Method, statusClass, dur)
			}
			logger.Info("http_request",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.code),
				zap.Duration("duration", dur),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// respWriter captures the status code for logging while still passing
// through Flush/Hijack/Push/ReadFrom, the same pass-through surface as
// httpx.respWriter — required so streaming responses and the WebSocket
// upgrade in internal/stream keep working through this middleware.
type respWriter struct {
	http.ResponseWriter
	code int
}

func (w *respWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *respWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *respWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacker not supported")
}

func (w *respWriter) Push(target string, opts *http.PushOptions) error {
	if p, ok := w.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func (w *respWriter) ReadFrom(r io.Reader) (int64, error) {
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(r)
	}
	return io.Copy(w.ResponseWriter, r)
}

// CORS allows a single configured frontend origin, short-circuiting
// preflight OPTIONS requests with 204 — a direct translation of
// httpx.CORS.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowedOrigin == "*" || origin == allowedOrigin) {
				if allowedOrigin == "*" {
					// A reflected wildcard origin must never carry
					// credentials: that combination lets any site
					// make credentialed cross-origin requests against
					// an authenticated session. Only a specifically
					// configured origin gets Allow-Credentials.
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, X-Request-Id")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON mirrors httpx.JSON.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorPayload is the canonical error response body, the same shape as
// httpx.ErrorPayload generalized with apperr's stable Kind string.
type errorPayload struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteError renders err as a structured JSON error at the correct HTTP
// status, mapping any non-apperr error to 500
// "Unhandled exception" rule.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal(err)
	}
	WriteJSON(w, appErr.Status(), errorPayload{
		Kind:          string(appErr.Kind),
		Message:       appErr.Detail,
		CorrelationID: appErr.CorrelationID,
	})
}
