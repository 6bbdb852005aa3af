// Package api exposes the settlement engine over HTTP/JSON.
//
// Routes:
//
//	GET  /health
//	GET  /balance
//	POST /sessions
//	GET  /sessions
//	GET  /sessions/{id}
//	POST /sessions/{id}/finalize
//	POST /sessions/{id}/finalize-batch
//	POST /sessions/{id}/payments
//	GET  /sessions/{id}/payments
//	POST /sessions/{id}/finalize-payments
//	GET  /sessions/{id}/records
//	GET  /records
//	POST /admin/withdraw
//
// Errors are returned as {"error": "...", "code": "..."} with a status
// derived from the engine's sentinel errors. Browser clients are admitted
// through CORS; any origin is allowed unless WithCORSOrigins narrows it.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/settle"
)

// CallerHeader carries the caller address of administrative requests.
// Authentication of that address is left to the fronting proxy.
const CallerHeader = "X-Settle-Caller"

const (
	defaultMaxBody   = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500
	corsMaxAge       = "600"
)

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{"Content-Type", "X-Request-ID", CallerHeader}, ", ")
)

// Server serves the HTTP API.
type Server struct {
	eng     *settle.Engine
	logger  *slog.Logger
	tracer  trace.Tracer
	version string
	maxBody int64
	origins []string
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTracer overrides the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithCORSOrigins sets the origins admitted by CORS. "*" admits any
// origin; no origins turns CORS off.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New builds the API around eng.
func New(eng *settle.Engine, opts ...Option) *Server {
	s := &Server{
		eng:     eng,
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/xraph/settle/api"),
		version: "dev",
		maxBody: defaultMaxBody,
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /balance", s.balance)
	mux.HandleFunc("POST /sessions", s.startSession)
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("GET /sessions/{id}", s.getSession)
	mux.HandleFunc("POST /sessions/{id}/finalize", s.finalize)
	mux.HandleFunc("POST /sessions/{id}/finalize-batch", s.finalizeBatch)
	mux.HandleFunc("GET /sessions/{id}/records", s.sessionRecords)
	mux.HandleFunc("POST /sessions/{id}/payments", s.addPayment)
	mux.HandleFunc("GET /sessions/{id}/payments", s.listPayments)
	mux.HandleFunc("POST /sessions/{id}/finalize-payments", s.finalizePayments)
	mux.HandleFunc("GET /records", s.listRecords)
	mux.HandleFunc("POST /admin/withdraw", s.withdraw)

	s.handler = chain(mux, s.requestID, s.cors, s.recoverPanic, s.observe)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ──────────────────────────────────────────────────
// Middleware
// ──────────────────────────────────────────────────

type middleware func(http.Handler) http.Handler

// chain applies middleware in declaration order.
func chain(h http.Handler, mw ...middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

var requestCounter atomic.Uint64

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = fmt.Sprintf("settle-%d-%d", time.Now().UnixNano(), requestCounter.Add(1))
			r.Header.Set("X-Request-ID", rid)
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("api: panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Header.Get("X-Request-ID"),
					"panic", p,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// cors answers preflight requests and tags responses to admitted origins.
// Requests from other origins pass through untagged; the browser blocks
// them.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := s.allowOrigin(origin)
		if allowed == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	switch {
	case origin == "":
		return ""
	case slices.Contains(s.origins, "*"):
		return "*"
	case slices.Contains(s.origins, origin):
		return origin
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// observe wraps each request in a span and logs its outcome.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.Start(r.Context(), "settle.http "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method)),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(sw, r)

		if r.Pattern != "" {
			span.SetName("settle.http " + r.Pattern)
			span.SetAttributes(semconv.HTTPRoute(r.Pattern))
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}

		s.logger.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"request_id", r.Header.Get("X-Request-ID"),
		)
	})
}

// ──────────────────────────────────────────────────
// Encoding
// ──────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v, rejecting unknown fields.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
