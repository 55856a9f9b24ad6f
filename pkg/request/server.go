package request

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/engine"
	"github.com/shimmy-run/shimmy/pkg/inference/models"
	"github.com/shimmy-run/shimmy/pkg/logging"
	"github.com/shimmy-run/shimmy/pkg/metrics"
)

// Server wires the engine and registry into the HTTP/streaming surface: the
// native and OpenAI-compatible completion endpoints, the registry
// introspection surface, health, metrics, and the bidirectional streaming
// endpoint.
type Server struct {
	engine        *engine.Engine
	modelsHandler *models.HTTPHandler
	tracker       *metrics.Tracker
	log           logging.Logger

	// RequestTimeout is the per-request wall-clock ceiling; zero disables it.
	RequestTimeout time.Duration

	handler http.Handler
}

// NewServer builds a Server. reg is the Prometheus registerer backing
// metrics; pass prometheus.NewRegistry() in tests to avoid collisions with
// the global default registry.
func NewServer(eng *engine.Engine, registry *models.Registry, log logging.Logger, reg prometheus.Registerer) *Server {
	tracker := metrics.NewTracker(reg)
	registry.SetTracker(tracker)

	s := &Server{
		engine:         eng,
		modelsHandler:  models.NewHTTPHandler(registry, log),
		tracker:        tracker,
		log:            log,
		RequestTimeout: inference.DefaultRequestTimeout * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.modelsHandler.ServeHTTP)
	mux.HandleFunc("GET "+inference.ModelsPrefix+"/status", s.modelsHandler.ServeHTTP)
	mux.HandleFunc("POST "+inference.ModelsPrefix+"/load", s.modelsHandler.ServeHTTP)
	mux.HandleFunc("DELETE "+inference.ModelsPrefix+"/{name...}", s.modelsHandler.ServeHTTP)
	mux.HandleFunc("GET /ws/generate", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = otelhttp.NewHandler(s.withObservability(mux), "shimmy")
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// withObservability assigns a correlation ID to every request (returned to
// the client via inference.RequestIDHeader so operators can map a reported
// error back to server logs) and records request latency/status in
// Prometheus.
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(inference.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)

		if s.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
			defer cancel()
		}

		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rec, req)

		// The mux sets Pattern on the request it was handed, not on r.
		s.tracker.ObserveRequest(req.Pattern, statusClass(rec.status), time.Since(started).Seconds())
	})
}

type correlationIDKey struct{}

// correlationIDFrom extracts the per-request correlation ID set by
// withObservability, for attaching to error responses and log lines.
func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes through to the underlying ResponseWriter when it supports
// it, so SSE handlers wrapped by withObservability still stream
// incrementally instead of buffering until the handler returns.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes through to the underlying ResponseWriter, so the websocket
// upgrade on /ws/generate still works behind withObservability.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// nowUnix returns the current Unix time in seconds, for the "created"
// fields of the OpenAI-compatible envelopes.
func nowUnix() int64 {
	return time.Now().Unix()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes err as a structured JSON error body, tagging it with
// the request's correlation ID so operators can map the client-visible
// report back to the log line that recorded cause.
func writeError(ctx context.Context, log logging.Logger, w http.ResponseWriter, err error) {
	var ierr *inference.Error
	if !errors.As(err, &ierr) {
		ierr = inference.Wrap(inference.ErrorInternal, "unexpected error", err)
	}
	id := correlationIDFrom(ctx)
	if id != "" {
		ierr = ierr.WithCorrelationID(id)
	}
	log.WithField("correlation_id", ierr.CorrelationID).WithField("kind", string(ierr.Kind)).WithError(err).Error("request failed")

	body := map[string]any{
		"error": map[string]any{
			"message": ierr.Error(),
			"type":    string(ierr.Kind),
		},
	}
	if ierr.CorrelationID != "" {
		body["error"].(map[string]any)["code"] = ierr.CorrelationID
	}
	writeJSON(w, ierr.Kind.HTTPStatus(), body)
}
