package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/query"
	"github.com/goliatone/go-esim/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultMaxBodyBytes = 1 << 20

type WebhookProcessor interface {
	Process(ctx context.Context, delivery webhooks.Delivery) (webhooks.Result, error)
}

type ActivationQuerier interface {
	Query(ctx context.Context, msg query.GetActivationMessage) (core.ActivationResult, error)
}

type UsageQuerier interface {
	Query(ctx context.Context, msg query.GetSIMUsageMessage) (core.SIMUsage, error)
}

// Config wires the handlers. Stream is optional; every other field is
// required.
type Config struct {
	Stripe       WebhookProcessor
	Coinbase     WebhookProcessor
	Activation   ActivationQuerier
	Usage        UsageQuerier
	Stream       http.Handler
	Logger       glog.Logger
	MaxBodyBytes int64
}

type Server struct {
	cfg    Config
	logger glog.Logger
	mux    *http.ServeMux
}

func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Stripe == nil:
		return nil, fmt.Errorf("httpapi: stripe processor is required")
	case cfg.Coinbase == nil:
		return nil, fmt.Errorf("httpapi: coinbase processor is required")
	case cfg.Activation == nil:
		return nil, fmt.Errorf("httpapi: activation query is required")
	case cfg.Usage == nil:
		return nil, fmt.Errorf("httpapi: sim usage query is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := glog.Ensure(cfg.Logger)

	s := &Server{cfg: cfg, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /webhooks/stripe", s.webhook(s.cfg.Stripe, webhooks.StripeSignatureHeader))
	s.mux.HandleFunc("POST /webhooks/coinbase", s.webhook(s.cfg.Coinbase, webhooks.CoinbaseSignatureHeader))
	s.mux.HandleFunc("POST /api/activation", s.activation)
	s.mux.HandleFunc("POST /api/sim-usage", s.simUsage)
	s.mux.HandleFunc("GET /healthz", s.healthz)
	if s.cfg.Stream != nil {
		s.mux.Handle("GET /ws/orders/{orderId}", s.cfg.Stream)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Info("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewHTTPServer returns a server for handler that shuts down once ctx ends.
func NewHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("httpapi: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
