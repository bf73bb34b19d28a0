package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"queuewatch/internal/monitor"
	"queuewatch/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// StatusSource provides the heartbeats served on /status.
type StatusSource interface {
	All() []monitor.Heartbeat
}

// HTTPServer serves metrics and monitor status.
type HTTPServer struct {
	addr       string
	gatherer   prometheus.Gatherer
	status     StatusSource
	httpServer *http.Server
	listener   net.Listener
}

// NewHTTPServer creates a server for addr. Nothing listens until Start.
func NewHTTPServer(addr string, gatherer prometheus.Gatherer, status StatusSource) *HTTPServer {
	return &HTTPServer{
		addr:     addr,
		gatherer: gatherer,
		status:   status,
	}
}

// CreateMux creates the HTTP mux with every endpoint.
func (s *HTTPServer) CreateMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/status", s.serveStatus)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *HTTPServer) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	heartbeats := []monitor.Heartbeat{}
	if s.status != nil {
		heartbeats = append(heartbeats, s.status.All()...)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(heartbeats); err != nil {
		logging.Warn("HTTPServer", "Failed to write status response: %v", err)
	}
}

// Start binds the listen address and serves in the background. Bind
// errors are returned immediately.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.CreateMux(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTPServer", err, "HTTP server stopped")
		}
	}()

	logging.Info("HTTPServer", "Serving metrics and status on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *HTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// FetchHeartbeats reads /status from a running instance at baseURL.
func FetchHeartbeats(ctx context.Context, client *http.Client, baseURL string) ([]monitor.Heartbeat, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: unexpected status %s", resp.Status)
	}

	var heartbeats []monitor.Heartbeat
	if err := json.NewDecoder(resp.Body).Decode(&heartbeats); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return heartbeats, nil
}
