package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/wschat/pkg/database"
	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// ErrStoreBusy is returned by Stop when connections outlive the shutdown
// deadline. The store is left open for them.
var ErrStoreBusy = errors.New("connections still active, store left open")

// SetDebugOutput enables debug logging to w (nil disables it)
func SetDebugOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	debugLog.SetOutput(w)
}

// Server represents the chat server
type Server struct {
	store     database.Store
	config    ServerConfig
	validator *database.Validator
	registry  *Registry
	monitor   *LivenessMonitor
	metrics   *Metrics

	promRegistry *prometheus.Registry
	upgrader     websocket.Upgrader
	handler      http.Handler
	httpServer   *http.Server
	listener     net.Listener

	mu           sync.Mutex // Protects sessions and the shuttingDown transition
	sessions     map[string]*Session
	shuttingDown atomic.Bool
	shutdown     chan struct{}

	wg        sync.WaitGroup // connection goroutines
	bgWG      sync.WaitGroup // retention loop
	faults    chan error
	startTime time.Time
	stopOnce  sync.Once
	stopErr   error
}

// NewServer creates a server around an open store. The server owns the store
// from here on and closes it in Stop.
func NewServer(store database.Store, config ServerConfig) *Server {
	config = config.withDefaults()
	promRegistry := prometheus.NewRegistry()
	metrics := NewMetrics(promRegistry)
	registry := NewRegistry(metrics)

	s := &Server{
		store:  store,
		config: config,
		validator: database.NewValidator(database.Limits{
			MaxUsernameLength: config.MaxUsernameLength,
			MaxMessageLength:  config.MaxMessageLength,
		}),
		registry:     registry,
		monitor:      NewLivenessMonitor(registry, config.HeartbeatInterval, metrics),
		metrics:      metrics,
		promRegistry: promRegistry,
		sessions:     make(map[string]*Session),
		shutdown:     make(chan struct{}),
		faults:       make(chan error, 1),
		startTime:    time.Now(),
	}
	s.upgrader = s.newUpgrader()
	s.handler = s.routes()
	return s
}

// Start binds the listener and starts serving. Port 0 picks a free port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server error: %v", err)
			s.reportFault(fmt.Errorf("http server: %w", err))
		}
	}()
	log.Printf("Chat server listening on %s (WebSocket endpoint /ws)", listener.Addr())

	s.monitor.Start()

	if s.config.RetentionDays > 0 {
		s.bgWG.Add(1)
		go s.retentionCleanupLoop()
	}
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handler returns the HTTP handler, for use with httptest
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry exposes the connection registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Faults delivers unrecoverable errors from connection goroutines. The
// owner is expected to call Stop when one arrives.
func (s *Server) Faults() <-chan error {
	return s.faults
}

func (s *Server) reportFault(err error) {
	select {
	case s.faults <- err:
	default:
		// a fault is already pending
	}
}

// trackSession records a new session unless shutdown has begun
func (s *Server) trackSession(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown.Load() {
		return false
	}
	s.sessions[sess.ID] = sess
	s.wg.Add(1)
	s.metrics.RecordSessionOpened()
	return true
}

// Stop gracefully stops the server. Only the first call does any work.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Server) stop(ctx context.Context) error {
	var errs []error

	s.mu.Lock()
	s.shuttingDown.Store(true)
	close(s.shutdown)
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	// Stop accepting. Upgraded connections are hijacked, so Shutdown does not wait on them.
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	// Registered clients go through the registry, which also empties it.
	// Sessions that never joined are closed directly.
	closed := s.registry.CloseAll(protocol.CloseNormalClosure, protocol.ErrMsgServerShutdown)
	for _, sess := range sessions {
		_ = sess.transport.Close(protocol.CloseNormalClosure, protocol.ErrMsgServerShutdown)
	}
	log.Printf("Closed %d connections (%d joined)", len(sessions), closed)

	s.monitor.Stop()
	s.bgWG.Wait()

	if !waitTimeout(ctx, &s.wg) {
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
		errorLog.Printf("Shutdown deadline passed with connections still active, terminating them")
		s.terminateSessions()

		// A store call in flight is bounded by StoreTimeout
		graceCtx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
		defer cancel()
		if !waitTimeout(graceCtx, &s.wg) {
			errorLog.Printf("Connections still active, leaving the store open")
			return errors.Join(append(errs, ErrStoreBusy)...)
		}
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) terminateSessions() {
	s.mu.Lock()
	remaining := lo.Values(s.sessions)
	s.mu.Unlock()

	for _, sess := range remaining {
		_ = sess.transport.Terminate()
	}
}

// waitTimeout waits for wg until ctx is done and reports whether wg finished
func waitTimeout(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// retentionCleanupLoop periodically deletes messages older than RetentionDays
func (s *Server) retentionCleanupLoop() {
	defer s.bgWG.Done()

	interval := s.config.RetentionInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanupExpiredMessages()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.cleanupExpiredMessages()
		}
	}
}

// cleanupExpiredMessages runs one retention pass
func (s *Server) cleanupExpiredMessages() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	count, err := s.store.Prune(ctx, s.config.RetentionDays)
	if err != nil {
		log.Printf("Error cleaning up expired messages: %v", err)
		return
	}
	if count > 0 {
		log.Printf("Cleaned up %d expired messages", count)
	}
}
