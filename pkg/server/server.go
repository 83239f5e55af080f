// Package server is the Server Facade: the HTTP surface that accepts
// WebSocket connections, wires Sessions to the Registry/Broker/
// Scheduler, and exposes health/metrics/debug endpoints. Grounded
// structurally on the teacher's internal/server/server.go (same method
// set: setupHTTPServer, handleWebSocket, handleHealth, waitForShutdown,
// Shutdown), generalized from a single global Hub to the
// Registry/Broker pair and the application hook-capability surface
// SPEC_FULL.md §4 describes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/docsync/docsync/internal/admission"
	"github.com/docsync/docsync/internal/auth"
	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/eventbus"
	"github.com/docsync/docsync/internal/telemetry"
	"github.com/docsync/docsync/pkg/broker"
	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/persistence"
	"github.com/docsync/docsync/pkg/protocol"
	"github.com/docsync/docsync/pkg/registry"
	"github.com/docsync/docsync/pkg/scheduler"
	"github.com/docsync/docsync/pkg/session"
)

// Hooks is the application-supplied capability set SPEC_FULL.md §4
// describes: document lifecycle hooks plus connection-level hooks the
// embedding application can use to observe/react to session events.
type Hooks struct {
	Document document.Hooks

	OnConnect    func(sess *session.Session, r *http.Request)
	OnMessage    func(sess *session.Session, payload []byte)
	OnDisconnect func(sess *session.Session, reason protocol.GoodbyeReason)
}

// Server is the top-level facade wiring every package together.
type Server struct {
	cfg   *config.Config
	hooks Hooks

	registry    *registry.Registry
	broker      *broker.Broker
	store       persistence.Store
	coordinator *persistence.Coordinator
	authHook    auth.Hook

	metrics *telemetry.Metrics
	bus     *eventbus.Bus

	connLimiter *admission.ConnectionLimiter
	docGuard    *admission.DocumentGuard

	log zerolog.Logger

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	runningTicks map[string]context.CancelFunc

	startedAt time.Time
}

// New wires up a Server from its configuration and dependencies. store
// may be persistence.NewMemoryStore when a persistent backend is not
// needed; bus must be a non-nil *eventbus.Bus (use eventbus.Connect("",
// log) to obtain a disabled, no-op instance rather than passing nil).
func New(cfg *config.Config, hooks Hooks, store persistence.Store, authHook auth.Hook, bus *eventbus.Bus, log zerolog.Logger) *Server {
	if authHook == nil {
		authHook = auth.NoopHook{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		hooks:    hooks,
		store:    store,
		authHook: authHook,
		metrics:  telemetry.New(),
		bus:      bus,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,

		runningTicks: make(map[string]context.CancelFunc),
	}

	s.docGuard = admission.NewDocumentGuard(cfg.MaxInflightDocuments)
	s.connLimiter = admission.NewConnectionLimiter(admission.ConnectionLimiterConfig{
		GlobalRate:  cfg.ConnRateLimitPerSecond,
		GlobalBurst: cfg.ConnRateLimitBurst,
		Logger:      log,
	})

	arrayMode := patch.ArrayModeWhole
	if cfg.AllowFastPatch {
		arrayMode = patch.ArrayModeElement
	}

	s.broker = broker.New()
	s.registry = registry.New(registry.Options{
		Hooks:     hooks.Document,
		Store:     store,
		ArrayMode: arrayMode,
	})
	s.coordinator = persistence.NewCoordinator(store, time.Duration(cfg.SaveMinIntervalMs)*time.Millisecond, log)

	s.setupHTTPServer()
	return s
}

func (s *Server) setupHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/debug/stats", s.handleDebugStats)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the coordinator, host sampler, and HTTP server, and blocks
// until a termination signal arrives or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	if s.cfg.AllowSave {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.coordinator.Run(s.ctx, s.registry.ListDocuments)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		telemetry.RunHostSampler(s.ctx, s.metrics, 15*time.Second)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepEvictable(s.ctx, 30*time.Second)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.waitForShutdown(ctx)
	return nil
}

func (s *Server) waitForShutdown(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		s.log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down")
	}
	s.Shutdown()
}

// Shutdown drains every document (final tick + persistence flush),
// stops background loops, and closes the HTTP server within a bounded
// timeout, mirroring the teacher's 30s-timeout Shutdown.
func (s *Server) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.registry.DrainAll()
	s.cancel()
	s.connLimiter.Stop()
	if s.bus != nil {
		s.bus.Close()
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		s.log.Warn().Msg("shutdown timed out")
	}
}
