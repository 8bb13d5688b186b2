package bundled

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"pkt.systems/bundled/internal/bundle"
	"pkt.systems/bundled/internal/clock"
	"pkt.systems/bundled/internal/core"
	"pkt.systems/bundled/internal/httpapi"
	"pkt.systems/bundled/internal/storage"
	loggingstore "pkt.systems/bundled/internal/storage/logging"
	"pkt.systems/bundled/internal/svcfields"
	"pkt.systems/bundled/internal/version"
	"pkt.systems/pslog"
)

// Server wraps the HTTP server, resource store, and bundle orchestrator.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	store        storage.Store
	orchestrator *bundle.Orchestrator
	handler      *httpapi.Handler
	httpSrv      *http.Server
	listener     net.Listener
	socketPath   string
	clock        clock.Clock
	telemetry    *telemetryBundle

	mu           sync.Mutex
	shutdown     bool
	lastServeErr error
	readyOnce    sync.Once
	readyCh      chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger pslog.Logger
	Store  storage.Store
	Clock  clock.Clock
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithStore injects a pre-built store (useful for tests).
func WithStore(s storage.Store) Option {
	return func(o *options) {
		o.Store = s
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// NewServer constructs a bundled server according to cfg.
// Example:
//
//	cfg := bundled.Config{Store: "mem://", Listen: ":9451"}
//	srv, err := bundled.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	telemetry, err := setupTelemetry(context.Background(),
		cfg.MetricsListen, cfg.PprofListen,
		svcfields.WithSubsystem(logger, "telemetry"))
	if err != nil {
		return nil, err
	}
	shutdownTelemetry := func() {
		if telemetry == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = telemetry.Shutdown(ctx)
		cancel()
	}

	store := o.Store
	storeSummary := cfg.Store
	ownedStore := false
	if store == nil {
		store, storeSummary, err = openStore(cfg)
		if err != nil {
			shutdownTelemetry()
			return nil, err
		}
		ownedStore = true
	}
	store = loggingstore.Wrap(store, svcfields.WithSubsystem(logger, "storage"), "storage")

	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}

	svc := core.New(core.Config{
		Store:  store,
		Logger: svcfields.WithSubsystem(logger, "core"),
		Clock:  serverClock,
	})
	orchestrator, err := bundle.New(bundle.Config{
		HandleFactory: storage.HandleFactoryFor(store),
		Logger:        svcfields.WithSubsystem(logger, "bundle"),
		Enabled:       !cfg.DisableBundles,
	})
	if err != nil {
		if ownedStore {
			_ = store.Close()
		}
		shutdownTelemetry()
		return nil, err
	}

	srv := &Server{
		cfg:          cfg,
		logger:       svcfields.WithSubsystem(logger, "server"),
		store:        store,
		orchestrator: orchestrator,
		clock:        serverClock,
		telemetry:    telemetry,
		readyCh:      make(chan struct{}),
	}

	handler, err := httpapi.New(httpapi.Config{
		Core:         svc,
		Orchestrator: orchestrator,
		Logger:       logger,
		Clock:        serverClock,
		JSONMaxBytes: cfg.JSONMaxBytes,
		EntryTimeout: cfg.EntryTimeout,
		MaxEntries:   cfg.MaxBundleEntries,
		StoreSummary: storeSummary,
		Version:      version.String(),
		Ready:        srv.Ready,
	})
	if err != nil {
		if ownedStore {
			_ = store.Close()
		}
		shutdownTelemetry()
		return nil, err
	}
	srv.handler = handler

	mux := http.NewServeMux()
	handler.Register(mux)
	srv.httpSrv = &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}
	return srv, nil
}

// Handler returns the underlying HTTP handler so bundled can be mounted
// inside an existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Orchestrator exposes the bundle registry for diagnostics and tests.
func (s *Server) Orchestrator() *bundle.Orchestrator {
	return s.orchestrator
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	if s.cfg.ListenProto == "unix" {
		if err := os.Remove(s.cfg.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale unix socket: %w", err)
		}
	}
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.listener = ln
	if s.cfg.ListenProto == "unix" {
		s.socketPath = s.cfg.Listen
	}
	s.signalReady()
	s.logger.Info("server.listening",
		"network", s.cfg.ListenProto,
		"address", ln.Addr().String(),
		"store", s.cfg.Store,
		"bundles", !s.cfg.DisableBundles,
		"json_max", humanize.IBytes(uint64(s.cfg.JSONMaxBytes)),
	)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error will be nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	if err := s.store.Close(); err != nil {
		return err
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	if s.cfg.ListenProto == "unix" && s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// Ready reports whether the listener is accepting connections.
func (s *Server) Ready() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying
// HTTP server.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a bundled server in a background goroutine and waits
// until it is ready to accept connections. It returns the running server
// alongside a stop function that gracefully shuts it down.
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
