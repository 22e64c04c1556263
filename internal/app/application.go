// Package app wires the perception streaming server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"perceptor/internal/alert"
	"perceptor/internal/api"
	"perceptor/internal/classifier"
	"perceptor/internal/config"
	"perceptor/internal/dispatch"
	"perceptor/internal/framestore"
	"perceptor/internal/metrics"
	"perceptor/internal/session"
	"perceptor/internal/websocket"
	dbconfig "perceptor/pkg/database"
	"perceptor/pkg/interfaces"
)

// limiterSweepInterval is how often idle frame budgets are dropped
const limiterSweepInterval = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	store      interfaces.Store
	classifier *classifier.Client
	metrics    *metrics.Metrics
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener

	stopSweep chan struct{}
	wg        sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Frames → Store → Alerts → Registry → Classifier → Dispatcher → WebSocket → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Alert frame storage and the persistent store (foundation layer)
	frames, err := framestore.New(cfg.Engine.AlertDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize frame store: %w", err)
	}
	if cfg.Database.Driver == dbconfig.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := OpenStore(ctx, cfg.Database, frames, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alert store: %w", err)
	}
	logger.Info("Alert store ready", "driver", cfg.Database.Driver)

	// STEP 2: Alert session manager and the session registry
	alerts, err := alert.NewManager(store, frames.Root(), logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize alert manager: %w", err)
	}
	registry, err := session.NewRegistry(alerts, cfg.Engine.ConsensusWindow, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize session registry: %w", err)
	}

	// STEP 3: Remote model service; the connection is made lazily
	client, err := classifier.New(classifier.Config{
		Address:        cfg.Classifier.Address,
		Timeout:        cfg.Classifier.Timeout,
		MatchThreshold: cfg.Classifier.MatchThreshold,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize classifier client: %w", err)
	}

	// STEP 4: Frame pipeline and transport
	m := metrics.New()
	dispatcher, err := dispatch.NewDispatcher(registry, alerts, client, client, m, dispatch.Config{
		ClassifyTimeout: cfg.Classifier.Timeout,
		FrameRateLimit:  cfg.Engine.FrameRateLimit,
	}, logger)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	wsHandler, err := websocket.NewHandler(registry, dispatcher, m, websocket.Config{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		BufferSize:      cfg.WebSocket.BufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, logger)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize websocket handler: %w", err)
	}

	// STEP 5: REST surface
	apiServer := api.NewServer(registry, store, client, m, logger)

	// STEP 6: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.With("component", "app"),
		store:      store,
		classifier: client,
		metrics:    m,
		registry:   registry,
		dispatcher: dispatcher,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
		stopSweep:  make(chan struct{}),
	}, nil
}

// Start begins serving
// The listener is bound synchronously so address errors surface here
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	// STEP 1: Background maintenance
	app.wg.Add(1)
	go app.sweepLoop()

	// STEP 2: Start HTTP server (accepts connections)
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", "error", err)
		}
	}()

	app.logger.Info("Perceptor started", "addr", ln.Addr().String())
	return nil
}

func (app *Application) sweepLoop() {
	defer app.wg.Done()
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			app.dispatcher.CleanupLimiter()
		case <-app.stopSweep:
			return
		}
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → streams → classifier → store
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Shutting down Perceptor")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", "error", err)
	}
	close(app.stopSweep)

	// STEP 2: Close live streams; hijacked WebSocket connections are not
	// closed by Shutdown
	if err := app.wsHandler.CloseAll(ctx); err != nil {
		app.logger.Warn("Stream connections did not finish cleanup", "error", err)
	}
	app.registry.CloseAll(ctx)
	app.wg.Wait()

	// STEP 3: Release remote and persistent resources
	if err := app.classifier.Close(); err != nil {
		app.logger.Warn("Classifier shutdown error", "error", err)
	}
	if err := app.store.Close(); err != nil {
		app.logger.Warn("Store shutdown error", "error", err)
	}

	app.logger.Info("Perceptor shutdown complete")
	return nil
}

// Addr returns the bound address once started, otherwise the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
