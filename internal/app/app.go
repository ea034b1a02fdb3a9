package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"cardauth/internal/cardapi"
	"cardauth/internal/config"
	apierrors "cardauth/internal/errors"
	"cardauth/internal/i18n"
	"cardauth/internal/infrastructure"
	customMiddleware "cardauth/internal/middleware"
	"cardauth/internal/session"
	"cardauth/internal/signer"
	"cardauth/internal/storage"
	handlers "cardauth/internal/transport/http"
	ws "cardauth/internal/websocket"
)

// Options select the configuration sources for New
type Options struct {
	// ConfigPath is the YAML file to load. Empty searches the default
	// locations.
	ConfigPath string
	// Locale overrides the configured locale when non-empty.
	Locale string
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Messages      *i18n.Translator
	Store         storage.Store
	API           *cardapi.Client
	Sessions      *session.Manager
	WebSocketHub  *ws.Hub
	Errors        *apierrors.ErrorHandler
	Router        *chi.Mux
	Server        *http.Server
}

// New loads the configuration described by opts and builds the application
func New(ctx context.Context, opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.Locale != "" {
		cfg.Locale = opts.Locale
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig wires every component for cfg and restores any stored
// session. Close must be called to release the store and stop heartbeats.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Application, error) {
	paths, err := config.GetPaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = paths.LogFile
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	ctx = infrastructure.EnsureTraceID(ctx)

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("storage_driver", cfg.Storage.Driver))
	paths.LogPathResolution(logger)

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	messages, err := i18n.New(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
		Messages:      messages,
		Errors:        apierrors.NewErrorHandler(logger, false),
	}

	if err := app.initializeServices(ctx); err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices opens storage and builds the card client, the hub and
// the session manager
func (a *Application) initializeServices(ctx context.Context) error {
	store, err := storage.Open(ctx, a.Config.Storage.Driver, a.Paths.StorePath(a.Config.Storage.Driver), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.Store = store
	sessionStore := storage.NewSessionStore(store, nil, a.Logger)

	var api session.API
	status := a.Config.Card.Status()
	if status.Valid {
		apiMetrics, err := cardapi.NewMetrics(a.OTelProviders.Meter)
		if err != nil {
			return fmt.Errorf("failed to create card api metrics: %w", err)
		}
		client, err := cardapi.New(cardapi.Config{
			AppKey:      a.Config.Card.AppKey,
			AppSecret:   a.Config.Card.AppSecret,
			BaseURL:     a.Config.Card.BaseURL,
			MaxAttempts: a.Config.Card.MaxAttempts,
			Timeout:     a.Config.Card.RequestTimeout,
			UserAgent:   a.Config.Card.UserAgent,
		}, cardapi.WithLogger(a.Logger), cardapi.WithMetrics(apiMetrics))
		if err != nil {
			return fmt.Errorf("failed to create card api client: %w", err)
		}
		a.API = client
		api = client
	} else {
		a.Logger.WarnContext(ctx, "card api credentials missing, running unconfigured",
			slog.String("reason", a.Messages.T(status.MessageID)))
	}

	hubMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Config.WebSocket, a.Logger, hubMetrics)

	sessionMetrics, err := session.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create session metrics: %w", err)
	}
	a.Sessions = session.NewManager(session.Deps{
		API:      api,
		Store:    sessionStore,
		Notifier: session.MultiNotifier{session.NewLogNotifier(a.Logger), a.WebSocketHub},
		Messages: a.Messages,
		Logger:   a.Logger,
		Metrics:  sessionMetrics,
	}, session.Options{
		HeartbeatInterval: a.Config.Card.HeartbeatInterval,
	})

	if err := a.Sessions.Init(ctx); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// RequestID → RealIP → OTel → Logger → Recoverer
	r.Use(customMiddleware.RequestID)
	r.Use(middleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}

	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(a.Errors.Recoverer)

	r.NotFound(a.Errors.NotFound)
	r.MethodNotAllowed(a.Errors.MethodNotAllowed)

	// The websocket upgrade needs the raw ResponseWriter, so it stays out of
	// the header-setting group.
	r.Handle(config.WebSocketEndpoint, ws.NewHandler(a.WebSocketHub))

	if a.OTelProviders.MetricsHandler != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.SecurityHeaders)
		a.setupAPIRoutes(r)
	})

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route(config.APIBasePath, func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		var pinger handlers.Pinger
		if a.API != nil {
			pinger = a.API
		}

		healthHandler := handlers.NewHealthHandler(a.Sessions, pinger, a.Config.Card, a.Messages, a.Errors, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/config/status", healthHandler.ConfigStatus)
		r.Get("/ping", healthHandler.Ping)

		loginLimiter := customMiddleware.NewRateLimiter(a.Config.Server.LoginRPS, a.Config.Server.LoginBurst, a.Logger)
		sessionHandler := handlers.NewSessionHandler(a.Sessions, loginLimiter, a.Errors, a.Logger)
		r.Mount("/session", sessionHandler.Routes())
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	writeTimeout := a.Config.HTTPWriteTimeout()
	if writeTimeout != a.Config.Server.WriteTimeout {
		a.Logger.Info("raised server write timeout to cover card api retries",
			slog.Duration("configured", a.Config.Server.WriteTimeout),
			slog.Duration("effective", writeTimeout),
		)
	}
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr,
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run listens on the configured address and serves until ctx is cancelled
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the websocket hub and the HTTP server on ln. When ctx is
// cancelled the server is shut down gracefully, bounded by the configured
// shutdown timeout.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.WebSocketHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "Server starting",
			slog.String("address", ln.Addr().String()),
			slog.Bool("card_api_configured", a.Sessions.Configured()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *Application) shutdownTimeout() time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// SelfTest runs the signature self test and logs the outcome
func (a *Application) SelfTest(ctx context.Context) (signer.SelfTestResult, error) {
	res, err := signer.SelfTest()
	if err != nil {
		a.Logger.ErrorContext(ctx, "signature self test failed",
			slog.String("expected", res.Expected),
			slog.String("got", res.Got))
		return res, err
	}
	a.Logger.InfoContext(ctx, "signature self test passed")
	return res, nil
}

// Close stops heartbeats and releases storage, telemetry and the log file.
// The session itself is kept; use Sessions.Logout to end it.
func (a *Application) Close(ctx context.Context) error {
	var errs []error

	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Logger != nil {
		a.Logger.InfoContext(ctx, "Application stopped")
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("log file close: %w", err))
	}
	return errors.Join(errs...)
}
