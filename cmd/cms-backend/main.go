package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/collections"
	"github.com/alris/cms-backend/pkg/config"
	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/gotrue"
	"github.com/alris/cms-backend/pkg/metrics"
	"github.com/alris/cms-backend/pkg/requestlogger"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core"
	"github.com/alris/cms-backend/pkg/service/core/console"
	"github.com/alris/cms-backend/pkg/service/core/handlers"
	"github.com/alris/cms-backend/pkg/service/core/routes"
	"github.com/alris/cms-backend/pkg/service/core/storage"
	"github.com/alris/cms-backend/pkg/service/core/transport"
	sessionsyncer "github.com/alris/cms-backend/pkg/syncers/sessions"
	viewsyncer "github.com/alris/cms-backend/pkg/syncers/views"
	"github.com/alris/cms-backend/pkg/table"
)

var (
	configFilePath = flag.String("config", "config.yaml", "path to config file")
	printRoutes    = flag.Bool("print-routes", false, "print the registered routes and exit")
)

const (
	ViewReapFrequency       = 1 * time.Minute
	SessionCleanupFrequency = 5 * time.Minute
	ShutdownTimeout         = 5 * time.Second
)

func main() {
	flag.Parse()

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileParts, err := config.ProcessConfigPath(*configFilePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("processing config path")
	}

	cfg, err := config.NewFileSystemLoader().Load(fileParts.FileName, fileParts.Path, "CMS", config.NewDefaultEnvBinder())
	if err != nil {
		zlog.Fatal().Err(err).Msg("loading config")
	}

	// Missing managed-service settings are replaced by placeholders so the
	// console can still start and show its pages.
	for _, problem := range cfg.ApplyFallbacks() {
		zlog.Warn().Err(problem).Msg("incomplete configuration")
	}

	err = cfg.Validate()
	if err != nil {
		zlog.Fatal().Err(err).Msg("validating config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		zlog.Fatal().Err(err).Msg("parsing log level")
	}
	zlog = zlog.Level(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	httpClient := &http.Client{
		Timeout: cfg.Backend.Timeout(),
	}

	backend, err := collections.Open(ctx, cfg.Backend, zlog.With().Str("subsystem", "collections").Logger(),
		collections.WithHTTPClient(httpClient),
		collections.WithTokenFunc(auth.AccessToken),
	)
	if err != nil {
		zlog.Fatal().Err(err).Msg("opening collection backend")
	}
	defer backend.Close()

	sessionDialect := database.Dialect(cfg.Sessions.Driver)

	sessionDB, err := database.Open(ctx, sessionDialect, cfg.Sessions.DSN, database.Options{
		MaxOpenConns: cfg.Sessions.MaxOpenConnections,
		MaxIdleConns: cfg.Sessions.MaxIdleConnections,
	}, zlog.With().Str("subsystem", "sessions").Logger())
	if err != nil {
		zlog.Fatal().Err(err).Msg("opening session database")
	}
	defer sessionDB.Close()

	err = database.Migrate(ctx, sessionDB, sessionDialect, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("migrating session database")
	}

	stores := storage.NewStores(backend, sessionDB, sessionDialect)

	promReg := prometheus.NewRegistry()
	m := metrics.New()

	err = m.Register(promReg, sessionDB, "sessions")
	if err != nil {
		zlog.Fatal().Err(err).Msg("registering metrics")
	}

	hub := auth.NewHub()

	identity := gotrue.New(cfg.Auth.URL, cfg.Auth.APIKey, httpClient)

	collectionService := core.NewCollectionService(
		stores.CollectionStorage,
		cfg.Console.Policy,
		zlog.With().Str("subsystem", "collections").Logger(),
		core.WithMutationObserver(m),
	)

	authService := core.NewAuthService(
		identity,
		stores.SessionStorage,
		hub,
		time.Duration(cfg.Auth.SessionTTLSeconds)*time.Second,
		cfg.Auth.ResetRedirectURL,
		zlog.With().Str("subsystem", "auth").Logger(),
	)

	views := core.NewViews(
		collectionService,
		collectionService,
		cfg.Console.Policy,
		cfg.Console.ViewTTL(),
		zlog.With().Str("subsystem", "views").Logger(),
		core.WithViewCounter(m),
		core.WithTableOptions(
			table.WithPageSize(cfg.Console.DefaultPageSize),
			table.WithDefaultSort(cfg.Console.DefaultSort.Field, cfg.Console.DefaultSort.Ascending),
			table.WithDebounce(cfg.Console.SearchDebounce()),
			table.WithObserver(m),
		),
	)
	defer views.Shutdown()

	unsubscribeViews := hub.Subscribe(views.HandleSessionEvent)
	defer unsubscribeViews()

	unsubscribeMetrics := hub.Subscribe(func(event service.SessionEvent) {
		m.SessionEvent(string(event.Type))
	})
	defer unsubscribeMetrics()

	services := core.NewServices(collectionService, authService, views)
	cookies := auth.NewCookies(cfg.Cookies)

	defaults := handlers.ListDefaults{
		PageSize:      cfg.Console.DefaultPageSize,
		SortField:     cfg.Console.DefaultSort.Field,
		SortAscending: cfg.Console.DefaultSort.Ascending,
	}

	h := handlers.NewHandlers(services, cookies, defaults)

	pages, err := console.New(collectionService, authService, cookies, cfg.Console, zlog.With().Str("subsystem", "console").Logger())
	if err != nil {
		zlog.Fatal().Err(err).Msg("parsing console templates")
	}

	authenticator := auth.NewMiddleware(authService, cfg.Cookies.Session.Name, cfg.Auth.JWTSecret, clock.RealClock{}, zlog.With().Str("subsystem", "auth").Logger())
	apiUser := auth.RequireAPIUser(zlog)
	observeErrors := transport.WithErrorObserver(m)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestlogger.Middleware(zlog, "/internal/health", "/internal/metrics"))
	router.Use(middleware.Recoverer)
	router.Use(authenticator.Handler)

	routes.Add(router, cfg.Server.AllowedOrigins,
		routes.NewCollectionRoutes(routes.NewCollectionEndpoints(zlog, h.CollectionHandler, observeErrors), apiUser),
		routes.NewViewRoutes(routes.NewViewEndpoints(zlog, h.ViewHandler, observeErrors), apiUser),
		routes.NewAuthRoutes(routes.NewAuthEndpoints(zlog, h.AuthHandler, observeErrors), apiUser),
		routes.NewMetricsRoutes(routes.NewMetricsEndpoints(promReg, sessionDB)),
		routes.NewConsoleRoutes(routes.NewConsoleEndpoints(pages), auth.RequireUser, auth.RequireAnonymous),
	)

	if *printRoutes {
		err = routes.Print(router, os.Stdout)
		if err != nil {
			zlog.Fatal().Err(err).Msg("printing routes")
		}

		return
	}

	cleanupFrequency := SessionCleanupFrequency
	if cfg.Sessions.CleanupIntervalSeconds > 0 {
		cleanupFrequency = time.Duration(cfg.Sessions.CleanupIntervalSeconds) * time.Second
	}

	go sessionsyncer.New(stores.SessionStorage, clock.RealClock{}, zlog.With().Str("subsystem", "session_cleanup").Logger()).Run(ctx, cleanupFrequency)
	go viewsyncer.New(views, clock.RealClock{}, zlog.With().Str("subsystem", "view_reaper").Logger()).Run(ctx, ViewReapFrequency)

	server := http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Address, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info().Str("address", server.Addr).Str("backend", backend.Kind).Msg("listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("serving http")
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("shutdown error")
	}
}
