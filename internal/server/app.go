// Package server wires the tokenward components together and runs the HTTP
// server. It picks the storage backend from the configuration, runs schema
// migrations where needed and shuts everything down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/tokenward/adapters/credentials"
	"github.com/layer-3/tokenward/adapters/events"
	"github.com/layer-3/tokenward/adapters/store"
	"github.com/layer-3/tokenward/adapters/tokenizer"
	"github.com/layer-3/tokenward/config"
	"github.com/layer-3/tokenward/internal/logging"
	"github.com/layer-3/tokenward/internal/metrics"
	"github.com/layer-3/tokenward/ports"
	"github.com/layer-3/tokenward/service"
	httptransport "github.com/layer-3/tokenward/transport/http"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	service *service.AuthService
	router  *gin.Engine

	// Run in reverse order on Close
	closers []func(context.Context) error
}

// NewApp connects to the configured backend and builds the auth service
// and its router. On error everything opened so far is closed again.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *App, err error) {
	app := &App{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	app.closers = append(app.closers, provider.Shutdown)

	recorder, err := metrics.New(provider.Meter(metrics.ScopeName))
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		app.closers = append(app.closers, func(context.Context) error { return redisClient.Close() })

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
	}

	sessions, blacklist, err := app.openStores(ctx, redisClient)
	if err != nil {
		return nil, err
	}

	eventPub, err := app.newPublisher(redisClient)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.NewJWTTokenizer(cfg.Algorithm,
		tokenizer.WithIssuer(cfg.Issuer),
		tokenizer.WithLeeway(cfg.ClockSkewLeeway),
	)
	if err != nil {
		return nil, err
	}

	dir := credentials.NewDirectory()
	if cfg.AccountsFile != "" {
		dir, err = credentials.LoadDirectoryFile(cfg.AccountsFile)
		if err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
	} else {
		logger.Warn(ctx, "no accounts file configured, every password login will be denied")
	}
	verifier, err := credentials.NewPasswordVerifier(dir, credentials.DefaultCost)
	if err != nil {
		return nil, err
	}

	app.service, err = service.NewAuthService(tok, sessions, blacklist, eventPub, cfg.Auth(),
		service.WithCredentialVerifier(verifier),
		service.WithLogger(logger),
		service.WithMetrics(recorder),
	)
	if err != nil {
		return nil, err
	}

	app.router = httptransport.SetupRouter(app.service, httptransport.RouterOptions{
		Cookies: httptransport.CookieOptions{
			Secure:   cfg.SecureCookies,
			Domain:   cfg.CookieDomain,
			SameSite: httptransport.ParseSameSite(cfg.SameSite),
		},
		Logger:  logger,
		Metrics: metrics.NewPrometheusExporter(reader).Handler(),
	})

	logger.Info(ctx, "app initialized", "backend", cfg.Backend, "accounts", dir.Len())
	return app, nil
}

func (app *App) openStores(ctx context.Context, redisClient *redis.Client) (ports.SessionStore, ports.BlacklistStore, error) {
	cfg := app.config

	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemorySessionStore(nil), store.NewMemoryBlacklistStore(nil), nil

	case config.BackendRedis:
		return store.NewRedisSessionStore(redisClient, cfg.RedisPrefix, nil),
			store.NewRedisBlacklistStore(redisClient, cfg.RedisPrefix, nil), nil

	case config.BackendPostgres:
		db, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return db.Close() })

		if err := store.RunMigrations(ctx, db); err != nil {
			return nil, nil, err
		}
		return store.NewPostgresSessionStore(db, nil), store.NewPostgresBlacklistStore(db, nil), nil

	case config.BackendMongo:
		client, err := store.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, client.Disconnect)

		db := client.Database(cfg.MongoDatabase)
		sessions := store.NewMongoSessionStore(db, nil)
		blacklist := store.NewMongoBlacklistStore(db, nil)
		if err := sessions.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		if err := blacklist.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		return sessions, blacklist, nil
	}

	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// newPublisher streams events to Redis when it is configured
func (app *App) newPublisher(redisClient *redis.Client) (ports.EventPublisher, error) {
	if redisClient == nil {
		return events.NopPublisher{}, nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error { return publisher.Close() })

	return events.NewWatermillPublisher(publisher), nil
}

// Handler exposes the router
func (app *App) Handler() http.Handler {
	return app.router
}

// Service exposes the auth service
func (app *App) Service() *service.AuthService {
	return app.service
}

// Run serves HTTP and the janitor until ctx is done or SIGINT/SIGTERM
// arrives, then shuts down and closes every backend connection.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.ListenAddr)

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		app.service.RunJanitor(ctx, app.config.JanitorInterval)
	}()

	srv := &http.Server{
		Addr:              app.config.ListenAddr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	app.logger.Info(shutdownCtx, "shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	<-janitorDone

	return errors.Join(runErr, app.Close(shutdownCtx))
}

// Close releases backend connections in reverse order of opening
func (app *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
