package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/content"
	"github.com/wizesale/storefront/internal/handlers"
	"github.com/wizesale/storefront/internal/platform/config"
	"github.com/wizesale/storefront/internal/platform/events"
	pfirestore "github.com/wizesale/storefront/internal/platform/firestore"
	"github.com/wizesale/storefront/internal/platform/observability"
	"github.com/wizesale/storefront/internal/platform/secrets"
	"github.com/wizesale/storefront/internal/platform/session"
	"github.com/wizesale/storefront/internal/repositories"
	firestoreRepo "github.com/wizesale/storefront/internal/repositories/firestore"
	"github.com/wizesale/storefront/internal/repositories/memory"
	redisRepo "github.com/wizesale/storefront/internal/repositories/redis"
	"github.com/wizesale/storefront/internal/services"
)

const (
	meterName          = "github.com/wizesale/storefront"
	healthProbeKey     = "healthcheck:probe"
	memoryPruneEvery   = 5 * time.Minute
	closeTimeout       = 5 * time.Second
	commerceProbeLabel = "healthcheck"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	lookup, err := config.Lookup()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, lookup)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	eventLogger := observability.NewEventLogger(logger.Named("services"))
	meter := otel.GetMeterProvider().Meter(meterName)

	commerceClient := commerce.NewClient(cfg.Commerce.BaseURL,
		commerce.WithTimeout(cfg.Commerce.Timeout),
		commerce.WithMaxAttempts(cfg.Commerce.MaxAttempts),
	)
	if commerceClient.IsFake() {
		logger.Warn("commerce base url not configured; serving the built-in demo catalog")
	}

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	defer func() {
		cancelBackground()
		backgroundWG.Wait()
	}()

	snapshots, checks, closeSnapshots, err := newSnapshotStore(backgroundCtx, &backgroundWG, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise snapshot store", zap.Error(err), zap.String("backend", cfg.Storage.Backend))
	}
	defer closeSnapshots()

	publisher, stopPublisher, err := newCheckoutPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise checkout event publisher", zap.Error(err))
	}
	defer stopPublisher()

	methods, err := services.LoadPaymentMethodCatalog(cfg.Catalog.PaymentMethodsPath)
	if err != nil {
		logger.Fatal("failed to load payment methods", zap.Error(err))
	}

	evaluator, err := services.NewCouponEvaluator(services.CouponEvaluatorDeps{
		Source: commerceClient,
		Logger: eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon evaluator", zap.Error(err))
	}

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Source: commerceClient,
		Logger: eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	resolver, err := services.NewTenantResolver(services.TenantResolverDeps{
		Directory:         commerceClient,
		CacheTTL:          cfg.Tenant.CacheTTL,
		FallbackSubdomain: cfg.Tenant.FallbackSubdomain,
		Logger:            eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise tenant resolver", zap.Error(err))
	}

	registry, err := services.NewSessionRegistry(services.SessionRegistryDeps{
		Snapshots:     snapshots,
		SnapshotTTL:   cfg.Storage.SnapshotTTL,
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
		Coupons:       evaluator,
		Payments:      commerceClient,
		Methods:       methods,
		Events:        publisher,
		Meter:         meter,
		Logger:        eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise session registry", zap.Error(err))
	}
	backgroundWG.Add(1)
	go func() {
		defer backgroundWG.Done()
		registry.Run(backgroundCtx)
	}()

	sessions, err := session.NewManager(session.Options{
		CookieName:     cfg.Session.CookieName,
		SigningKey:     []byte(cfg.Session.SigningKey),
		Secure:         cfg.Session.Secure,
		StoreCookieTTL: cfg.Session.StoreCookieTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	if !commerceClient.IsFake() {
		checks = append(checks, repositories.DependencyCheck{
			Name: "commerce",
			Check: func(ctx context.Context) error {
				_, err := commerceClient.ResolveStoreID(ctx, commerceProbeLabel)
				if errors.Is(err, commerce.ErrStoreNotFound) {
					return nil
				}
				return err
			},
		})
	}
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfoFromEnv(lookup, cfg, startedAt)),
			handlers.WithHealthRepository(healthRepo),
		)),
		handlers.WithAPIMiddlewares(
			sessions.Middleware,
			handlers.TenantMiddleware(resolver, sessions),
		),
		handlers.WithAPIRoutes(
			handlers.NewStoreHandlers(content.NewRenderer(), methods).Routes,
			handlers.NewCatalogHandlers(catalog).Routes,
			handlers.NewCartHandlers(registry, catalog).Routes,
			handlers.NewFavoritesHandlers(registry, catalog).Routes,
			handlers.NewCheckoutHandlers(registry).Routes,
		),
	)

	srv := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return backgroundCtx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("storage_backend", cfg.Storage.Backend),
			zap.Bool("events_enabled", cfg.Events.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Event streams only end when their context does, so cancel the base
	// context before waiting on in-flight requests.
	cancelBackground()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, lookup func(string) (string, bool)) (*secrets.Fetcher, error) {
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithEnvironment(get("STOREFRONT_SECURITY_ENVIRONMENT")),
		secrets.WithDefaultProject(firstNonEmpty(get("STOREFRONT_SECRETS_PROJECT_ID"), get("GOOGLE_CLOUD_PROJECT"))),
	}
	if path := get("STOREFRONT_SECRETS_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// newSnapshotStore returns the configured snapshot backend together with its
// readiness checks and a close function.
func newSnapshotStore(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, logger *zap.Logger) (repositories.SnapshotStore, []repositories.DependencyCheck, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		client := redisRepo.NewClient(cfg.Redis)
		store := redisRepo.NewSnapshotStore(client, cfg.Redis.KeyPrefix)
		checks := []repositories.DependencyCheck{{Name: "redis", Check: store.Ping}}
		return store, checks, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}, nil

	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, nil, nil, err
		}
		logger.Info("firestore snapshot backend ready",
			zap.String("collection", cfg.Firestore.Collection),
			zap.Bool("emulator", provider.Emulated()),
		)
		store := firestoreRepo.NewSnapshotStore(provider, cfg.Firestore.Collection, time.Now)
		checks := []repositories.DependencyCheck{{Name: "firestore", Check: probeSnapshotStore(store)}}
		return store, checks, func() {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}, nil

	default:
		store := memory.NewSnapshotStore(time.Now)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(memoryPruneEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if removed := store.Prune(); removed > 0 {
						logger.Debug("memory snapshots pruned", zap.Int("count", removed))
					}
				}
			}
		}()
		return store, nil, func() {}, nil
	}
}

func probeSnapshotStore(store repositories.SnapshotStore) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := store.Load(ctx, healthProbeKey)
		if err == nil || repositories.IsNotFound(err) {
			return nil
		}
		return err
	}
}

func newCheckoutPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.CheckoutEventPublisher, func(), error) {
	if !cfg.Events.Enabled() {
		return services.NoopCheckoutPublisher(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := events.NewPubSubCheckoutPublisher(client.Topic(cfg.Events.Topic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}, nil
}

func buildInfoFromEnv(lookup func(string) (string, bool), cfg config.Config, startedAt time.Time) handlers.BuildInfo {
	get := func(keys ...string) string {
		for _, key := range keys {
			if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
		return ""
	}
	return handlers.BuildInfo{
		Version:     get("STOREFRONT_VERSION", "K_REVISION"),
		CommitSHA:   get("STOREFRONT_COMMIT_SHA", "COMMIT_SHA"),
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}
}

func traceProjectID(cfg config.Config) string {
	return firstNonEmpty(cfg.Firestore.ProjectID, cfg.Events.ProjectID)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
