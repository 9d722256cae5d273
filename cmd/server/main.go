package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tiendapos/internal/cache"
	"tiendapos/internal/cart"
	"tiendapos/internal/config"
	"tiendapos/internal/describe"
	"tiendapos/internal/events"
	"tiendapos/internal/httpapi"
	"tiendapos/internal/logger"
	"tiendapos/internal/objectstore"
	"tiendapos/internal/service"
	"tiendapos/internal/store"
	"tiendapos/internal/store/memory"
	pgstore "tiendapos/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("refusing to start", zap.Error(err))
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	rateCache := cache.RateCache(cache.NoopRateCache{})
	var redisCache *cache.RedisRateCache
	if cfg.RedisAddr != "" {
		candidate := cache.NewRedisRateCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := candidate.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop rate cache", zap.Error(err))
			_ = candidate.Close()
		} else {
			redisCache = candidate
			rateCache = candidate
			closers = append(closers, candidate.Close)
			log.Info("rate cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("rate cache: noop")
	}

	publisher, err := openPublisher(cfg, redisCache, log)
	if err != nil {
		log.Warn("event publisher unavailable, events disabled", zap.Error(err))
		publisher = events.Noop{}
	}
	closers = append(closers, publisher.Close)

	images, err := openImages(ctx, cfg, log)
	if err != nil {
		log.Fatal("object storage unavailable", zap.Error(err))
	}

	carts := cart.NewRegistry(cfg.CartIdle())

	var completer describe.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = describe.NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		log.Info("product descriptions: openai", zap.String("model", cfg.OpenAIModel))
	} else {
		log.Warn("OPENAI_API_KEY not set, product description generation disabled")
	}
	svc := service.New(repo, service.Options{
		Cache:             rateCache,
		RateTTL:           cfg.RateCacheTTL(),
		Publisher:         publisher,
		Images:            images,
		Carts:             carts,
		Describer:         describe.New(completer, log.Named("describe")),
		Logger:            log.Named("service"),
		DefaultLocationID: cfg.DefaultLocationID,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.AdminSecret, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         log.Named("http"),
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepCarts(sweepCtx, carts, cfg.CartIdle()/4, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	stopSweep()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// openRepository uses postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	log.Info("repository: postgres")
	return pg, pg.Close, nil
}

func openPublisher(cfg config.Config, redisCache *cache.RedisRateCache, log *zap.Logger) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsRedis:
		if redisCache == nil {
			return nil, errors.New("redis events backend needs a reachable REDIS_ADDR")
		}
		log.Info("events: redis pub/sub", zap.String("channel", cfg.RealtimeChannel))
		return events.NewRedisPublisher(redisCache.Client(), cfg.RealtimeChannel), nil
	case config.EventsKafka:
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.Named("kafka"))
		if err != nil {
			return nil, err
		}
		log.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return publisher, nil
	default:
		log.Info("events: disabled")
		return events.Noop{}, nil
	}
}

func openImages(ctx context.Context, cfg config.Config, log *zap.Logger) (objectstore.Store, error) {
	if cfg.S3Endpoint == "" {
		log.Info("object storage: in-memory")
		return objectstore.NewMemoryStore(""), nil
	}
	s3, err := objectstore.NewS3Store(objectstore.S3Config{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		UseSSL:        cfg.S3UseSSL,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	log.Info("object storage: s3", zap.String("endpoint", cfg.S3Endpoint), zap.String("bucket", cfg.S3Bucket))
	return s3, nil
}

func sweepCarts(ctx context.Context, carts *cart.Registry, every time.Duration, log *zap.Logger) {
	if every < time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := carts.Sweep(); removed > 0 {
				log.Info("swept idle carts", zap.Int("removed", removed))
			}
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminSecret == "" {
		return nil
	}
	if len(cfg.AdminSecret) < 16 {
		return fmt.Errorf("ADMIN_SECRET must be at least 16 characters when set")
	}
	if err := validateSecretStrength(cfg.AdminSecret); err != nil {
		return fmt.Errorf("ADMIN_SECRET is too weak: %w", err)
	}
	return nil
}

// validateSecretStrength rejects secrets that are a single repeated
// character or equal to a known placeholder.
func validateSecretStrength(secret string) error {
	known := map[string]bool{
		"change-me-change-me": true,
		"changemechangeme":    true,
		"admin-secret-admin":  true,
		"0123456789abcdef":    true,
		"secretsecretsecret":  true,
		"passwordpassword":    true,
	}
	if known[secret] {
		return fmt.Errorf("placeholder secret not allowed")
	}

	allSame := true
	for i := 1; i < len(secret); i++ {
		if secret[i] != secret[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}
	return nil
}
