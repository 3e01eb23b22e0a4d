package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"parceltrack.org/internal/audit"
	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/avatar"
	"parceltrack.org/internal/config"
	"parceltrack.org/internal/gql"
	"parceltrack.org/internal/httpapi"
	"parceltrack.org/internal/migrate"
	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/ratelimit"
	"parceltrack.org/internal/store/memory"
	"parceltrack.org/internal/store/sqlstore"
	"parceltrack.org/internal/tracking"
)

var version = "0.1.0"

// store is what every backend provides to the services.
type store interface {
	auth.Store
	tracking.Store
	tracking.Directory
	audit.Sink
	httpapi.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(cfg config.Config) error {
	log := obs.Logger()
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The store is fully migrated before the listener starts.
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	obs.InitBuildInfo(version, cfg.Database.Driver)

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	authSvc := auth.NewService(st, tokens, cfg.Auth.AdminSecret)
	trackSvc := tracking.NewService(st, st, tracking.WithOwnershipChecks(cfg.Features.EnforceOwnership))

	if cfg.Features.SeedDemo {
		if err := trackSvc.SeedSamples(ctx); err != nil {
			return fmt.Errorf("seed sample packages: %w", err)
		}
		log.Info("sample packages seeded")
	}

	schema, err := gql.NewSchema(trackSvc)
	if err != nil {
		return fmt.Errorf("graphql schema: %w", err)
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	deps := httpapi.Deps{
		Auth:       authSvc,
		Tracking:   trackSvc,
		GraphQL:    gql.NewHandler(schema),
		Limiter:    limiter,
		TrustProxy: cfg.RateLimit.TrustProxy,
		DevRoutes:  cfg.Features.DevRoutes,
	}
	if err := wireAvatars(ctx, cfg, &deps); err != nil {
		return err
	}

	recorder := audit.NewRecorder(st)
	defer recorder.Close()
	deps.Analytics = recorder

	api := httpapi.New(httpapi.ReadyProbe{Store: st}, version, deps)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting parceltrack-api",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store, func(), error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Database.Driver), "memory") {
		return memory.New(), func() {}, nil
	}
	dialect, err := migrate.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, nil, err
	}
	st, err := sqlstore.Open(dialect, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := st.Ping(initCtx); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("ping store: %w", err)
	}
	if err := migrate.NewManager(st.DB(), dialect).Up(initCtx); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

func newLimiter(ctx context.Context, cfg config.Config) (ratelimit.Limiter, func(), error) {
	rl := cfg.RateLimit
	if strings.TrimSpace(rl.RedisURL) == "" {
		return ratelimit.NewMemory(rl.Requests, rl.Window), func() {}, nil
	}
	r, err := ratelimit.NewRedisFromURL(ctx, rl.RedisURL, rl.Requests, rl.Window)
	if err != nil {
		return nil, nil, fmt.Errorf("redis rate limiter: %w", err)
	}
	return r, func() { _ = r.Close() }, nil
}

func wireAvatars(ctx context.Context, cfg config.Config, deps *httpapi.Deps) error {
	if cfg.UseMinIO() {
		m := cfg.Avatars.MinIO
		ms, err := avatar.NewMinIOStore(avatar.MinIOConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
			PublicURL: m.PublicURL,
		})
		if err != nil {
			return err
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return err
		}
		deps.Avatars = ms
		return nil
	}
	disk, err := avatar.NewDiskStore(cfg.Avatars.Dir)
	if err != nil {
		return err
	}
	deps.Avatars = disk
	deps.Uploads = disk.Handler()
	return nil
}
