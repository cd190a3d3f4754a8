package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oneops/oneops/internal/app/migrate"
	"github.com/oneops/oneops/internal/archive"
	"github.com/oneops/oneops/internal/cloud/aws"
	"github.com/oneops/oneops/internal/docker"
	httpx "github.com/oneops/oneops/internal/http"
	"github.com/oneops/oneops/internal/image"
	"github.com/oneops/oneops/internal/provision"
	"github.com/oneops/oneops/internal/repository"
	"github.com/oneops/oneops/internal/repository/postgres"
	"github.com/oneops/oneops/internal/repository/sqlite"
	"github.com/oneops/oneops/internal/service/auth"
	"github.com/oneops/oneops/internal/service/cloud"
	"github.com/oneops/oneops/internal/service/deploy"
	"github.com/oneops/oneops/internal/service/events"
	"github.com/oneops/oneops/internal/sigv4"
	"github.com/oneops/oneops/internal/source"
	"github.com/oneops/oneops/internal/workspace"
	"github.com/oneops/oneops/internal/ws"
	"github.com/oneops/oneops/pkg/config"
	"github.com/oneops/oneops/pkg/logger"
)

const workspaceMaxAge = 24 * time.Hour

func main() {
	issueFor := flag.String("issue-token", "", "print a bearer token for the given user id and exit")
	issueEmail := flag.String("email", "", "email claim for -issue-token")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	authSvc := auth.New(cfg.JWTSecret, cfg.AccessTokenTTL)
	if id := strings.TrimSpace(*issueFor); id != "" {
		token, err := authSvc.Issue(id, *issueEmail)
		if err != nil {
			log.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open database", "error", err, "driver", cfg.DatabaseDriver)
		os.Exit(1)
	}
	defer store.Close()

	var engine image.Engine
	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Warn("docker unavailable; images will not be built", "error", err)
	} else {
		defer dockerClient.Close()
		engine = dockerClient
		if info, err := dockerClient.Engine(ctx); err != nil {
			log.Warn("docker daemon not reachable", "error", err)
		} else if err := info.Supports(docker.DefaultPlatform); err != nil {
			log.Warn("docker engine cannot build deployment images; publishing is degraded", "error", err, "host", info.Host)
			engine = nil
		} else {
			log.Info("docker engine ready", "host", info.Host, "version", info.Version, "api", info.APIVersion, "platform", info.OS+"/"+info.Arch)
		}
	}
	publisher := image.NewPublisher(engine, image.Credentials{
		Username: cfg.RegistryUser,
		Token:    cfg.RegistryToken,
		Server:   cfg.RegistryServer,
	}, log)

	workspaces, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err, "root", cfg.WorkspaceRoot)
		os.Exit(1)
	}
	if n, err := workspaces.Sweep(workspaceMaxAge); err != nil {
		log.Warn("workspace sweep failed", "error", err)
	} else if n > 0 {
		log.Info("removed stale workspaces", "count", n)
	}

	creds := sigv4.Credentials{
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		SessionToken:    cfg.AWSSessionToken,
	}
	if err := sigv4.ValidateCredentials(creds); err != nil {
		log.Warn("aws credentials are malformed; every deployment will fail before download", "error", err)
	}
	var awsOpts []aws.Option
	if endpoint := strings.TrimSpace(cfg.AWSEndpointURL); endpoint != "" {
		awsOpts = append(awsOpts, aws.WithEndpoint(endpoint))
	}
	sequencer := provision.NewSequencer(provision.AWSClouds(creds, awsOpts...), provision.Config{
		HealthWaitTimeout: cfg.HealthWaitTimeout,
	}, log)

	hub := ws.NewHub(ctx)
	eventSvc := events.New(store, hub, log)

	fetcher := source.NewFetcher(log, source.WithMaxBytes(cfg.ArchiveMaxBytes))
	deploySvc := deploy.New(deploy.Dependencies{
		Auth:        authSvc,
		Fetcher:     fetcher,
		Extractor:   archive.NewExtractor(log),
		Publisher:   publisher,
		Provisioner: sequencer,
		Projects:    store,
		Events:      eventSvc,
		Workspaces:  workspaces,
		Observer: deploy.Observers{
			deploy.LogObserver{Logger: log},
			deploy.NewMetricsObserver(prometheus.DefaultRegisterer),
		},
		Logger: log,
	}, cfg.AWSDefaultRegion)

	dispatcher := source.NewDispatcher(cfg.GitHubDispatchToken, "", nil, log)
	defer dispatcher.Close()

	limiter := httpx.NewLocalRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:          log,
		Auth:            authSvc,
		Deploy:          deploySvc,
		Projects:        store,
		Events:          eventSvc,
		Cloud:           cloud.New(creds, cfg.AWSDefaultRegion, log, awsOpts...),
		Dispatcher:      dispatcher,
		Limiter:         limiter,
		DBHealth:        store.Ping,
		DeployRateLimit: cfg.DeployRateLimit,
		AllowedOrigin:   cfg.CORSAllowedOrigin,
	})
	defer router.Close()

	// no WriteTimeout: /deploy holds the connection for the whole pipeline
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openStore connects the configured database and applies migrations.
func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, error) {
	switch cfg.DatabaseDriver {
	case migrate.DriverPostgres:
		runner, err := migrate.Open(migrate.DriverPostgres, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		defer runner.Close()
		if err := runner.Ensure(ctx); err != nil {
			return nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil
	case migrate.DriverSQLite:
		repo, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		runner, err := migrate.New(repo.DB(), migrate.DriverSQLite, log)
		if err != nil {
			repo.Close()
			return nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DatabaseDriver)
	}
}
