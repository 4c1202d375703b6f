package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/pulsebroker/internal/accounts"
	"github.com/dropDatabas3/pulsebroker/internal/cache"
	cachememory "github.com/dropDatabas3/pulsebroker/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/pulsebroker/internal/cache/redis"
	"github.com/dropDatabas3/pulsebroker/internal/config"
	"github.com/dropDatabas3/pulsebroker/internal/connect"
	httpserver "github.com/dropDatabas3/pulsebroker/internal/http"
	"github.com/dropDatabas3/pulsebroker/internal/http/handlers"
	"github.com/dropDatabas3/pulsebroker/internal/insights"
	"github.com/dropDatabas3/pulsebroker/internal/observability/logger"
	"github.com/dropDatabas3/pulsebroker/internal/observability/metrics"
	"github.com/dropDatabas3/pulsebroker/internal/provider/factory"
	"github.com/dropDatabas3/pulsebroker/internal/rate"
	"github.com/dropDatabas3/pulsebroker/internal/security/secretbox"
	"github.com/dropDatabas3/pulsebroker/internal/statetoken"
	"github.com/dropDatabas3/pulsebroker/internal/store"
	"github.com/dropDatabas3/pulsebroker/internal/store/sealed"
	"github.com/dropDatabas3/pulsebroker/internal/tokens"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:          "pulsebroker",
		Short:        "Integration token lifecycle and metrics normalization broker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to YAML config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       os.Getenv("LOG_LEVEL"),
		ServiceName: "pulsebroker",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("service")

	metrics.Register(nil)

	if cfg.Auth.StateSecret == "" || cfg.Auth.APISecret == "" {
		return fmt.Errorf("state_secret and api_secret must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	box, err := secretbox.FromEnv()
	if err != nil {
		return err
	}
	if box == nil {
		log.Warn("SECRETBOX_MASTER_KEY not set, tokens stored in plaintext")
	}
	repo = sealed.Wrap(repo, box)

	states, err := statetoken.New([]byte(cfg.Auth.StateSecret))
	if err != nil {
		return err
	}

	var (
		insightsCache cache.Cache
		limiter       rate.Limiter
	)
	switch cfg.Cache.Kind {
	case "redis":
		client := rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
		insightsCache = cacheredis.New(client, cfg.Cache.Redis.Prefix)
		if cfg.Rate.Enabled {
			limiter = rate.NewRedisLimiter(client, "", cfg.Rate.MaxRequests, cfg.RateWindow())
		}
	default:
		insightsCache = cachememory.New(cfg.InsightsTTL())
		if cfg.Rate.Enabled {
			limiter = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, cfg.RateWindow())
		}
	}

	providers := factory.Build(cfg)
	tokenManager := tokens.NewManager(repo, providers)
	connectSvc := connect.NewService(providers, repo, states, cfg.StateTTL())
	accountSvc := accounts.NewService(repo)
	pipeline := insights.NewPipeline(repo, tokenManager, providers, insightsCache, cfg.InsightsTTL(), cfg.Demo.TokenPrefix)

	router := httpserver.NewRouter(cfg.Auth.APISecret, limiter,
		&handlers.ConnectHandler{
			Svc:        connectSvc,
			SuccessURL: cfg.Server.ConnectSuccessURL,
			ErrorURL:   cfg.Server.ConnectErrorURL,
		},
		&handlers.AccountsHandler{Svc: accountSvc, Pipeline: pipeline},
	)

	srv := httpserver.NewServer(cfg.Server.Addr, router)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Info("broker listening", logger.String("addr", cfg.Server.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
