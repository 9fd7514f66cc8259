// Command loadbalance runs the drone-frame dispatch gateway: it classifies
// incoming packets, routes key packets to an idle upstream and data packets
// to the upstream already holding the drone's key, and serves the HTTP
// front-end that callers authenticate against.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cainiao1230/LoadBalance/internal/affinity"
	"github.com/cainiao1230/LoadBalance/internal/api"
	"github.com/cainiao1230/LoadBalance/internal/auth"
	"github.com/cainiao1230/LoadBalance/internal/config"
	"github.com/cainiao1230/LoadBalance/internal/dispatcher"
	"github.com/cainiao1230/LoadBalance/internal/logging"
	"github.com/cainiao1230/LoadBalance/internal/processing"
	"github.com/cainiao1230/LoadBalance/internal/queue"
	"github.com/cainiao1230/LoadBalance/internal/ratelimiter"
	"github.com/cainiao1230/LoadBalance/internal/registry"
	"github.com/cainiao1230/LoadBalance/internal/upstreamclient"
	"github.com/cainiao1230/LoadBalance/internal/userstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	host       string
	port       int
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.host, "host", "", "Override HTTP bind host")
	flag.IntVar(&f.port, "port", 0, "Override HTTP bind port")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	configPath := config.ResolveConfigPath(flags.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("loadbalance gateway starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"upstreams", len(cfg.Upstream.Fleet),
	)

	users, err := userstore.Open(cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer users.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	descriptors := make([]registry.Descriptor, len(cfg.Upstream.Fleet))
	for i, d := range cfg.Upstream.Fleet {
		descriptors[i] = registry.Descriptor{
			Index:    i,
			BaseURL:  d.URL,
			Username: d.Username,
			Password: d.Password,
		}
	}
	reg := registry.New(descriptors)
	aff := affinity.New(affinity.DefaultCapacity)
	proc := processing.New(processing.DefaultCapacity, time.Duration(cfg.Upstream.BusyTimeoutSecs)*time.Second)
	limiter := ratelimiter.New(cfg.Upstream.RatePerSecond)
	upstream := upstreamclient.New(reg)
	queueWaitTimeout := time.Duration(cfg.Queue.WaitTimeoutSecs) * time.Second
	q := queue.New(rdb, cfg.Queue.MaxSize, queueWaitTimeout)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, rdb)

	workerCount := len(descriptors)
	if workerCount < 2 {
		workerCount = 2
	}
	if cfg.Server.Workers.Mode == config.WorkersFixed {
		workerCount = cfg.Server.Workers.Value
	}

	gateway := dispatcher.New(dispatcher.Deps{
		Registry:       reg,
		Affinity:       aff,
		Processing:     proc,
		Limiter:        limiter,
		Upstream:       upstream,
		Queue:          q,
		Users:          users,
		Auth:           issuer,
		AESKey:         cfg.Auth.AESKey,
		AESIV:          cfg.Auth.AESIV,
		MaxConcurrency: cfg.Upstream.MaxConcurrency,
		WorkerCount:    workerCount,
		Logger:         logger,
	}, dispatcher.Timing{
		BusyTimeout:         time.Duration(cfg.Upstream.BusyTimeoutSecs) * time.Second,
		IdlePollInterval:    time.Duration(cfg.Upstream.IdlePollSecs) * time.Second,
		IdlePollMaxAttempts: cfg.Upstream.IdlePollMaxAttempts,
		QueueWaitTimeout:    queueWaitTimeout,
		QueuePollInterval:   time.Duration(cfg.Queue.PollIntervalMillis) * time.Millisecond,
		DequeueIdleWait:     time.Duration(cfg.Queue.DequeueIdleWaitMillis) * time.Millisecond,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	apiSrv := api.New(cfg, gateway, logger)
	logger.Info("http front-end starting", "addr", apiSrv.Addr())

	go func() {
		serveErr := apiSrv.ListenAndServe()
		if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
			return
		}
		logger.Error("http server error", "err", serveErr)
		cancel()
	}()

	gateway.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownGraceSecs)*time.Second,
	)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("loadbalance gateway stopped")

	return nil
}
