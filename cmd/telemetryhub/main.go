// Package main implements the entry point for telemetryhub, the
// real-time telemetry service: datapoint batches arrive over REST and
// WebSocket, are validated and persisted, then fan out to threshold
// rules, signed webhooks, and live dashboard streams.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/telemetryhub/activectx"
	"github.com/c360/telemetryhub/broadcast"
	"github.com/c360/telemetryhub/config"
	gatewayhttp "github.com/c360/telemetryhub/gateway/http"
	"github.com/c360/telemetryhub/health"
	"github.com/c360/telemetryhub/metric"
	"github.com/c360/telemetryhub/natsclient"
	"github.com/c360/telemetryhub/pipeline"
	"github.com/c360/telemetryhub/rules"
	"github.com/c360/telemetryhub/store"
	"github.com/c360/telemetryhub/webhook"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "telemetryhub"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()

	datapointStore, natsClient, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close(context.Background())
	}

	resolver, err := setupResolver(ctx, cfg, natsClient)
	if err != nil {
		return err
	}
	defer func() { _ = resolver.Close() }()

	dispatcher, deliveryLog, err := setupWebhooks(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deliveryLog.Close() }()
	defer func() { _ = dispatcher.Stop(cliCfg.ShutdownTimeout) }()

	hub := broadcast.NewHub(broadcast.Config{
		CoalesceWindow: cfg.Broadcast.CoalesceWindow(),
		PingInterval:   cfg.Broadcast.PingInterval(),
		QueueSize:      cfg.Broadcast.QueueSize,
	}, broadcast.WithLogger(logger), broadcast.WithMetrics(registry))
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start broadcast hub: %w", err)
	}
	defer func() { _ = hub.Stop(cliCfg.ShutdownTimeout) }()

	engine, err := setupRules(cfg, registry, hub, dispatcher, logger)
	if err != nil {
		return err
	}

	p := pipeline.New(datapointStore, resolver,
		pipeline.WithEvaluator(engine),
		pipeline.WithDispatcher(dispatcher),
		pipeline.WithBroadcaster(hub),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(registry),
	)

	verifier := gatewayhttp.NewTokenVerifier(cfg.Server.JWTSecret, cfg.Server.RevokedTokenIDs, cfg.Server.UserIDs)
	server := gatewayhttp.New(gatewayhttp.Config{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}, p, hub, verifier, registry, logger,
		gatewayhttp.WithHealth(setupHealth(natsClient, hub)))

	slog.Info("telemetryhub started",
		"addr", cfg.Server.Addr(),
		"storage_mode", cfg.Storage.Mode,
		"rules", len(cfg.Rules.Definitions),
		"subscriptions", len(cfg.Webhook.Subscriptions))

	return serveUntilSignal(ctx, server, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting telemetryhub",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// setupStorage creates the datapoint store. JetStream mode connects to
// NATS and returns the client so later setup can share the connection;
// memory mode returns a nil client.
func setupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.DatapointStore, *natsclient.Client, error) {
	if cfg.Storage.Mode == config.StorageModeMemory {
		slog.Warn("Using in-memory datapoint store; data does not survive restarts")
		return store.NewMemoryStore(), nil, nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithLogger(logger),
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWaitSec > 0 {
		opts = append(opts, natsclient.WithReconnectWait(time.Duration(cfg.NATS.ReconnectWaitSec)*time.Second))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	jsStore, err := store.NewJetStreamStore(ctx, natsClient)
	if err != nil {
		natsClient.Close(ctx)
		return nil, nil, fmt.Errorf("create datapoint store: %w", err)
	}

	return jsStore, natsClient, nil
}

// setupResolver builds the active-context resolver. Event and
// experiment ids listed in the config win; otherwise JetStream mode
// reads live state from the shared KV bucket. Both paths sit behind the
// short-TTL cache so hot batches do not hammer the source.
func setupResolver(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client) (*activectx.CachedResolver, error) {
	var inner activectx.Resolver

	if len(cfg.Ingest.ActiveEvents) > 0 || natsClient == nil {
		inner = activectx.NewStaticResolver(cfg.Ingest.ActiveEvents, cfg.Ingest.ActiveExperiment)
	} else {
		bucket, err := natsClient.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket: activectx.BucketName,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure active-context bucket: %w", err)
		}
		kvResolver, err := activectx.NewKVResolver(bucket)
		if err != nil {
			return nil, fmt.Errorf("create KV resolver: %w", err)
		}
		inner = kvResolver
	}

	cached, err := activectx.NewCachedResolver(inner, cfg.Ingest.CacheTTL())
	if err != nil {
		return nil, fmt.Errorf("create cached resolver: %w", err)
	}
	return cached, nil
}

// setupWebhooks creates the delivery log, subscription store, and
// dispatcher, and starts the dispatcher's worker pool.
func setupWebhooks(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*webhook.Dispatcher, webhook.DeliveryLog, error) {
	subs, err := webhook.NewMemorySubscriptions(cfg.Webhook.Subscriptions)
	if err != nil {
		return nil, nil, fmt.Errorf("load webhook subscriptions: %w", err)
	}

	var deliveryLog webhook.DeliveryLog
	if dir := cfg.Storage.DeliveryLogDir; dir != "" {
		deliveryLog, err = webhook.OpenPebbleLog(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open delivery log: %w", err)
		}
		slog.Info("Webhook delivery log opened", "dir", dir)
	} else {
		slog.Warn("Using in-memory webhook delivery log; history does not survive restarts")
		deliveryLog = webhook.NewMemoryLog()
	}

	dispatcher := webhook.NewDispatcher(subs, deliveryLog,
		webhook.WithLogger(logger),
		webhook.WithMetrics(registry),
		webhook.WithThrottleWindow(cfg.Webhook.ThrottleWindow()),
	)
	if err := dispatcher.Start(ctx); err != nil {
		_ = deliveryLog.Close()
		return nil, nil, fmt.Errorf("start webhook dispatcher: %w", err)
	}

	return dispatcher, deliveryLog, nil
}

// setupRules loads the configured threshold rules into the engine, with
// triggers flowing to the audit log, the webhook dispatcher, and the
// frontend broadcast group.
func setupRules(
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	hub *broadcast.Hub,
	dispatcher *webhook.Dispatcher,
	logger *slog.Logger,
) (*rules.Engine, error) {
	ruleStore, err := rules.NewMemoryStore(cfg.Rules.Definitions)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	engine := rules.NewEngine(ruleStore,
		rules.WithAuditSink(rules.NewLogSink(logger)),
		rules.WithDispatcher(dispatcher),
		rules.WithNotifier(broadcast.NewAlertNotifier(hub, logger)),
		rules.WithLogger(logger),
		rules.WithMetrics(registry),
	)
	return engine, nil
}

// setupHealth registers readiness checks for the components with
// externally visible failure modes.
func setupHealth(natsClient *natsclient.Client, hub *broadcast.Hub) *health.Monitor {
	monitor := health.NewMonitor()

	if natsClient != nil {
		monitor.Register("nats", func() health.Status {
			if natsClient.IsConnected() {
				return health.NewHealthy("nats", "connected")
			}
			return health.NewUnhealthy("nats", "disconnected")
		})
	}

	monitor.Register("broadcast", func() health.Status {
		controllers := hub.GroupSize(broadcast.GroupController)
		frontends := hub.GroupSize(broadcast.GroupFrontend)
		return health.NewHealthy("broadcast",
			fmt.Sprintf("%d controller, %d frontend connections", controllers, frontends))
	})

	return monitor
}

// serveUntilSignal runs the gateway until the context is cancelled,
// then drains in-flight requests within the shutdown timeout.
func serveUntilSignal(ctx context.Context, server *gatewayhttp.Server, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Serve)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	slog.Info("telemetryhub shutdown complete")
	return nil
}

// printHelp prints help information
func printHelp() {
	printDetailedHelp()
}
