package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/settlement/internal/api"
	"github.com/Checker-Finance/settlement/internal/chain"
	"github.com/Checker-Finance/settlement/internal/engine"
	"github.com/Checker-Finance/settlement/internal/jobs"
	"github.com/Checker-Finance/settlement/internal/ledger"
	"github.com/Checker-Finance/settlement/internal/metrics"
	"github.com/Checker-Finance/settlement/internal/publisher"
	"github.com/Checker-Finance/settlement/internal/rabbitmq"
	"github.com/Checker-Finance/settlement/internal/rate"
	"github.com/Checker-Finance/settlement/internal/registry"
	"github.com/Checker-Finance/settlement/internal/sigverify"
	"github.com/Checker-Finance/settlement/internal/store"
	"github.com/Checker-Finance/settlement/pkg/config"
	"github.com/Checker-Finance/settlement/pkg/eventbus"
	"github.com/Checker-Finance/settlement/pkg/logger"
	"github.com/Checker-Finance/settlement/pkg/utils"
)

// Version is set at build time
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	logg.Infow("starting [settlementd]...",
		"version", Version,
		"chain_id", cfg.ChainID,
		"engine", cfg.EngineAddress.Hex())
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	genesis, err := ledger.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		logg.Fatalw("failed to load genesis", "file", cfg.GenesisFile, "error", err)
	}

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, cfg.CacheTTL, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Quote registry ---
	var quotes engine.Registry = registry.NewMemory()
	if cfg.RegistryBackend == "redis" {
		quotes = registry.NewRedis(st.Redis(), registryPrefix(cfg), logg.Desugar())
	}

	// --- Optional on-chain ERC-1271 resolution ---
	var resolvers []sigverify.Resolver
	if cfg.EthRPCURL != "" {
		res, closeChain, err := chain.Dial(ctx, logg.Desugar(), cfg.EthRPCURL)
		if err != nil {
			logg.Fatalw("failed to dial chain rpc", "error", err)
		}
		defer closeChain()
		resolvers = append(resolvers, res)
	}

	// --- Engine ---
	bus := eventbus.New(logg.Desugar())
	c, err := newCore(cfg, genesis, quotes, bus, logg.Desugar(), resolvers...)
	if err != nil {
		logg.Fatalw("failed to init engine", "error", err)
	}
	store.Attach(bus, st, logg.Desugar())
	metrics.Attach(bus)

	// --- NATS publisher ---
	var snapshots jobs.SnapshotPublisher
	var pub *publisher.Publisher
	if cfg.NATSEnabled {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, cfg.SubjectPrefix, cfg.ServiceName, cfg.ChainID)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		pub.Attach(bus)
		snapshots = pub
	} else {
		logg.Warn("NATS disabled; settlement events stay in-process")
	}

	// --- RabbitMQ relayer intake ---
	var (
		amqpConn *rabbitmq.Conn
		consumer *rabbitmq.Consumer
		results  *rabbitmq.Publisher
	)
	if cfg.AMQPURL != "" {
		amqpConn, err = rabbitmq.Dial(cfg.AMQPURL)
		if err != nil {
			logg.Fatalw("failed to connect to RabbitMQ", "error", err)
		}
		pubCh, err := amqpConn.Channel()
		if err != nil {
			logg.Fatalw("failed to open publisher channel", "error", err)
		}
		results, err = rabbitmq.NewPublisher(pubCh, cfg.ResultsQueue, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to create RabbitMQ publisher", "error", err)
		}
		results.Attach(bus)

		subCh, err := amqpConn.Channel()
		if err != nil {
			logg.Fatalw("failed to open consumer channel", "error", err)
		}
		consumer = rabbitmq.NewConsumer(subCh, cfg.RelayerQueue, c.engine, results, logg.Desugar())
		if err := consumer.Start(ctx); err != nil {
			logg.Fatalw("failed to start RabbitMQ consumer", "error", err)
		}
	} else {
		logg.Warn("AMQP_URL not configured; relayer queue intake disabled")
	}

	// --- Fee snapshots ---
	snapshotter := jobs.NewFeeSnapshotter(logg.Desugar(), c.engine, st, snapshots, cfg.FeeSnapshotInterval)
	go snapshotter.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		Cooldown:          1 * time.Second,
	})

	api.RegisterRoutes(app, api.Routes{
		Handler: api.NewHandler(logg.Desugar(), c.engine, c.wallet, st),
		Auth:    api.NewAuthenticator(logg.Desugar(), c.verifier, cfg.AuthMaxSkew),
		Limiter: rateMgr,
		Checks: map[string]api.HealthCheck{
			"store": st.HealthCheck,
		},
	})

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[settlementd] running",
		"registry", cfg.RegistryBackend,
		"nats", cfg.NATSEnabled,
		"relayer_queue", cfg.AMQPURL != "",
		"fee_rate_bps", cfg.FeeRateBps)

	<-ctx.Done()
	logg.Info("shutting down [settlementd]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber shutdown failed", "error", err)
	}
	snapshotter.Stop()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logg.Errorw("failed to close consumer", "error", err)
		}
	}
	bus.Wait()
	if results != nil {
		if err := results.Close(); err != nil {
			logg.Errorw("failed to close publisher", "error", err)
		}
	}
	if amqpConn != nil {
		_ = amqpConn.Close()
	}
	if pub != nil {
		pub.Close()
	}
	if err := st.Close(); err != nil {
		logg.Errorw("failed to close store", "error", err)
	}

	logg.Info("[settlementd] stopped")
}

// registryPrefix scopes consumed quote ids to one deployment.
func registryPrefix(cfg *config.Config) string {
	return fmt.Sprintf("settlement:%d:%s", cfg.ChainID, strings.ToLower(cfg.EngineAddress.Hex()))
}
