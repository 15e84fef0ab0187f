package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/olyamironova/matching-core/internal/adapter/cache"
	"github.com/olyamironova/matching-core/internal/adapter/in_memory"
	"github.com/olyamironova/matching-core/internal/adapter/kafka"
	"github.com/olyamironova/matching-core/internal/adapter/outbox"
	"github.com/olyamironova/matching-core/internal/adapter/pg"
	grpcapi "github.com/olyamironova/matching-core/internal/api/grpc"
	httpapi "github.com/olyamironova/matching-core/internal/api/http"
	"github.com/olyamironova/matching-core/internal/config"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/olyamironova/matching-core/internal/logger"
	"github.com/olyamironova/matching-core/internal/metrics"
	"github.com/olyamironova/matching-core/internal/middleware"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/olyamironova/matching-core/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (default config/matching.yaml)")
	flag.Parse()

	cfg, v, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log, level := logger.New("matching", cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	config.Watch(v, func(c *config.Config) {
		level.SetLevel(logger.ParseLevel(c.Log.Level))
		log.Info("config reloaded", zap.String("log_level", c.Log.Level))
	}, func(err error) {
		log.Warn("config reload failed", zap.Error(err))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New()
	met.MustRegister(reg)

	var (
		repo    port.Repository
		pgRepo  *pg.PgRepo
		obCache port.Cache
	)
	if cfg.Postgres.DSN != "" {
		r, err := pg.NewPgRepo(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer r.Close()
		if err := r.Migrate(ctx); err != nil {
			return err
		}
		repo, pgRepo = r, r
		log.Info("using postgres repository")
	} else {
		repo = in_memory.NewMemoryRepo()
		log.Warn("postgres.dsn not set, orders and trades are kept in memory")
	}

	if cfg.Redis.Addr != "" {
		rc := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		defer func() { _ = rc.Close() }()
		if err := rc.Ping(ctx); err != nil {
			return err
		}
		obCache = rc
	} else {
		obCache = in_memory.NewCache()
	}

	hub := grpcapi.NewTradeHub(256)
	pubs := port.Publishers{hub}

	var rl *relay.Relay
	if len(cfg.Kafka.Brokers) > 0 {
		box, err := outbox.Open(cfg.Outbox.Dir, nil)
		if err != nil {
			return err
		}
		defer func() { _ = box.Close() }()
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()

		pubs = append(pubs, box)
		rl = relay.New(box, producer, relay.Config{
			Interval: cfg.Outbox.PollInterval,
			Batch:    cfg.Outbox.Batch,
		}, met, log.Named("relay"))
	}

	eng := core.NewEngine(
		core.WithRepository(repo),
		core.WithCache(obCache),
		core.WithPublisher(pubs),
		core.WithMetrics(met),
		core.WithLogger(log.Named("core")),
		core.WithDepth(cfg.Book.Depth),
	)

	markets := cfg.Markets
	if pgRepo != nil {
		known, err := pgRepo.ListMarkets(ctx)
		if err != nil {
			return err
		}
		markets = append(markets, known...)
	}
	for _, m := range markets {
		pair, err := engine.ParseTradingPair(m)
		if err != nil {
			return err
		}
		if err := eng.AddMarket(ctx, pair); err != nil && !errors.Is(err, engine.ErrMarketExists) {
			return err
		}
	}
	if err := eng.LoadOpenOrdersFromRepo(ctx); err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, 10*time.Minute)
	limiter.StartJanitor(ctx, time.Minute)
	httpSrv := httpapi.NewHTTPServer(eng,
		httpapi.WithLogger(log.Named("http")),
		httpapi.WithRateLimiter(limiter),
		httpapi.WithGatherer(reg),
	)
	grpcMet := grpcprom.NewServerMetrics()
	grpcMet.EnableHandlingTimeHistogram()
	reg.MustRegister(grpcMet)
	grpcSrv := grpcapi.NewGRPCServer(eng,
		grpcapi.WithTradeHub(hub),
		grpcapi.WithLogger(log.Named("grpc")),
		grpcapi.WithServerMetrics(grpcMet),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx, cfg.HTTP.Addr) })
	g.Go(func() error { return grpcSrv.Run(gctx, cfg.GRPC.Addr) })
	if rl != nil {
		g.Go(func() error { return rl.Run(gctx) })
	}
	return g.Wait()
}
