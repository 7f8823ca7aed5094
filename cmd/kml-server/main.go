package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/catalog-kml/internal/cache/redisstore"
	"github.com/mohammed-shakir/catalog-kml/internal/catalogevents"
	"github.com/mohammed-shakir/catalog-kml/internal/core/config"
	"github.com/mohammed-shakir/catalog-kml/internal/core/observability"
	"github.com/mohammed-shakir/catalog-kml/internal/core/server"
	"github.com/mohammed-shakir/catalog-kml/internal/kml"
	"github.com/mohammed-shakir/catalog-kml/internal/logger"
	h3mapper "github.com/mohammed-shakir/catalog-kml/internal/mapper/h3"
	"github.com/mohammed-shakir/catalog-kml/internal/style"
	"github.com/mohammed-shakir/catalog-kml/internal/subscription"
	"github.com/mohammed-shakir/catalog-kml/internal/transform"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	sinkFlag := flag.String("sink", "", "subscription sink (memory, redis, kafka, redis+kafka)")
	flag.Parse()

	cfg := config.FromEnv()
	if *sinkFlag != "" {
		cfg.Subscription.Sink = *sinkFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "catalog-kml",
		Component: "kml-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting kml server",
		"addr", cfg.Addr,
		"version", Version,
		"sink", cfg.Subscription.Sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, closeSink, err := buildSink(ctx, cfg.Subscription, appLog)
	if err != nil {
		appLog.Error("subscription sink setup failed", "err", err)
		return 1
	}
	defer closeSink()

	reg := subscription.NewRegistry(sink, appLog.With("component", "subscriptions"))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Close(shutdownCtx); err != nil {
			appLog.Warn("releasing subscriptions on shutdown", "err", err)
		}
	}()

	if cfg.CatalogEvents.Enabled {
		if err := startCatalogEvents(ctx, cfg, sink, &zl, appLog.With("component", "catalog_events")); err != nil {
			appLog.Error("catalog event consumer setup failed", "err", err)
			return 1
		}
	}

	tr, err := buildTransformer(cfg.KML, reg, appLog.With("component", "transform"))
	if err != nil {
		appLog.Error("kml transformer setup failed", "err", err)
		return 1
	}

	if err := server.Run(ctx, cfg, appLog, tr, reg); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func buildTransformer(cfg config.KMLCfg, reg *subscription.Registry, log *slog.Logger) (*transform.Transformer, error) {
	defStyle, err := loadDefaultStyle(cfg.DefaultStyle)
	if err != nil {
		return nil, err
	}

	mappings, err := style.LoadMappings(cfg.StyleMappings, cfg.StyleFile)
	if err != nil {
		return nil, err
	}
	styles := style.NewMapper(log)
	styles.Load(mappings)
	log.Info("style rules loaded", "rules", len(styles.Rules()))

	delegates := transform.NewDelegateRegistry()
	var tmplFS fs.FS
	if cfg.TemplateDir != "" {
		tmplFS = os.DirFS(cfg.TemplateDir)
		n, err := transform.LoadDelegates(tmplFS, delegates, log)
		if err != nil {
			return nil, err
		}
		log.Info("kml delegates loaded", "dir", cfg.TemplateDir, "delegates", n)
	}

	describer, err := transform.NewTemplateDescriber(tmplFS, cfg.TemplateCache, transform.WithPlatform(cfg.Platform))
	if err != nil {
		return nil, err
	}

	return transform.New(
		transform.Config{DefaultStyle: defStyle, DefaultInterval: cfg.DefaultInterval},
		transform.WithLogger(log),
		transform.WithStyles(styles),
		transform.WithDelegates(delegates),
		transform.WithDescriber(describer),
		transform.WithRegistrar(reg),
	), nil
}

func loadDefaultStyle(path string) (kml.StyleSet, error) {
	if path == "" {
		return kml.DefaultStyleSet()
	}
	f, err := os.Open(path)
	if err != nil {
		return kml.StyleSet{}, fmt.Errorf("open default style: %w", err)
	}
	defer f.Close()
	set, err := kml.LoadStyleSet(f)
	if err != nil {
		return kml.StyleSet{}, err
	}
	if set.Empty() {
		return kml.StyleSet{}, fmt.Errorf("default style %s has no style selectors", path)
	}
	return set, nil
}

func buildSink(ctx context.Context, cfg config.SubscriptionCfg, log *slog.Logger) (subscription.Sink, func(), error) {
	var (
		sinks   subscription.MultiSink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	useRedis := cfg.Sink == config.SinkRedis || cfg.Sink == config.SinkRedisKafka
	useKafka := cfg.Sink == config.SinkKafka || cfg.Sink == config.SinkRedisKafka
	if !useRedis && !useKafka {
		if cfg.Sink != config.SinkMemory {
			return nil, nil, fmt.Errorf("unknown subscription sink %q", cfg.Sink)
		}
		return subscription.NewMemorySink(), func() {}, nil
	}

	if useRedis {
		var opts []redisstore.Option
		if cfg.RedisPool > 0 {
			opts = append(opts, redisstore.WithPoolSize(cfg.RedisPool))
		}
		if cfg.RedisDB > 0 {
			opts = append(opts, redisstore.WithDB(cfg.RedisDB))
		}
		if cfg.RedisDial > 0 {
			opts = append(opts, redisstore.WithDialTimeout(cfg.RedisDial))
		}
		if cfg.RedisRead > 0 {
			opts = append(opts, redisstore.WithReadTimeout(cfg.RedisRead))
		}
		if cfg.RedisWrite > 0 {
			opts = append(opts, redisstore.WithWriteTimeout(cfg.RedisWrite))
		}
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		store, err := redisstore.New(dialCtx, cfg.RedisAddr, opts...)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("redis sink: %w", err)
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				log.Warn("closing redis", "err", err)
			}
		})
		sinks = append(sinks, subscription.NewRedisSink(store, h3mapper.New(), cfg.H3Res, log))
		log.Info("redis subscription sink ready", "addr", cfg.RedisAddr, "h3_res", cfg.H3Res)
	}

	if useKafka {
		prod, err := subscription.NewKafkaProducer(cfg.BrokerList())
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("kafka sink: %w", err)
		}
		ks := subscription.NewKafkaSink(prod, cfg.Topic, cfg.QueueSize, log)
		closers = append(closers, func() {
			if err := ks.Close(); err != nil && !errors.Is(err, subscription.ErrSinkClosed) {
				log.Warn("closing kafka sink", "err", err)
			}
		})
		sinks = append(sinks, ks)
		log.Info("kafka subscription sink ready", "topic", cfg.Topic)
	}

	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	return sinks, closeAll, nil
}

// startCatalogEvents runs the change consumer against the Redis cell index.
// Affected subscriptions are announced on Kafka when that sink is active.
func startCatalogEvents(ctx context.Context, cfg config.Config, sink subscription.Sink, zl *zerolog.Logger, log *slog.Logger) error {
	var (
		index    *subscription.RedisSink
		notifier catalogevents.Notifier = catalogevents.LogNotifier{Log: log}
	)
	sinks, ok := sink.(subscription.MultiSink)
	if !ok {
		sinks = subscription.MultiSink{sink}
	}
	for _, s := range sinks {
		switch v := s.(type) {
		case *subscription.RedisSink:
			index = v
		case *subscription.KafkaSink:
			notifier = v
		}
	}
	if index == nil {
		return fmt.Errorf("catalog events need the redis subscription sink (have %q)", cfg.Subscription.Sink)
	}

	cons := catalogevents.New(
		catalogevents.FromConfig(cfg.CatalogEvents, cfg.Subscription.BrokerList()),
		log, zl, index, h3mapper.New(), notifier,
	)
	go func() {
		if err := cons.Start(ctx); err != nil {
			log.Error("catalog event consumer stopped", "err", err)
		}
	}()
	return nil
}
