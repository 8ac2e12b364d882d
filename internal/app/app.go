// Package app wires configuration into running poll loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"solana-swap-watch/internal/config"
	"solana-swap-watch/internal/dedup"
	"solana-swap-watch/internal/notify"
	"solana-swap-watch/internal/observability"
	"solana-swap-watch/internal/pipeline"
	"solana-swap-watch/internal/poller"
	"solana-swap-watch/internal/provider/bitquery"
	"solana-swap-watch/internal/provider/solscan"
	"solana-swap-watch/internal/storage"
	chstore "solana-swap-watch/internal/storage/clickhouse"
	"solana-swap-watch/internal/storage/memory"
	"solana-swap-watch/internal/storage/migrations"
	pgstore "solana-swap-watch/internal/storage/postgres"
)

const shutdownTimeout = 5 * time.Second

// Option overrides a collaborator that New would otherwise build from config.
type Option func(*options)

type options struct {
	source   poller.DataSource
	registry *prometheus.Registry
	telegram notify.MessageSender
	kafka    notify.MessageWriter
}

// WithSource replaces the configured provider.
func WithSource(src poller.DataSource) Option {
	return func(o *options) { o.source = src }
}

// WithRegistry registers metrics with reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithTelegramSender replaces the Telegram bot client.
func WithTelegramSender(s notify.MessageSender) Option {
	return func(o *options) { o.telegram = s }
}

// WithKafkaWriter replaces the Kafka writer.
func WithKafkaWriter(w notify.MessageWriter) Option {
	return func(o *options) { o.kafka = w }
}

// App owns one poll loop per target plus the shared notifiers and stores.
type App struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	handler http.Handler
	alerts  storage.AlertStore
	loops   []*poller.Loop
	closers []func() error
}

// New validates cfg and builds every component. Provider authentication
// happens here, so a credential problem fails startup.
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger.WithField("component", "app")}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if o.registry != nil {
		gatherer, registerer = o.registry, o.registry
	}
	a.metrics = observability.NewMetrics("", registerer)
	a.handler = newHandler(gatherer)

	source := o.source
	if source == nil {
		if source, err = a.buildSource(ctx, logger); err != nil {
			return nil, err
		}
	}

	notifier, err := a.buildNotifier(ctx, logger, o)
	if err != nil {
		return nil, err
	}

	newDedup, err := a.dedupFactory(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range cfg.Targets {
		p, err := pipeline.New(pipeline.Options{
			Target:             t.Mint,
			Threshold:          t.Threshold,
			IncludeDirectSwaps: t.IncludeDirectSwaps,
			Dedup:              newDedup(t.Mint),
			Observer:           a.metrics,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Mint, err)
		}

		loop, err := poller.New(poller.Options{
			Target:          t.Mint,
			Source:          source,
			Processor:       p,
			Notifier:        notifier,
			Recorder:        a.metrics,
			Interval:        cfg.PollInterval,
			MaxAuthFailures: cfg.MaxAuthFailures,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Mint, err)
		}
		a.loops = append(a.loops, loop)
	}

	return a, nil
}

func (a *App) buildSource(ctx context.Context, logger logrus.FieldLogger) (poller.DataSource, error) {
	switch a.cfg.Provider {
	case config.ProviderBitquery:
		bq := a.cfg.Bitquery
		client, err := bitquery.New(ctx, bitquery.Config{
			ClientID:     bq.ClientID,
			ClientSecret: bq.ClientSecret,
			Endpoint:     bq.Endpoint,
			TokenURL:     bq.TokenURL,
			Lookback:     bq.Lookback,
			Limit:        bq.Limit,
			MinAmountUSD: bq.MinAmountUSD,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		if !bq.Stream {
			return client, nil
		}
		stream, err := bitquery.NewStream(ctx, client, bitquery.StreamConfig{
			URL:        bq.StreamURL,
			BufferSize: bq.StreamBufferSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, stream.Close)
		return stream, nil
	default:
		sc := a.cfg.Solscan
		opts := []solscan.Option{
			solscan.WithPageSize(sc.PageSize),
			solscan.WithLogger(logger),
		}
		if sc.BaseURL != "" {
			opts = append(opts, solscan.WithBaseURL(sc.BaseURL))
		}
		if sc.MaxRetries > 0 {
			opts = append(opts, solscan.WithMaxRetries(sc.MaxRetries))
		}
		return solscan.New(sc.APIKey, opts...), nil
	}
}

func (a *App) buildNotifier(ctx context.Context, logger logrus.FieldLogger, o options) (*notify.Multi, error) {
	n := a.cfg.Notify
	var named []notify.Named

	if n.Log {
		named = append(named, notify.Named{Name: "log", Notifier: notify.NewLogNotifier(logger)})
	}

	if n.Telegram.Enabled {
		sender := o.telegram
		if sender == nil {
			b, err := notify.NewTelegramBot(n.Telegram.BotToken)
			if err != nil {
				return nil, err
			}
			sender = b
		}
		named = append(named, notify.Named{Name: "telegram", Notifier: notify.NewTelegramNotifier(sender, n.Telegram.ChatID)})
	}

	if n.Kafka.Enabled {
		writer := o.kafka
		if writer == nil {
			writer = notify.NewKafkaWriter(n.Kafka.Brokers, n.Kafka.Topic)
		}
		kn := notify.NewKafkaNotifier(writer)
		a.closers = append(a.closers, kn.Close)
		named = append(named, notify.Named{Name: "kafka", Notifier: kn})
	}

	if n.Store.Enabled {
		store, err := a.openAlertStore(ctx)
		if err != nil {
			return nil, err
		}
		a.alerts = store
		named = append(named, notify.Named{Name: "store", Notifier: notify.NewStoreNotifier(store)})
	}

	return notify.NewMulti(logger, a.metrics, named...), nil
}

func (a *App) openAlertStore(ctx context.Context) (storage.AlertStore, error) {
	s := a.cfg.Storage
	switch a.cfg.Notify.Store.Backend {
	case config.StorePostgres:
		pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if s.Migrate {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				a.logger.WithField("versions", applied).Info("Applied postgres migrations")
			}
		}
		return pgstore.NewAlertStore(pool), nil

	case config.StoreClickHouse:
		var conn *chstore.Conn
		var err error
		if s.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, s.ClickHouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, s.ClickHouseDSN)
		}
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		return chstore.NewAlertStore(conn), nil

	default:
		return memory.NewAlertStore(), nil
	}
}

// dedupFactory returns a constructor for per-target dedup windows.
// Redis windows share one client but never share keys.
func (a *App) dedupFactory(ctx context.Context) (func(target string) pipeline.Deduper, error) {
	d := a.cfg.Dedup
	ttl := a.cfg.DedupTTL()

	if d.Backend != config.DedupRedis {
		return func(string) pipeline.Deduper {
			return dedup.NewMemory(d.Capacity, ttl)
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     d.RedisAddr,
		Password: d.RedisPassword,
		DB:       d.RedisDB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", d.RedisAddr, err)
	}

	return func(target string) pipeline.Deduper {
		return dedup.NewRedis(client, d.KeyPrefix+":"+target, ttl)
	}, nil
}

func newHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HandlerFor(g))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Handler serves /metrics and /health.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Alerts returns the archive notifier's store, or nil when archiving is off.
func (a *App) Alerts() storage.AlertStore {
	return a.alerts
}

// Run polls every target until ctx is cancelled, Stop is called, or a
// loop fails authentication. Cancellation is not reported as an error.
// The metrics server outlives the loops and is shut down once they return.
func (a *App) Run(ctx context.Context) error {
	var loops errgroup.Group
	for _, l := range a.loops {
		l := l
		loops.Go(func() error {
			err := l.Run(ctx)
			if err != nil && ctx.Err() == nil {
				// A failed loop ends the others after their current cycle.
				a.Stop()
			}
			return err
		})
	}

	var srv *http.Server
	srvErr := make(chan error, 1)
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv = &http.Server{Addr: addr, Handler: a.handler, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.WithField("addr", addr).Info("Starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.WithError(err).Error("Metrics server failed, stopping loops")
				a.Stop()
				srvErr <- fmt.Errorf("metrics server: %w", err)
				return
			}
			srvErr <- nil
		}()
	}

	a.logger.WithField("targets", len(a.loops)).Info("Watching for large swaps")

	err := loops.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil {
			a.logger.WithError(shutErr).Warn("Metrics server shutdown")
		}
		if serveErr := <-srvErr; serveErr != nil && err == nil {
			err = serveErr
		}
	}
	return err
}

// Stop asks every loop to finish its current cycle and return. Deliveries
// already in flight complete.
func (a *App) Stop() {
	for _, l := range a.loops {
		l.Stop()
	}
}

// Close releases writers and connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
