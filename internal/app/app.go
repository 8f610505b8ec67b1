// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/feedbridge/common"
	"github.com/YaganovValera/feedbridge/common/httpserver"
	producer "github.com/YaganovValera/feedbridge/common/kafka/producer"
	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/common/middleware"
	"github.com/YaganovValera/feedbridge/common/shutdown"
	"github.com/YaganovValera/feedbridge/common/telemetry"
	"github.com/YaganovValera/feedbridge/internal/config"
	"github.com/YaganovValera/feedbridge/internal/metrics"
	"github.com/YaganovValera/feedbridge/internal/sink"
	"github.com/YaganovValera/feedbridge/internal/sink/kafkasink"
	"github.com/YaganovValera/feedbridge/internal/sink/redisstore"
	"github.com/YaganovValera/feedbridge/internal/sink/timescaledb"
	"github.com/YaganovValera/feedbridge/internal/sink/wshub"
	"github.com/YaganovValera/feedbridge/pkg/envelope"
	"github.com/YaganovValera/feedbridge/pkg/feedclient"
)

const (
	readyTimeout    = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Option настраивает App (в основном для тестов).
type Option func(*options)

type options struct {
	sinks []sink.Sink
	doer  feedclient.Doer
}

// WithSink добавляет sink к тем, что собраны из конфига.
func WithSink(s sink.Sink) Option { return func(o *options) { o.sinks = append(o.sinks, s) } }

// WithHTTPClient подменяет HTTP-клиент feed-клиента.
func WithHTTPClient(d feedclient.Doer) Option { return func(o *options) { o.doer = d } }

// App связывает feed-клиент, sink'и и HTTP-сервер.
type App struct {
	cfg    *config.Config
	log    *logger.Logger
	client *feedclient.Client
	fanout *sink.Fanout
	store  *redisstore.Store // nil, если redis выключен
	server httpserver.HTTPServer
}

// New собирает все зависимости. Внешние сервисы (Kafka, Redis, Postgres)
// пингуются здесь же, с backoff.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: log.Named("app")}

	sinks, hub, err := a.buildSinks(ctx)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, o.sinks...)
	a.fanout = sink.NewFanout(log, sinks...)

	ccfg, err := cfg.ClientConfig(log, o.doer)
	if err != nil {
		_ = a.fanout.Close()
		return nil, err
	}
	a.client, err = feedclient.New(ccfg)
	if err != nil {
		_ = a.fanout.Close()
		return nil, fmt.Errorf("feed client init: %w", err)
	}
	a.client.OnData(a.handleData)
	a.client.OnStatus(a.handleStatus)
	a.client.OnError(func(err error) {
		a.log.Error("feed push failed", zap.Error(err))
	})

	extra := map[string]http.Handler{
		a.client.Pathname() + "/": middleware.Metrics("feed")(a.client.Routes()),
	}
	if hub != nil {
		// без middleware.Metrics: его ResponseWriter не умеет Hijack
		extra[hub.Path()] = hub
	}
	a.server, err = httpserver.New(cfg.HTTP, a.ready, log, extra,
		httpserver.RecoverMiddleware(log),
	)
	if err != nil {
		_ = a.fanout.Close()
		return nil, fmt.Errorf("httpserver init: %w", err)
	}

	a.log.Info("app: initialized",
		zap.Int("sinks", a.fanout.Len()),
		zap.Any("href", a.client.Address()),
	)
	return a, nil
}

func (a *App) buildSinks(ctx context.Context) ([]sink.Sink, *wshub.Hub, error) {
	var (
		sinks []sink.Sink
		hub   *wshub.Hub
	)
	closeAll := func() {
		for i := len(sinks) - 1; i >= 0; i-- {
			_ = sinks[i].Close()
		}
	}

	if a.cfg.Kafka.Enabled {
		prod, err := producer.New(ctx, a.cfg.Kafka.Producer, a.log)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer init: %w", err)
		}
		sinks = append(sinks, kafkasink.New(prod, a.cfg.Kafka, a.log))
	}
	if a.cfg.Redis.Enabled {
		store, err := redisstore.New(ctx, a.cfg.Redis, a.log)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("redis init: %w", err)
		}
		a.store = store
		sinks = append(sinks, store)
	}
	if a.cfg.Timescale.Enabled {
		w, err := timescaledb.New(ctx, a.cfg.Timescale, a.log)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("timescaledb init: %w", err)
		}
		sinks = append(sinks, w)
	}
	if a.cfg.Stream.Enabled {
		hub = wshub.New(a.cfg.Stream, a.log)
		sinks = append(sinks, hub)
	}
	return sinks, hub, nil
}

// Client отдаёт feed-клиент (для команд и тестов).
func (a *App) Client() *feedclient.Client { return a.client }

// Handler — корневой HTTP-обработчик.
func (a *App) Handler() http.Handler { return a.server.Handler() }

func (a *App) handleData(ctx context.Context, d *envelope.Data, meta feedclient.RequestMeta) {
	metrics.EnvelopesTotal.Inc()
	rec, err := sink.FromEnvelope(d, meta)
	if err != nil {
		metrics.DecodeErrors.Inc()
		a.log.WithContext(ctx).Warn("envelope decode failed",
			zap.Strings("tickers", d.Tickers()),
			zap.String("remote_addr", meta.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	// ошибки sink'ов уже залогированы fanout'ом
	_ = a.fanout.Write(ctx, rec)
}

func (a *App) handleStatus(ctx context.Context, signal string, meta feedclient.RequestMeta) {
	metrics.SignalsTotal.Inc()
	a.log.WithContext(ctx).Info("feed signal",
		zap.String("signal", signal),
		zap.String("remote_addr", meta.RemoteAddr),
	)
	if a.store == nil {
		return
	}
	err := a.store.SaveSignal(ctx, redisstore.Signal{
		Signal:     signal,
		RemoteAddr: meta.RemoteAddr,
		At:         meta.ReceivedAt,
	})
	if err != nil {
		a.log.WithContext(ctx).Error("save signal failed", zap.Error(err))
	}
}

func (a *App) ready() error {
	if a.cfg.Feed.Register && !a.client.Registered() {
		return errors.New("not registered with feed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()
	return a.fanout.Ping(ctx)
}

// Run поднимает HTTP-сервер, регистрирует адрес на feed-сервере и
// блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(gctx) })

	if a.cfg.Feed.Register {
		g.Go(func() error {
			select {
			case <-a.server.Listening():
			case <-gctx.Done():
				return nil
			}
			return a.register(gctx)
		})
	}

	err := g.Wait()
	a.stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("app: stopped")
	return nil
}

// register выполняет один PUT /register: вызовы feed-сервера не ретраятся,
// ошибка останавливает сервис.
func (a *App) register(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("feed register: %w", err)
	}
	metrics.FeedRegistered.Set(1)
	return nil
}

func (a *App) stop() {
	if a.client.Registered() {
		_ = shutdown.Graceful("feed registration", shutdownTimeout, a.client.Disconnect, a.log)
		metrics.FeedRegistered.Set(0)
	}
	_ = shutdown.Graceful("sinks", shutdownTimeout, func(context.Context) error {
		return a.fanout.Close()
	}, a.log)
}

// Run — точка входа serve: метрики, сборка App и запуск до отмены ctx.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	common.InitServiceName(cfg.ServiceName)
	metrics.Register(nil)
	feedclient.RegisterMetrics(nil)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		_ = shutdown.Graceful("telemetry", shutdownTimeout, func(ctx context.Context) error {
			return shutdownTracer(ctx)
		}, log)
	}()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
