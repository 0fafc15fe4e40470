package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/aspects"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/nameservice"
	mtshttp "github.com/fxsml/gomts/protocol/http"
	mtsnats "github.com/fxsml/gomts/protocol/nats"
	"github.com/fxsml/gomts/transport"
)

// Module wires a node from a Config supplied to the application.
var Module = fx.Module("mtsnode",
	fx.Provide(
		newLogger,
		newDirectory,
		newMetricsRegistry,
		newStats,
		newAspectRegistry,
		newProtocols,
		newService,
		newServer,
	),
	fx.Invoke(startServer, registerClients),
)

// app returns the options of a node application for cfg.
func app(cfg Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		Module,
	)
}

func newDirectory(lc fx.Lifecycle, cfg Config) nameservice.Directory {
	var dir nameservice.Directory
	switch cfg.Directory.Kind {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Directory.RedisAddr})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		dir = nameservice.NewRedis(client, nameservice.RedisConfig{Prefix: cfg.Directory.RedisPrefix})
	default:
		dir = nameservice.NewMemory()
	}
	if cfg.Directory.NoCache {
		return dir
	}
	return nameservice.NewCached(dir, nameservice.CacheConfig{
		Size: cfg.Directory.CacheSize,
		TTL:  cfg.Directory.CacheTTL,
	})
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newStats(reg *prometheus.Registry) (*aspects.Stats, error) {
	return aspects.NewStats(aspects.StatsConfig{Registerer: reg})
}

func newAspectRegistry(cfg Config, stats *aspects.Stats, logger *slog.Logger) (*aspect.Registry, error) {
	reg := aspect.NewRegistry()
	err := aspects.Register(reg, aspects.Config{
		Trace: aspects.TraceConfig{
			Logger:       logger.With("component", "trace"),
			LevelSuccess: aspects.LogLevel(cfg.Aspects.TraceLevel),
		},
		Stats:      stats,
		RetryLimit: cfg.Aspects.RetryLimit,
		Guard:      aspects.GuardConfig{Key: []byte(cfg.Aspects.GuardKey)},
		Mask:       cfg.Aspects.Mask,
		Dedupe:     aspects.DedupeConfig{Size: cfg.Aspects.DedupeSize},
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

type protocolsOut struct {
	fx.Out

	Protocols []link.Protocol
	HTTP      *mtshttp.Protocol
}

func newProtocols(cfg Config, dir nameservice.Directory, logger *slog.Logger) (protocolsOut, error) {
	var out protocolsOut
	if cfg.HTTP.Endpoint != "" {
		p, err := mtshttp.New(mtshttp.Config{
			Endpoint:  cfg.HTTP.Endpoint,
			Path:      cfg.HTTP.Path,
			Directory: dir,
			Cost:      link.Cost(cfg.HTTP.Cost),
			Logger:    logger.With("protocol", mtshttp.Name),
		})
		if err != nil {
			return out, err
		}
		out.HTTP = p
		out.Protocols = append(out.Protocols, p)
	}
	if cfg.NATS.URL != "" {
		p, err := mtsnats.New(mtsnats.Config{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			RequestTimeout: cfg.NATS.RequestTimeout,
			Cost:           link.Cost(cfg.NATS.Cost),
			Directory:      dir,
			Logger:         logger.With("protocol", mtsnats.Name),
		})
		if err != nil {
			return out, err
		}
		out.Protocols = append(out.Protocols, p)
	}
	if len(out.Protocols) == 0 {
		logger.Warn("No network protocol configured, node only delivers locally")
	}
	return out, nil
}

func newService(lc fx.Lifecycle, cfg Config, protocols []link.Protocol, reg *aspect.Registry, logger *slog.Logger) (*transport.Service, error) {
	svc, err := transport.New(cfg.Transport,
		transport.WithProtocols(protocols...),
		transport.WithAspectRegistry(reg),
		transport.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	svc.AddWatcher(&transport.WatcherFuncs{
		Dropped: func(msg *message.Message, err error) {
			logger.Error("Message dropped", "id", msg.ID(), "target", msg.Target().String(), "error", err)
		},
	})
	lc.Append(fx.Hook{
		OnStart: svc.Start,
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			dropped, err := svc.FlushMessages(ctx)
			if err != nil {
				logger.Warn("Flush interrupted", "error", err)
			}
			if len(dropped) > 0 {
				logger.Warn("Messages dropped during flush", "count", len(dropped))
			}
			return svc.Stop()
		},
	})
	return svc, nil
}

func newServer(cfg Config, httpProto *mtshttp.Protocol, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	if httpProto != nil {
		mux.Handle(httpProto.Path(), httpProto.Handler())
	}
	if !cfg.Metrics.Disabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
			ErrorHandling: promhttp.ContinueOnError,
			Registry:      reg,
		}))
	}
	return &http.Server{
		Addr:     cfg.HTTP.Listen,
		Handler:  mux,
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

// startServer binds the listener before the transport starts, so peers can
// reach the node as soon as it is published.
func startServer(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			srv.Addr = ln.Addr().String()
			logger.Info("Listening", "addr", srv.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

func registerClients(svc *transport.Service, cfg Config, logger *slog.Logger) error {
	for _, name := range cfg.Clients {
		c := newLogClient(message.NewAddress(name), logger)
		if err := svc.RegisterClient(context.Background(), c); err != nil {
			return err
		}
		for _, group := range cfg.Groups {
			if err := svc.JoinGroup(message.NewMulticastAddress(group), c); err != nil {
				return err
			}
		}
	}
	return nil
}

func newLogClient(addr message.Address, logger *slog.Logger) transport.Client {
	logger = logger.With("client", addr.String())
	return transport.NewClient(addr, func(_ context.Context, msg *message.Message) error {
		logger.Info("Message received",
			"id", msg.ID(),
			"source", msg.Source().String(),
			"payload_bytes", len(msg.Payload()),
			"status", string(message.Status(msg)),
		)
		return nil
	})
}
