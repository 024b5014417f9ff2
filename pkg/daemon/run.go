// Package daemon запускает imulink как службу: сессия с модулем, задача порта данных,
// ретранслятор поправок, метрики и публикация в Redis. Используется из cmd/imulink и Beat.
package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/shiwa/imulink/internal/board"
	"github.com/shiwa/imulink/internal/connection"
	"github.com/shiwa/imulink/internal/discovery"
	"github.com/shiwa/imulink/internal/logger"
	"github.com/shiwa/imulink/internal/monitor"
	"github.com/shiwa/imulink/internal/relay"
	"github.com/shiwa/imulink/internal/scheme"
	"github.com/shiwa/imulink/internal/storage"
	"github.com/shiwa/imulink/internal/telemetry"
	"github.com/shiwa/imulink/pkg/config"
)

// RunDaemon подключается к модулю и обслуживает порт данных до отмены ctx.
// sinks получают разобранную телеметрию вместе с Redis (если включён).
func RunDaemon(ctx context.Context, cfg *config.Config, quiet bool, sinks ...telemetry.Sink) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	if err := logger.Setup(cfg.Log); err != nil {
		logger.Error("%v", err)
	}
	logger.SetQuiet(quiet)
	if err := cfg.Validate(); err != nil {
		return err
	}

	monitor.Register()
	if cfg.Metrics.Enable {
		monitor.StartMetricsServer(ctx, cfg.Metrics.Port)
	}

	b, err := Connect(ctx, cfg)
	if err != nil {
		return err
	}
	return Serve(ctx, cfg, b, sinks...)
}

// BoardOptions — параметры протокола из блока device
func BoardOptions(cfg *config.Config) board.Options {
	opts := board.DefaultOptions()
	if cfg.Device.Retries > 0 {
		opts.Retries = cfg.Device.Retries
	}
	opts.Settle = config.ParseDuration(cfg.Device.Settle, opts.Settle)
	opts.ResetWait = config.ParseDuration(cfg.Device.ResetWait, opts.ResetWait)
	if cfg.Telemetry.VerifyBinaryTrailer {
		opts.BinaryCheck = scheme.FletcherTrailer
	}
	return opts
}

// Connect открывает сессию: UDP, явные порты или обнаружение
func Connect(ctx context.Context, cfg *config.Config) (*board.Board, error) {
	opts := BoardOptions(cfg)
	switch {
	case cfg.UDP != nil:
		u := cfg.UDP
		return board.FromUDP(u.IP, u.DataPort, u.ControlPort, u.OdometerPort, u.LocalBase, opts)
	case cfg.Device.ControlPort != "":
		d := cfg.Device
		return board.Open(connection.SerialOpener(d.Driver), d.ControlPort, d.DataPort, d.ControlBaud, d.DataBaud, opts)
	default:
		disc := discovery.Serial(cfg.Device.Driver, discovery.FileStore{Dir: cfg.Discovery.CacheDir})
		disc.Bauds = cfg.Discovery.Bauds
		disc.Options = opts
		if cfg.Device.Serial != "" {
			return disc.DiscoverBySerial(ctx, cfg.Device.Serial, cfg.Discovery.WithDataPort)
		}
		return disc.Discover(ctx, cfg.Discovery.WithDataPort)
	}
}

// Serve обслуживает открытую сессию до отмены ctx и освобождает её
func Serve(ctx context.Context, cfg *config.Config, b *board.Board, sinks ...telemetry.Sink) error {
	defer b.Release()
	monitor.SetSessionConnected(true)
	defer monitor.SetSessionConnected(false)

	info, err := b.Info()
	if err != nil {
		logger.Warn("identify: %v", err)
	}
	logger.Info("imulink: %s serial=%s version=%s control=%s data=%s",
		b.Product(), info.Serial, info.Version, b.ControlPort(), b.DataPort())

	if cfg.Redis.Enable {
		pub, err := storage.Connect(ctx, storage.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Channel:  cfg.Redis.Channel,
			History:  cfg.Redis.History,
		}, info.Serial)
		if err != nil {
			logger.Error("redis: %v", err)
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	if !cfg.Telemetry.Enable {
		<-ctx.Done()
		return ctx.Err()
	}

	opts := telemetry.DefaultOptions()
	opts.Parse = cfg.Telemetry.Parse
	opts.FlushEvery = cfg.Telemetry.FlushEvery
	if cfg.Telemetry.Capture != "" {
		fw, err := connection.Open(connection.Endpoint{Kind: "capture", Name: cfg.Telemetry.Capture})
		if err != nil {
			return err
		}
		defer fw.Close()
		opts.Capture = fw
	}

	data := b.DetachData()
	streamer := telemetry.New(func() (connection.Connection, error) {
		if data.Kind() == connection.KindDummy {
			return nil, fmt.Errorf("no data port")
		}
		return data, nil
	}, b.DataScheme, opts, sinks...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = streamer.Run(ctx)
	}()
	defer wg.Wait()

	if err := streamer.Start(ctx); err != nil {
		return err
	}

	if cfg.Relay.Enable {
		src := relay.TCPSource{Addr: cfg.Relay.Address, Request: []byte(cfg.Relay.Request)}
		r := relay.New(src, streamer.Corrections(), relay.Options{
			BytesPerSecond:  cfg.Relay.BytesPerSecond,
			Window:          config.ParseDuration(cfg.Relay.Window, 0),
			RetryInterval:   config.ParseDuration(cfg.Relay.RetryInterval, 0),
			InitialAttempts: cfg.Relay.InitialAttempts,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("relay: %v", err)
			}
		}()
	}

	<-ctx.Done()
	return ctx.Err()
}
