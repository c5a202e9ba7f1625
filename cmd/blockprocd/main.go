// Package main is the entry point for blockprocd, a standalone device
// control process: it owns a set of Blocks, serves them to remote
// clients over WebSocket and optionally MQTT, and mirrors any
// configured remote processes' Blocks in as client proxies.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/blockmesh/process/internal/blockdevice"
	"github.com/blockmesh/process/internal/buildinfo"
	"github.com/blockmesh/process/internal/clientproxy"
	"github.com/blockmesh/process/internal/config"
	"github.com/blockmesh/process/internal/connwatch"
	"github.com/blockmesh/process/internal/mqttcomms"
	"github.com/blockmesh/process/internal/process"
	"github.com/blockmesh/process/internal/wscomms"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting blockprocd", "version", buildinfo.Version, "process", cfg.Process.Name, "config", cfgPath)

	proc := process.New(cfg.Process.Name, logger)
	registerReferenceBlocks(proc)
	proc.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenAddr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	var autocertCfg *wscomms.AutocertConfig
	if cfg.Autocert.Enabled {
		autocertCfg = &wscomms.AutocertConfig{Hosts: cfg.Autocert.Hosts, CacheDir: cfg.Autocert.CacheDir}
	}
	wsServer := wscomms.NewServerComms(proc, listenAddr, autocertCfg, logger)
	go func() {
		if err := wsServer.Start(); err != nil {
			if ctx.Err() == nil {
				logger.Error("wscomms server failed", "error", err)
			}
		}
	}()
	logger.Info("wscomms server started", "addr", listenAddr)

	var mqttServer *mqttcomms.ServerComms
	if cfg.MQTT.Enabled {
		mqttCfg := mqttcomms.Config{
			Broker:   cfg.MQTT.Broker,
			Prefix:   cfg.MQTT.Prefix,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}
		mqttServer = mqttcomms.NewServerComms(proc, mqttCfg, logger)
		go func() {
			if err := mqttServer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("mqttcomms server failed", "error", err)
			}
		}()
		logger.Info("mqttcomms server started", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.Prefix)
	}

	watchMgr := connwatch.NewManager(logger)
	for _, remote := range cfg.Remotes {
		mirrorRemote(ctx, watchMgr, proc, cfg, remote, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	_ = wsServer.Shutdown(context.Background())
	proc.Stop()
	logger.Info("blockprocd stopped")
}

// registerReferenceBlocks adds the reference device Blocks used both as
// working examples and as exercised test subjects.
func registerReferenceBlocks(proc *process.Process) {
	proc.AddBlock("counter", blockdevice.NewCounter("counter"))
	proc.AddBlock("hello", blockdevice.NewHello("hello"))
	proc.AddBlock("sptc", blockdevice.NewScanPointTicker("sptc", proc))
}

// mirrorRemote mirrors remote's named Block in as a client proxy.
// mqtt remotes are dialed once: autopaho's connection manager already
// reconnects on its own. ws remotes have no built-in reconnect, so they
// are supervised by a connwatch.Watcher that redials and re-mirrors
// whenever the previous connection is lost, until ctx is done.
func mirrorRemote(ctx context.Context, watchMgr *connwatch.Manager, proc *process.Process, cfg *config.Config, remote config.RemoteConfig, logger *slog.Logger) {
	switch remote.Transport {
	case "ws":
		var mu sync.Mutex
		var live *wscomms.ClientComms
		var mirrorCancel context.CancelFunc

		teardown := func() {
			mu.Lock()
			defer mu.Unlock()
			if mirrorCancel != nil {
				mirrorCancel()
				mirrorCancel = nil
			}
			live = nil
		}

		watchMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:   remote.Name,
			Logger: logger,
			Probe: func(probeCtx context.Context) error {
				mu.Lock()
				current := live
				mu.Unlock()
				if current != nil {
					select {
					case <-current.Done():
						teardown()
					default:
						return nil // already connected and mirroring
					}
				}

				comms, err := wscomms.Dial(probeCtx, proc, remote.Name, remote.URL, logger)
				if err != nil {
					return err
				}
				mirrorCtx, cancel := context.WithCancel(ctx)
				if _, err := clientproxy.NewController(proc, logger).Mirror(mirrorCtx, remote.Name); err != nil {
					cancel()
					return err
				}

				mu.Lock()
				live = comms
				mirrorCancel = cancel
				mu.Unlock()
				return nil
			},
			OnDown: func(err error) { teardown() },
		})
	case "mqtt":
		prefix := remote.Prefix
		if prefix == "" {
			prefix = remote.Name
		}
		mqttCfg := mqttcomms.Config{
			Broker:   cfg.MQTT.Broker,
			Prefix:   prefix,
			ClientID: cfg.MQTT.ClientID + "-" + remote.Name,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}
		_, err := mqttcomms.Dial(ctx, proc, remote.Name, mqttCfg, logger)
		if err != nil {
			logger.Error("failed to mirror remote", "remote", remote.Name, "error", err)
			return
		}
		if _, err := clientproxy.NewController(proc, logger).Mirror(ctx, remote.Name); err != nil {
			logger.Error("failed to mirror remote", "remote", remote.Name, "error", err)
		}
	default:
		logger.Error("failed to mirror remote", "remote", remote.Name, "error", fmt.Sprintf("unknown transport %q", remote.Transport))
	}
}
