// fastmine answers DUCO-style XXH64 proof-of-work challenges by
// inverting the hash instead of brute-forcing the nonce space.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tos-network/fastmine/internal/api"
	"github.com/tos-network/fastmine/internal/cache"
	"github.com/tos-network/fastmine/internal/client"
	"github.com/tos-network/fastmine/internal/config"
	"github.com/tos-network/fastmine/internal/limiter"
	"github.com/tos-network/fastmine/internal/notify"
	"github.com/tos-network/fastmine/internal/profiling"
	"github.com/tos-network/fastmine/internal/telemetry"
	"github.com/tos-network/fastmine/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	mode := flag.String("mode", "combined", "Run mode: combined, client, api")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fastmine v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("fastmine v%s starting in %s mode", version, *mode)

	switch *mode {
	case "client":
		cfg.Client.Enabled = true
		cfg.API.Enabled = false
	case "api":
		cfg.Client.Enabled = false
		cfg.API.Enabled = true
	case "combined":
		// use config file settings as-is
	default:
		util.Fatalf("Invalid mode: %s", *mode)
	}

	if err := cfg.Validate(); err != nil {
		util.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cacheClient *cache.Client
	if cfg.Cache.URL != "" {
		c, err := cache.NewRedisClient(cfg.Cache.URL, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			util.Warnf("Failed to connect to result cache: %v", err)
		} else {
			cacheClient = c
			defer cacheClient.Close()
		}
	}

	limiterConfig := limiter.DefaultConfig()
	if cfg.Security.BanThreshold > 0 {
		limiterConfig.MaxScore = int32(cfg.Security.BanThreshold)
	}
	if cfg.Security.BanDuration > 0 {
		limiterConfig.BanDuration = cfg.Security.BanDuration
	}
	if cfg.Security.ScoreResetInterval > 0 {
		limiterConfig.ScoreResetInterval = cfg.Security.ScoreResetInterval
	}
	lim := limiter.New(limiterConfig)
	lim.Start()
	defer lim.Stop()

	var pprofServer *profiling.Server
	if cfg.Profiling.Enabled {
		pprofServer = profiling.NewServer(&cfg.Profiling)
		if err := pprofServer.Start(); err != nil {
			util.Errorf("Failed to start pprof server: %v", err)
		}
	}

	var nrAgent *telemetry.Agent
	if cfg.Telemetry.Enabled {
		nrAgent = telemetry.NewAgent(&cfg.Telemetry)
		if err := nrAgent.Start(); err != nil {
			util.Errorf("Failed to start New Relic agent: %v", err)
		}
	}

	notifier := notify.NewNotifier(&cfg.Notify)

	var miningClient *client.Client
	var apiServer *api.Server

	if cfg.Client.Enabled {
		miningClient = client.New(&cfg.Client, &cfg.Mining, lim, nrAgent, notifier)
		go func() {
			if err := miningClient.Run(ctx); err != nil {
				util.Errorf("Mining client stopped: %v", err)
			}
		}()
	}

	if cfg.API.Enabled {
		apiServer = api.NewServer(&cfg.API, cacheClient, cfg.Cache.TTL, lim, nrAgent)
		if err := apiServer.Start(); err != nil {
			util.Fatalf("Failed to start API server: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("fastmine started successfully. Press Ctrl+C to stop.")

	<-sigChan
	util.Info("Shutting down...")

	cancel()
	if miningClient != nil {
		miningClient.Stop()
	}
	if apiServer != nil {
		apiServer.Stop()
	}
	if pprofServer != nil {
		pprofServer.Stop()
	}
	if nrAgent != nil {
		nrAgent.Stop()
	}

	util.Info("fastmine stopped")
}
