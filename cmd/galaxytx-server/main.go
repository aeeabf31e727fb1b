package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/galaxytx/galaxytx/config"
	"github.com/galaxytx/galaxytx/logger"
	"github.com/galaxytx/galaxytx/rm"
	"github.com/galaxytx/galaxytx/store/registry"
	"github.com/galaxytx/galaxytx/tc"

	"github.com/prometheus/client_golang/prometheus"
)

// Version is set at build time via -ldflags.
var Version string

func version() {
	if Version == "" {
		Version = "0.0.0-dev"
	}
	fmt.Printf("galaxytx-server version: %s\n", Version)
}

func usage() {
	cmd := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", cmd)
	flag.PrintDefaults()
}

var (
	isVersion = flag.Bool("v", false, "Show the version of galaxytx-server.")
	isDebug   = flag.Bool("d", false, "Set log level to debug.")
	isHelp    = flag.Bool("h", false, "Show this help message.")
	confFile  = flag.String("c", "", "Path to the server configuration file.")
)

func main() {
	flag.Parse()
	if flag.NArg() > 0 || *isHelp {
		usage()
		return
	}
	if *isVersion {
		version()
		return
	}

	cfg, err := config.Load(*confFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "galaxytx-server: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *isDebug {
		cfg.Log.Level = "debug"
	}
	logger.Init(logger.Config{
		File: cfg.Log.File, Level: cfg.Log.Level,
		MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups, MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logger.Sync()

	_, _ = maxprocs.Set(maxprocs.Logger(logger.Infof))

	st, err := registry.Open(cfg)
	logger.FatalIfError(err)
	logger.FatalIfError(st.Ping())

	dispatcher := rm.NewDispatcher()
	for branchType, maxAttempts := range map[string]int{
		"AT": cfg.Retry.MaxAttempts.AT, "TCC": cfg.Retry.MaxAttempts.TCC, "HTTP": cfg.Retry.MaxAttempts.HTTP,
		"MQ": cfg.Retry.MaxAttempts.MQ, "XA": cfg.Retry.MaxAttempts.XA,
	} {
		if maxAttempts <= 0 {
			continue
		}
		dispatcher.SetPolicy(branchType, rm.RetryPolicy{
			MaxAttempts: maxAttempts, InitialInterval: time.Duration(cfg.Retry.InitialIntervalMs) * time.Millisecond,
			Multiplier: cfg.Retry.Multiplier, MaxInterval: time.Duration(cfg.Retry.MaxIntervalMs) * time.Millisecond, Jitter: true,
		})
	}
	// No ResourceHandler is registered here: the AT, TCC, HTTP, MQ and XA
	// handlers need the deployment's resource registrations (AT/XA
	// databases, tccregistry entries, broker/endpoint configuration).
	// Until a handler is registered for a branch type, phase-2 dispatch
	// of branches of that type fails with rm.ErrNoHandler.

	registryProm := prometheus.NewRegistry()
	metrics := tc.NewMetrics(registryProm)

	coordinator := tc.NewCoordinator(cfg, st, dispatcher, metrics)

	scanner := tc.NewScanner(coordinator, st, time.Duration(cfg.Scan.IntervalMs)*time.Millisecond, 30)
	go scanner.Run()

	tcpAddr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	tcpServer := tc.NewTCPServer(tcpAddr, coordinator, 2000)
	go func() {
		logger.FatalIfError(tcpServer.ListenAndServe())
	}()

	httpServer := tc.NewHTTPServer(coordinator, registryProm)
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.HTTPPort)
	logger.FatalIfError(httpServer.Run(httpAddr))
}
