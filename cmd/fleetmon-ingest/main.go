package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dbops/fleetmon/internal/ingest"
	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/sink"
	"github.com/dbops/fleetmon/internal/telemetry"
)

var (
	appName, gitCommit, gitBranch string
)

// shutdownGrace bounds how long a signal waits for the in-flight pass.
const shutdownGrace = 30 * time.Second

func main() {
	var (
		showVersion = kingpin.Flag("version", "show version and exit").Default().Bool()
		logLevel    = kingpin.Flag("log-level", "set log level: debug, info, warning, error").Default("info").Envar("LOG_LEVEL").String()
		logFile     = kingpin.Flag("log-file", "append log output to file").Default("").Envar("LOG_FILE").String()
		configFile  = kingpin.Flag("config-file", "path to the sink database config").Default("./monitor_to_db_config.json").Envar("SINK_CONFIG_FILE").String()
		monitorDir  = kingpin.Flag("monitor-dir", "root directory of the snapshot tree").Default("./monitor").Envar("MONITOR_DIR").String()
		continuous  = kingpin.Flag("continuous", "keep running passes on the interval").Bool()
		interval    = kingpin.Flag("interval", "seconds between ingestion passes").Default("60").Envar("INGEST_INTERVAL").Int()
		maxWorkers  = kingpin.Flag("max-workers", "parallel snapshot parsers").Default("10").Envar("MAX_WORKERS").Int()
		batchSize   = kingpin.Flag("batch-size", "maximum snapshot files per pass").Default("100").Envar("BATCH_SIZE").Int()
		retention   = kingpin.Flag("retention-days", "ledger lookback and pruning window").Default("7").Envar("RETENTION_DAYS").Int()
		listenAddr  = kingpin.Flag("listen-address", "address for the /metrics endpoint, empty disables it").Default("").Envar("LISTEN_ADDRESS").String()
	)
	kingpin.Parse()
	log.SetLevel(*logLevel)
	log.SetApplication(appName)

	if *showVersion {
		fmt.Printf("%s %s-%s\n", appName, gitCommit, gitBranch)
		os.Exit(0)
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			log.Errorf("Cannot start %s, unable to open log file: %s", appName, err)
			os.Exit(1)
		}
		defer f.Close()
		log.AddOutput(f)
	}

	cfg, err := sink.LoadConfig(*configFile)
	if err != nil {
		log.Errorf("Cannot start %s, unable to load sink config: %s", appName, err)
		os.Exit(1)
	}
	log.Debugf("sink config: %s", cfg.Redacted())

	s, err := sink.New(cfg)
	if err != nil {
		log.Errorf("Cannot start %s: %s", appName, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		log.Errorf("Cannot start %s, unable to connect sink: %s", appName, err)
		os.Exit(1)
	}
	defer s.Close()

	if err := s.EnsureSchema(ctx); err != nil {
		log.Errorf("Cannot start %s: %s", appName, err)
		os.Exit(1)
	}

	pipeline := ingest.New(ingest.Config{
		RootDir:       *monitorDir,
		BatchSize:     *batchSize,
		MaxWorkers:    *maxWorkers,
		RetentionDays: *retention,
		Interval:      time.Duration(*interval) * time.Second,
	}, s)

	if !*continuous {
		if _, err := pipeline.RunOnce(ctx); err != nil {
			log.Errorf("ingest: %s", err)
			os.Exit(1)
		}
		return
	}

	go telemetry.Serve(ctx, *listenAddr)

	var doExit = make(chan error, 2)
	done := make(chan struct{})
	go func() {
		doExit <- listenSignals()
		cancel()
	}()

	go func() {
		err := pipeline.Run(ctx)
		close(done)
		doExit <- err
		cancel()
	}()

	log.Warnf("shutdown: %s", <-doExit)

	// let the in-flight pass finish its batch write before exiting
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("shutdown: grace period expired, abandoning in-flight pass")
	}
}

func listenSignals() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	return fmt.Errorf("got %s", <-c)
}
