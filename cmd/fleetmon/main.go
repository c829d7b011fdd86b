package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/scheduler"
	"github.com/dbops/fleetmon/internal/telemetry"
	"github.com/dbops/fleetmon/internal/threshold"
)

var (
	appName, gitCommit, gitBranch string
)

// shutdownGrace bounds how long a signal waits for the in-flight tick.
const shutdownGrace = 30 * time.Second

func main() {
	var (
		showVersion   = kingpin.Flag("version", "show version and exit").Default().Bool()
		logLevel      = kingpin.Flag("log-level", "set log level: debug, info, warning, error").Default("info").Envar("LOG_LEVEL").String()
		configFile    = kingpin.Flag("config-file", "path to the instance registry file").Default("./config.json").Envar("CONFIG_FILE").String()
		monitorDir    = kingpin.Flag("monitor-dir", "root directory of the snapshot tree").Default("./monitor").Envar("MONITOR_DIR").String()
		once          = kingpin.Flag("once", "run a single collection pass and exit").Bool()
		interval      = kingpin.Flag("interval", "seconds between collection passes").Default("60").Envar("MONITOR_INTERVAL").Int()
		maxWorkers    = kingpin.Flag("max-workers", "maximum parallel instance collections").Default("10").Envar("MAX_WORKERS").Int()
		listenAddress = kingpin.Flag("listen-address", "address for the /metrics endpoint, empty disables it").Default("").Envar("LISTEN_ADDRESS").String()
	)
	kingpin.Parse()
	log.SetLevel(*logLevel)
	log.SetApplication(appName)

	if *showVersion {
		fmt.Printf("%s %s-%s\n", appName, gitCommit, gitBranch)
		os.Exit(0)
	}

	reg, err := registry.Load(*configFile)
	if err != nil {
		log.Errorf("Cannot start %s, unable to load config: %s", appName, err)
		os.Exit(1)
	}
	if err := reg.Validate(); err != nil {
		log.Errorf("Cannot start %s, unable to validate config: %s", appName, err)
		os.Exit(1)
	}

	config := scheduler.Config{
		RootDir:      *monitorDir,
		MaxWorkers:   *maxWorkers,
		Interval:     time.Duration(*interval) * time.Second,
		AlertEnabled: alertEnabled(),
	}
	sched := scheduler.New(reg, threshold.FromEnv(), config)

	ctx, cancel := context.WithCancel(context.Background())
	go telemetry.Serve(ctx, *listenAddress)

	if *once {
		report := sched.RunOnce(ctx)
		cancel()
		if report.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	var doExit = make(chan error, 2)
	done := make(chan struct{})
	go func() {
		doExit <- listenSignals()
		cancel()
	}()

	go func() {
		err := sched.Start(ctx)
		close(done)
		doExit <- err
		cancel()
	}()

	log.Warnf("shutdown: %s", <-doExit)

	// let in-flight runners finish the current tick before exiting
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("shutdown: grace period expired, abandoning in-flight runners")
	}
}

// alertEnabled reads the ALERT_ENABLED switch; alert logging is on unless
// explicitly disabled.
func alertEnabled() bool {
	switch strings.ToLower(os.Getenv("ALERT_ENABLED")) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}

func listenSignals() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	return fmt.Errorf("got %s", <-c)
}
