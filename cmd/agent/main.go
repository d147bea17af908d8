// Command agent is the monitoring agent daemon: it loads configuration,
// runs the claim workflow if no API key is configured, and then hands off
// to the supervisor for the life of the process.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smotra-monitoring/agent/internal/agent"
	"github.com/smotra-monitoring/agent/internal/agentconfig"
	"github.com/smotra-monitoring/agent/internal/claim"
	"github.com/smotra-monitoring/agent/internal/logging"
	"github.com/smotra-monitoring/agent/internal/metrics"
	"github.com/smotra-monitoring/agent/internal/model"
	"github.com/smotra-monitoring/agent/internal/probe"
	"github.com/smotra-monitoring/agent/internal/reload"
)

var (
	configPath  = flag.String("config", "./config.toml", "Path to the agent's TOML configuration file.")
	logLevel    = flag.String("log-level", "info", "Log filtering level. Possible values: \"error\", \"warn\", \"info\", \"debug\"")
	logFormat   = flag.String("log-format", logging.LogFormatLogfmt, fmt.Sprintf("Log format to use. Possible options: %s or %s", logging.LogFormatLogfmt, logging.LogFormatJSON))
	genConfig   = flag.Bool("gen-config", false, "Write a default configuration file to --config and exit.")
	pingTimeout = flag.Duration("ping-timeout", 2*time.Second, "Per-echo ICMP timeout.")
	debugAddr   = flag.String("listen-address", ":8080", "The address to expose the /metrics and /debug/pprof debug listener on.")
)

func main() {
	flag.Parse()
	if err := runMain(); err != nil {
		stdlog.Fatalf("Error: %+v", errors.Wrapf(err, "%s", flag.Arg(0)))
	}
}

func runMain() error {
	logger := logging.NewLogger(*logLevel, *logFormat, "agent", os.Stderr)

	if *genConfig {
		if err := agentconfig.SaveSecure(model.Default(), *configPath); err != nil {
			return err
		}
		abs, err := filepath.Abs(*configPath)
		if err != nil {
			abs = *configPath
		}
		fmt.Println(abs)
		return nil
	}

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		level.Error(logger).Log("msg", "config file not found", "path", *configPath)
		os.Exit(1)
	}

	cfg, err := agentconfig.Load(*configPath)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		return err
	}

	if !cfg.Server.IsConfigured() {
		level.Info(logger).Log("msg", "no api key configured, starting claim workflow")
		creds, err := claim.Run(context.Background(), logger, claim.Config{
			URL:                    cfg.Server.URL,
			VerifyTLS:              cfg.Server.VerifyTLS,
			TimeoutSecs:            cfg.Server.TimeoutSecs,
			PollIntervalSecs:       cfg.Server.Claiming.PollIntervalSecs,
			MaxRegistrationRetries: cfg.Server.Claiming.MaxRegistrationRetries,
		}, cfg.AgentID, cfg.Version)
		if err != nil {
			return errors.Wrap(err, "claim workflow")
		}

		agentconfig.ApplyCredentials(&cfg, creds.APIKey, creds.AgentID)
		if err := agentconfig.SaveSecure(cfg, *configPath); err != nil {
			return errors.Wrap(err, "persist credentials")
		}
	}

	if err := agentconfig.Validate(cfg); err != nil {
		level.Error(logger).Log("msg", "config invalid after claim", "err", err)
		return err
	}

	m := metrics.New()

	prober, err := probe.NewICMPProber(*pingTimeout, cfg.Monitoring.PingCount)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open ICMP socket; requires CAP_NET_RAW or root", "err", err)
		os.Exit(1)
	}
	defer prober.Close()

	reloader := reload.New(logger, *configPath)
	sup := agent.New(logger, m, prober, cfg, reloader)

	g := &run.Group{}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	debugSrv := &http.Server{Addr: *debugAddr, Handler: mux}
	g.Add(func() error {
		level.Info(logger).Log("msg", "starting debug listener", "addr", *debugAddr)
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "starting debug listener")
		}
		return nil
	}, func(error) {
		if err := debugSrv.Close(); err != nil {
			level.Error(logger).Log("msg", "failed to stop debug listener", "err", err)
		}
	})

	reloadCtx, cancelReload := context.WithCancel(context.Background())
	sighup := make(chan struct{}, 1)
	registerSighupListener(sighup)
	g.Add(func() error {
		return reloader.Run(reloadCtx.Done(), sighup)
	}, func(error) { cancelReload() })

	g.Add(func() error {
		return sup.Start(context.Background())
	}, func(error) { sup.Stop() })

	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	return g.Run()
}
