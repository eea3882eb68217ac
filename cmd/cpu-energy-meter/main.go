// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/cpu-energy-meter/config"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/exporter/stdout"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/logger"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/monitor"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/privilege"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/server"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/service"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/version"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}

	logger, err := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	if err := run(logger, cfg); err != nil {
		logger.Error("CPU energy meter terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func run(logger *slog.Logger, cfg *config.Config) error {
	// signals arriving while the meter starts are relayed once it runs
	signals := service.NewSignalHandler(
		slices.Concat(monitor.StopSignals, monitor.ReportSignals),
		service.WithSignalLogger(logger),
	)
	defer signals.Stop()

	meter, err := openMeter(logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := meter.reader.Close(); err != nil {
			logger.Warn("failed to close msr handles", "error", err)
		}
	}()

	if ptr.Deref(cfg.Privilege.Drop, true) {
		creds := privilege.Credentials{UID: cfg.Privilege.UID, GID: cfg.Privilege.GID}
		if err := privilege.Drop(creds, logger); err != nil {
			return fmt.Errorf("failed to drop privileges: %w", err)
		}
	}

	services, err := createServices(logger, cfg, meter, signals)
	if err != nil {
		return err
	}

	if err := service.Init(logger, services); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("Starting CPU energy meter", "interval", meter.interval, "nodes", meter.nodes)
	return service.Run(context.Background(), logger, services)
}

func createServices(logger *slog.Logger, cfg *config.Config, meter *meter, signals *service.SignalHandler) ([]service.Service, error) {
	logger.Debug("Creating all services")

	reporter := stdout.NewReporter(
		stdout.WithLogger(logger),
		stdout.WithFormat(stdout.Format(cfg.Output.Format)),
	)

	em := monitor.NewEnergyMonitor(meter.reader, meter.support, meter.units, meter.nodes,
		monitor.WithLogger(logger),
		monitor.WithInterval(meter.interval),
		monitor.WithReporter(reporter),
	)

	signals.Forward(func(sig os.Signal) {
		em.Notify(monitor.RequestForSignal(sig))
	})

	services := []service.Service{reporter, em, signals}
	if !cfg.APIServerEnabled() {
		return services, nil
	}

	// handlers are registered during Init, after the server itself
	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)
	services = append(services, apiServer, server.NewProbe(apiServer, em))

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		promOpts := []prometheus.OptionFn{
			prometheus.WithLogger(logger),
			prometheus.WithProcFSPath(cfg.Host.ProcFS),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
		}
		collectors, err := prometheus.CreateCollectors(em, promOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus collectors: %w", err)
		}
		services = append(services, prometheus.NewExporter(em, apiServer,
			append(promOpts, prometheus.WithCollectors(collectors))...,
		))
	}

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer))
	}

	return services, nil
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("CPU energy meter version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "cpu-energy-meter"
	app := kingpin.New(appName, "Measures the energy consumed by the CPU packages through the RAPL interface.")
	app.Version(version.Info().String())
	app.HelpFlag.Short('h')

	configFiles := app.Flag("config.file", "Path to a YAML configuration file, later files override earlier ones").Strings()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger, _ := logger.New("info", "text", os.Stderr)
	if len(*configFiles) > 0 {
		logger.Info("Loading configuration files", "paths", *configFiles)
	}
	cfg, err := config.FromFiles(*configFiles...)
	if err != nil {
		logger.Error("Error loading configuration", "error", err.Error())
		return nil, err
	}

	// command line flags override config file settings
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(os.Stderr, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}
