package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/wifi-phy-sim/internal/config"
	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/observability"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phy"
	"github.com/jeongseonghan/wifi-phy-sim/internal/scenario"
	"github.com/jeongseonghan/wifi-phy-sim/internal/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML scenario file. Built-in two-node link when empty.")
	logLevel := pflag.StringP("log-level", "l", "", "Override log level: debug, info, warn, error.")
	logFormat := pflag.String("log-format", "", "Override log format: text, json, logfmt.")
	mode := pflag.StringP("mode", "m", "", "Override the transmission mode, e.g. QPSK-3/4.")
	packets := pflag.IntP("packets", "n", -1, "Override the packet count of every flow.")
	serve := pflag.BoolP("serve", "s", false, "Serve the evaluation feed instead of exiting after one run.")
	addr := pflag.StringP("addr", "a", "", "Override the server address.")
	report := pflag.StringP("report", "r", "", "Override the strftime pattern of the report file, e.g. phy-%Y%m%d-%H%M%S.yaml.")
	trace := pflag.Bool("trace", false, "Export receive spans to stdout.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "Simulates 802.11a/p OFDM receivers sharing a medium and reports detection,\n")
		fmt.Fprintf(os.Stderr, "capture, SINR and bit error statistics.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *packets >= 0 {
		for i := range cfg.Flows {
			cfg.Flows[i].Packets = *packets
		}
	}
	if *serve {
		cfg.Server.Enabled = true
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *report != "" {
		cfg.Report.Pattern = *report
	}
	if *trace {
		cfg.Tracing.Enabled = true
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("phy-sim", "err", err)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, logger)

	collector, err := observability.NewPhyCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	runOnce := func(ctx context.Context, l phy.Listener) (*scenario.Report, error) {
		opts := []scenario.Option{scenario.WithLogger(logger), scenario.WithMetrics(collector)}
		if l != nil {
			opts = append(opts, scenario.WithListener(l))
		}
		rep, err := scenario.Run(ctx, cfg, opts...)
		if err != nil {
			return rep, err
		}
		summarize(logger, rep)
		return rep, writeReport(cfg.Report.Pattern, rep, logger)
	}

	if !cfg.Server.Enabled {
		_, err := runOnce(ctx, nil)
		return err
	}

	handlers := server.NewHandlers(runOnce, logger)
	srv := server.NewServer(cfg.Server.Addr, handlers, collector.Handler(), logger)
	if err := handlers.Start(ctx); err != nil {
		return err
	}
	return srv.Start(ctx)
}

func summarize(logger *log.Logger, rep *scenario.Report) {
	for _, f := range rep.Flows {
		logger.Info("flow", "src", f.Src, "mode", f.Mode, "sent", f.Sent, "failed", f.Failed)
	}
	for _, r := range rep.Receivers {
		logger.Info("receiver",
			"device", r.Device,
			"offered", r.Offered,
			"captured", r.Captured,
			"received", r.Received,
			"ok", r.FramesOK,
			"ber", r.BER,
			"sinr", fmt.Sprintf("%.1f dB", r.Sinr.Overall),
		)
	}
}

func writeReport(pattern string, rep *scenario.Report, logger *log.Logger) error {
	if pattern == "" {
		return nil
	}
	name, err := strftime.Format(pattern, time.Now())
	if err != nil {
		return fmt.Errorf("report pattern: %w", err)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()
	if err := rep.WriteYAML(f); err != nil {
		return err
	}
	logger.Info("report written", "path", name)
	return nil
}
