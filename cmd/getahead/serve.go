package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poirierunited/get-ahead-ai/internal/app"
	"github.com/poirierunited/get-ahead-ai/internal/config"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
)

func serveCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and voice session server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.listen_addr)")
	return cmd
}

func serve(ctx context.Context, g *globals, addr string) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	// The watcher loads the file once now and again whenever it changes. Its
	// callback is only invoked from Run, after application is set.
	var application *app.App
	watcher, err := config.NewWatcher(g.configPath, func(old, next *config.Config) {
		application.Reload(old, next)
	})
	if err != nil {
		return explainMissing(g.configPath, err)
	}
	cfg := watcher.Current()
	if addr != "" {
		cfg.Server.ListenAddr = addr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.Level(cfg.Server.LogLevel))
	logger := app.NewLogger(os.Stderr, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("getahead starting",
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err = app.New(ctx, cfg,
		app.WithLogger(logger, level),
		app.WithWatcher(watcher),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			slog.Warn("close error", "err", err)
		}
	}()

	printStartupSummary(cfg)

	if err := application.Run(ctx); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       get-ahead, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", describeProvider(cfg.Providers.LLM))
	printRow("LLM fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	printRow("Voice", describeProvider(cfg.Providers.Voice))
	storage := "memory"
	switch {
	case cfg.Storage.PostgresDSN != "":
		storage = "postgres"
	case cfg.Storage.FeedbackFile != "":
		storage = "file"
	}
	printRow("Storage", storage)
	printRow("Rate limit", fmt.Sprintf("%s %d/%s", cfg.RateLimit.Backend, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func describeProvider(p config.ProviderEntry) string {
	switch {
	case p.Name == "":
		return "(not configured)"
	case p.Model != "":
		return p.Name + " / " + p.Model
	default:
		return p.Name
	}
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-13s : %-19s ║\n", label, value)
}
