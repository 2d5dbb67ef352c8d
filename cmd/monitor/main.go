package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xrpl-tracker/pkg/config"
	"github.com/xrpl-tracker/pkg/controller"
)

func main() {
	debug := flag.Bool("d", false, "debug logging")
	testMode := flag.Bool("t", false, "test mode: log trades instead of submitting them")
	configPath := flag.String("config", "", "config file path (default config.yaml + config.local.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg, *debug)
	log.Info().Msg("🔍 XRPL Tracker starting...")

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctrl, err := controller.New(cfg, *debug, *testMode)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	printBanner(cfg, *testMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; log.Info().Msg("shutting down..."); cancel() }()

	if err := ctrl.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("pipeline stopped")
		os.Exit(1)
	}
	log.Info().Msg("goodbye 👋")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config, debug bool) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		level = parsed
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

func printBanner(cfg *config.Config, testMode bool) {
	line := strings.Repeat("═", 60)
	fmt.Println("\n" + line)
	color.New(color.FgCyan, color.Bold).Println("  🔍 XRPL TRACKER - RUNNING")
	fmt.Println(line)
	fmt.Printf("  Endpoint:  %s\n", cfg.Network.WebsocketURL)
	fmt.Printf("  Target:    %s\n", cfg.Wallets.TargetWallet)
	fmt.Printf("  Dashboard: http://localhost:%d\n", cfg.DashboardPort)
	mode := color.GreenString("live")
	if testMode {
		mode = color.YellowString("test (no submissions)")
	}
	fmt.Printf("  Mode:      %s\n", mode)
	fmt.Println(line + "\n")
}
