package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrKareem1980/globed2/internal/central"
	"github.com/MrKareem1980/globed2/internal/config"
	"github.com/MrKareem1980/globed2/internal/cryptocodec"
	"github.com/MrKareem1980/globed2/internal/relay"
	"github.com/MrKareem1980/globed2/internal/rooms"
	"github.com/MrKareem1980/globed2/internal/tokenissuer"
)

const ConfigPath = "config/relayserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	path := ConfigPath
	if p := os.Getenv("GLOBED2_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("relay server starting",
		"reliable_port", cfg.ReliablePort,
		"datagram_port", cfg.DatagramPort,
		"standalone", cfg.Standalone)

	identity, err := cryptocodec.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("generating crypto identity: %w", err)
	}

	var centralClient relay.CentralClient
	var issuer relay.TokenIssuer
	if cfg.Standalone {
		centralClient = nil
		issuer = nil
	} else {
		centralClient = central.New(cfg.CentralBaseURL)
		issuer = tokenissuer.New(cfg.TokenIssuerBaseURL)
	}

	roomMgr := rooms.NewManager()

	srv := relay.NewServer(cfg, identity, centralClient, issuer, roomMgr)

	dispatcher, err := relay.NewDispatcher(srv)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	defer dispatcher.Close()

	slog.Info("relay server ready")
	if err := dispatcher.Run(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
