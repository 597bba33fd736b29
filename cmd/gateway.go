package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/gate"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	gatehttp "github.com/nextlevelbuilder/clawgate/internal/http"
	"github.com/nextlevelbuilder/clawgate/internal/store"
	"github.com/nextlevelbuilder/clawgate/internal/store/memstore"
	"github.com/nextlevelbuilder/clawgate/internal/telemetry"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open coordination store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("coordination store ready", "backend", cfg.Store.Backend, "prefix", cfg.Store.KeyPrefix)

	var gates []gate.Gate
	if cfg.Stop.Enabled {
		gates = append(gates, gate.NewStopGate(st, cfg.Store.KeyPrefix))
	}
	if cfg.Batching.Enabled {
		gates = append(gates, gate.NewCoordinator(st, cfg.Store.KeyPrefix,
			gate.WithWindow(time.Duration(cfg.Batching.WindowMS)*time.Millisecond),
			gate.WithPollInterval(time.Duration(cfg.Batching.PollIntervalMS)*time.Millisecond),
		))
	}
	chain := gate.NewChain(gates...)

	msgBus := bus.New()

	// Forwarded sequences go out on the bus; the embedding agent runtime
	// subscribes there. This binary stops at that boundary.
	forward := func(ctx context.Context, msgs []bus.InboundMessage) error {
		for _, m := range msgs {
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel:  m.Channel,
				ChatID:   m.ChatID,
				Content:  m.Content,
				Metadata: m.Metadata,
			})
			slog.Info("message forwarded",
				"id", m.ID, "channel", m.Channel, "chat_id", m.ChatID,
				"batched", m.Metadata[gate.MetaBatched] == "true")
		}
		return nil
	}

	runner := gateway.NewRunner(msgBus, chain, forward, cfg.Gateway.Workers)

	mux := nethttp.NewServeMux()
	gatehttp.NewIngressHandler(msgBus, st).RegisterRoutes(mux)
	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	srv := &nethttp.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("ingress listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			slog.Error("ingress server failed", "error", err)
			stop()
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gateway runner stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ingress shutdown failed", "error", err)
	}
	slog.Info("gateway stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		slog.Warn("memory store selected: coordination only covers this process")
		return memstore.New(), nil
	default:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return store.NewRedisStore(pingCtx, cfg.Store.RedisURL)
	}
}
