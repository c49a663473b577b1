package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"boorubot/pkg/bus"
	"boorubot/pkg/channel"
	"boorubot/pkg/channel/telegram"
	"boorubot/pkg/config"
	"boorubot/pkg/danbooru"
	"boorubot/pkg/gateway"
	"boorubot/pkg/logger"
	"boorubot/pkg/relay"

	"github.com/spf13/cobra"
)

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", "cmd.gateway")

	adapter, err := telegram.NewAdapter(cfg.Telegram, appLogger)
	if err != nil {
		return fmt.Errorf("configure telegram channel: %w", err)
	}

	events := bus.NewEventBus()
	defer events.Close()

	svc, err := newGatewayService(cfg, adapter, events, appLogger)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Bot started, waiting for messages", "channel", adapter.Name(), "prefix", cfg.Danbooru.PostPrefix(), "env_file", cfg.EnvFile)
	if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Gateway runtime failed", "error", err)
		return err
	}

	log.Info("Bot stopped")
	return nil
}

// newGatewayService wires the relay between adapter and the Danbooru client.
func newGatewayService(cfg *config.Config, adapter channel.Adapter, events *bus.EventBus, log *slog.Logger) (*gateway.Service, error) {
	posts := danbooru.NewClient(cfg.Danbooru, nil, log)

	relaySvc, err := relay.NewService(cfg.Danbooru.PostPrefix(), posts, adapter, events, log)
	if err != nil {
		return nil, fmt.Errorf("initialize relay: %w", err)
	}

	svc, err := gateway.NewService(cfg.Gateway, adapter, relaySvc.Route, events, log)
	if err != nil {
		return nil, fmt.Errorf("initialize gateway service: %w", err)
	}

	return svc, nil
}
