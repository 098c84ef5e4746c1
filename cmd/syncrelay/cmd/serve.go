package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enflame-media/syncrelay/internal/app"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/logger"
	"github.com/enflame-media/syncrelay/internal/output"
)

var (
	devToken string
	devUser  string
	devRole  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync relay server",
	Long: `Run the sync relay server.

The relay accepts WebSocket connections on ` + constants.UpdatesPath + ` and serves
the operator API under /api/v1. It stops gracefully on SIGINT or SIGTERM.`,
	RunE: serveRun,
}

func init() {
	serveCmd.Flags().StringVar(&devToken, "dev-token", "",
		"Seed this bearer token into the memory token store (development only)")
	serveCmd.Flags().StringVar(&devUser, "dev-user", "dev-user", "User the --dev-token resolves to")
	serveCmd.Flags().StringVar(&devRole, "dev-role", "", "Role of the --dev-token (user or operator)")
	rootCmd.AddCommand(serveCmd)
}

func serveRun(cmd *cobra.Command, _ []string) error {
	cfg, err := getConfigFromContext(cmd)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Environment, cfg)
	logger.RegisterContextExtractor(logger.ConnectionIDExtractor{})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}

	if devToken != "" {
		if err = relay.SeedToken(ctx, devToken, devUser, devRole); err != nil {
			_ = relay.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("failed to seed development token: %w", err)
		}
		output.Warningf("Development token seeded for user %s", output.Bold(devUser))
	}

	port := strconv.Itoa(cfg.Port)
	output.Infof("Starting relay on :%s (Ctrl+C to stop)", port)
	output.Infof("Updates: ws://localhost:%s%s", port, constants.UpdatesPath)
	output.Infof("Health check: http://localhost:%s/api/v1/health", port)

	if err = relay.Run(ctx); err != nil {
		return err
	}
	output.Successf("Relay stopped")
	return nil
}
