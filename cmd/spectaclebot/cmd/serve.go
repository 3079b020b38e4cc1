package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SpectacleRBX/SpectacleBot/pkg/config"
	"github.com/SpectacleRBX/SpectacleBot/pkg/discord"
	"github.com/SpectacleRBX/SpectacleBot/pkg/link"
	"github.com/SpectacleRBX/SpectacleBot/pkg/linkage"
	"github.com/SpectacleRBX/SpectacleBot/pkg/observability"
	"github.com/SpectacleRBX/SpectacleBot/pkg/roblox"
	"github.com/SpectacleRBX/SpectacleBot/pkg/rolesync"
	"github.com/SpectacleRBX/SpectacleBot/pkg/server"
	"github.com/SpectacleRBX/SpectacleBot/pkg/session"
)

var (
	host string
	port int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification service",
	Long: `Start the OAuth callback listener and the local link API.

Examples:
  # Start with the default config.yaml
  spectaclebot serve

  # Start on a different port
  spectaclebot serve --port 8080

  # Start with a custom config
  spectaclebot serve -c /path/to/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&host, "host", "",
		"Host to bind to (overrides config)")
	serveCmd.Flags().IntVar(&port, "port", 0,
		"Port to bind to (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Apply CLI overrides
	if host != "" {
		cfg.Server.Host = host
	}

	if port != 0 {
		cfg.Server.Port = port
	}

	log.WithFields(logrus.Fields{
		"host":            cfg.Server.Host,
		"port":            cfg.Server.Port,
		"session_backend": cfg.Session.Backend,
	}).Info("Starting spectaclebot")

	// Start observability service
	obsSvc := observability.NewService(log, cfg.Observability)
	if err := obsSvc.Start(ctx); err != nil {
		return fmt.Errorf("starting observability: %w", err)
	}

	defer func() {
		if stopErr := obsSvc.Stop(); stopErr != nil {
			log.WithError(stopErr).Error("Failed to stop observability service")
		}
	}()

	// Session store
	sessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("starting session store: %w", err)
	}

	defer func() {
		if stopErr := sessions.Stop(); stopErr != nil {
			log.WithError(stopErr).Error("Failed to stop session store")
		}
	}()

	// Linkage store
	links, err := newLinkageStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating linkage store: %w", err)
	}

	defer func() {
		if closeErr := links.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Failed to close linkage store")
		}
	}()

	// Clients and services
	metrics := obsSvc.Metrics()
	provider := roblox.NewClient(log, cfg.OAuth)
	discordClient := discord.NewClient(log, cfg.Discord)
	roles := rolesync.NewSynchronizer(log, &cfg.Verification, discordClient, provider, metrics)
	linkSvc := link.NewService(log, sessions, links, provider, roles, metrics, cfg.Server.SuccessURL)

	// Start the HTTP server
	srv := server.NewService(log, cfg.Server, linkSvc)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down...")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}

	return nil
}

// newSessionStore selects the session backend from configuration.
func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	if cfg.Session.Backend == config.SessionBackendRedis {
		return session.NewRedisStore(ctx, log, cfg.Session.Redis)
	}

	return session.NewMemoryStore(log), nil
}

// newLinkageStore selects the linkage backend from configuration.
func newLinkageStore(ctx context.Context, cfg *config.Config) (linkage.Store, error) {
	if cfg.Database.Path != "" {
		return linkage.NewSQLiteStore(ctx, cfg.Database.Path)
	}

	return linkage.NewMemoryStore(), nil
}
