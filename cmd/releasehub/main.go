package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/osgate/releasehub/internal/config"
	"github.com/osgate/releasehub/internal/handler"
	"github.com/osgate/releasehub/internal/logger"
	"github.com/osgate/releasehub/internal/seed"
)

func main() {
	root := &cobra.Command{
		Use:   "releasehub",
		Short: "Versioned artifact distribution server",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newSeedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the distribution server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	return cmd
}

func runServe(configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Initialize API handler
	api, err := handler.NewAPI(cfg, log)
	if err != nil {
		log.Fatal("failed to create API handler", zap.Error(err))
	}
	defer api.Close()

	// Create router
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		log.Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited properly")
	return nil
}

func newSeedCmd() *cobra.Command {
	var (
		storeRoot string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo projects and releases into an empty artifact store",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := seed.Run(storeRoot, force, log); err != nil {
				return err
			}
			log.Info("demo releases seeded", zap.String("root", storeRoot))
			return nil
		},
	}
	cmd.Flags().StringVar(&storeRoot, "root", "data/releases", "root directory of the artifact store")
	cmd.Flags().BoolVar(&force, "force", false, "wipe existing content under root before seeding")
	return cmd
}
