package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/mcp"
	"github.com/fyrsmithlabs/recalld/pkg/memory"
	"github.com/fyrsmithlabs/recalld/pkg/memory/remote"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve memory tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/recalld/config.yaml)")
	return cmd
}

func runServe(configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing memory provider: %w", err)
	}

	server, err := mcp.NewServer(&mcp.Config{
		Name:          "recalld",
		Version:       version,
		DefaultUserID: cfg.MCP.UserID,
		Logger:        logger,
	}, provider)
	if err != nil {
		_ = provider.Close()
		return err
	}
	defer server.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("recalld starting",
		zap.String("version", version),
		zap.String("mode", cfg.MCP.Mode),
	)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("recalld stopped")
	return nil
}

// buildProvider resolves the configured mode into a concrete memory
// provider: the embedded facade in local mode, the platform client in
// platform mode. This is the only place the mode is inspected.
func buildProvider(cfg *config.Config, logger *zap.Logger) (memory.Provider, error) {
	switch cfg.MCP.Mode {
	case config.ModePlatform:
		return remote.NewClient(remote.Config{
			APIKey: cfg.MCP.APIKey.Value(),
			Host:   cfg.MCP.Host,
			Logger: logger,
		})
	case config.ModeLocal:
		return memory.New(memory.Config{
			Embedding: memory.EmbeddingConfig{
				Provider:   cfg.Embedding.Provider,
				Model:      cfg.Embedding.Model,
				BaseURL:    cfg.Embedding.BaseURL,
				Dimensions: cfg.Embedding.Dimensions,
				Timeout:    cfg.Embedding.Timeout,
				CacheSize:  cfg.Embedding.CacheSize,
			},
			VectorStore: memory.VectorStoreConfig{
				Provider:       cfg.VectorStore.Provider,
				CollectionName: cfg.VectorStore.CollectionName,
				OnDisk:         cfg.VectorStore.OnDisk,
				Path:           cfg.VectorStore.Path,
				Compress:       cfg.VectorStore.Compress,
				Host:           cfg.VectorStore.Host,
				Port:           cfg.VectorStore.Port,
				APIKey:         cfg.VectorStore.APIKey.Value(),
				UseTLS:         cfg.VectorStore.UseTLS,
			},
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.MCP.Mode)
	}
}
