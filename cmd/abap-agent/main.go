package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/backend"
	"github.com/xaenox/abap-agent/internal/server"
	"github.com/xaenox/abap-agent/pkg/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		backendName string
		port        int
	)

	cmd := &cobra.Command{
		Use:   "abap-agent",
		Short: "ABAP Agent API - relay between the web client and a code-generation backend",
		Long: `ABAP Agent API forwards chat messages and uploaded specifications either to
an assistant thread (polling each run until it finishes) or to a workflow
webhook, and returns the generated text.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if backendName != "" {
				cfg.Backend = backendName
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	cmd.Flags().StringVar(&backendName, "backend", "", "override backend (assistant or workflow)")
	cmd.Flags().IntVar(&port, "port", 0, "override listen port")
	return cmd
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = level
	return zc.Build()
}

func run(cfg *config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	b, err := backend.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create backend", zap.Error(err))
		return err
	}
	logger.Info("Backend selected", zap.String("backend", b.Name()))

	handler := server.New(b, server.Options{
		Version:          version,
		Origins:          cfg.Server.Origins(),
		Development:      cfg.Server.IsDevelopment(),
		MaxFileSize:      cfg.Server.MaxFileSize,
		AllowedFileTypes: cfg.Server.AllowedFileTypes,
	}, logger.Named("http")).Handler()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}
