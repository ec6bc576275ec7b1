package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pathindex "github.com/i5heu/ouroboros-pathindex"
	"github.com/i5heu/ouroboros-pathindex/apiServer"
	"github.com/i5heu/ouroboros-pathindex/internal/config"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := conf.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}
	logger := conf.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, conf, logger); err != nil {
		logger.WithError(err).Error("server error")
		os.Exit(1)
	}
}

func run(ctx context.Context, conf config.Config, logger *logrus.Logger) error {
	var rootID types.ID
	if conf.RootID != "" {
		id, err := types.ParseID(conf.RootID)
		if err != nil {
			return fmt.Errorf("parse root id: %w", err)
		}
		rootID = id
	}

	index, err := pathindex.New(pathindex.Config{
		Paths:          []string{conf.DataPath},
		MinimumFreeGB:  conf.MinimumFreeGB,
		RootID:         rootID,
		CreateRoot:     conf.CreateRoot,
		StrictSiblings: conf.StrictSiblings,
		GCInterval:     conf.GCInterval,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := index.Start(ctx); err != nil {
		return fmt.Errorf("start index: %w", err)
	}
	defer func() {
		if closeErr := index.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("error closing index")
		}
	}()

	server := &http.Server{
		Addr: conf.Listen,
		Handler: apiServer.New(index,
			apiServer.WithLogger(logger),
			apiServer.WithSecret(conf.APIToken),
			apiServer.WithMaxDepthOverhead(conf.MaxDepthOverhead),
			apiServer.WithCORSOrigins(conf.CORSOrigins...),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"listen": conf.Listen,
			"root":   index.RootID().String(),
		}).Info("server started")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
