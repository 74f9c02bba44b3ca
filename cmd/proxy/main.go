package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/monastery360/offline-proxy/internal/app"
	"github.com/monastery360/offline-proxy/internal/config"
	"github.com/monastery360/offline-proxy/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := setupLogging(cfg.Log); err != nil {
		log.Fatalf("Invalid log configuration: %v", err)
	}

	metrics.Init()

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create proxy: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, cfg, a); err != nil {
		logrus.Errorf("Server failed: %v", err)
		_ = a.Close()
		os.Exit(1)
	}
	if err := a.Close(); err != nil {
		logrus.Errorf("Failed to close cache: %v", err)
	}
}

func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func run(ctx context.Context, configPath string, cfg *config.Config, a *app.App) error {
	// Startup install failures are not fatal: requests fall back to the
	// network until a deploy succeeds.
	if err := a.Install(ctx); err != nil {
		logrus.Errorf("Initial install of %s failed: %v", cfg.App.Version, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Proxy.Start()
	})

	var control *http.Server
	if cfg.Server.ControlPort != 0 {
		control = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.ControlPort),
			Handler:           a.Control.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logrus.Infof("Control channel listening on port %d", cfg.Server.ControlPort)
			if err := control.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			a.Reload(ctx, next)
		})
		if err != nil {
			logrus.Errorf("Config watcher stopped, deploys need a restart: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logrus.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if control != nil {
			if err := control.Shutdown(shutdownCtx); err != nil {
				logrus.Errorf("Control channel shutdown: %v", err)
			}
		}
		return a.Proxy.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
