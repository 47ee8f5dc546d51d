package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/longtake/longtake-agent/internal/api"
	"github.com/longtake/longtake-agent/internal/config"
	"github.com/longtake/longtake-agent/internal/dispatch"
	"github.com/longtake/longtake-agent/internal/generate"
	"github.com/longtake/longtake-agent/internal/ledger"
	"github.com/longtake/longtake-agent/internal/logging"
	"github.com/longtake/longtake-agent/internal/media"
	"github.com/longtake/longtake-agent/internal/remote"
	"github.com/longtake/longtake-agent/internal/ui"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting longtake agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := ledger.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := ledger.NewRepository(database.Conn())

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  LONGTAKE AGENT v%-10s               ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:  http://127.0.0.1:%-30d ║\n", cfg.Port())
	fmt.Printf("║  Data Dir: %-47s ║\n", logging.SanitizePath(cfg.DataDir()))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	dispatchCfg := dispatch.Config{
		Override: cfg.Generator(),
		Remote: remote.Options{
			BaseURL:             cfg.ServiceURL(),
			DefaultWorkflowPath: cfg.WorkflowJSONPath(),
			OutputDir:           cfg.ServiceOutputDir(),
			ServiceRoot:         cfg.ServiceRoot(),
			SaveNodeID:          cfg.SaveNodeID(),
			PollTimeout:         cfg.PollTimeout(),
		},
		Logger: logging.WithComponent(logger, "dispatch"),
	}

	ffmpeg := media.NewFFmpeg(logging.WithComponent(logger, "media"))

	runner := generate.NewRunner(func(req generate.Request) (generate.Dispatcher, error) {
		return dispatch.Resolve(dispatchCfg, req)
	}, ffmpeg, repo, logging.WithComponent(logger, "runner"))

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Runner:     runner,
		Repository: repo,
		Logger:     logging.WithComponent(logger, "api"),
		StartTime:  startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner: runner,
			Logger: logging.WithComponent(logger, "tray"),
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()

		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					tray.Refresh()
				case <-quitCh:
					return
				}
			}
		}()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down active run", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
