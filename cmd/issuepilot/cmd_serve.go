package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/issuepilot/internal/api"
	"github.com/user/issuepilot/internal/config"
	"github.com/user/issuepilot/internal/notify"
	"github.com/user/issuepilot/internal/watcher"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the poll watcher",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	path := pidPath(cfg)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

// buildNotifier always logs and adds Telegram when both token and chat id
// are configured.
func buildNotifier(cfg *config.Config) notify.Notifier {
	sinks := notify.Multi{notify.LogNotifier{Logger: slog.Default()}}
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		slog.Warn("telegram notifications disabled (token or chat_id not set)")
		return sinks
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		slog.Error("failed to create telegram notifier", "error", err)
		return sinks
	}
	slog.Info("telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	return append(sinks, tg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidFile, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	machine, closeStore, err := newMachine(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interval, _ := cfg.PollEvery()
	w := watcher.New(machine.Store(), machine, buildNotifier(cfg), watcher.Options{
		Interval:      interval,
		MaxConcurrent: cfg.MaxConcurrentPolls,
		Logger:        slog.Default(),
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	slog.Info("issuepilot started",
		"data_dir", cfg.DataDir,
		"store", cfg.Store,
		"log_level", cfg.LogLevel,
		"poll_interval", interval.String(),
		"max_concurrent_polls", cfg.MaxConcurrentPolls,
		"devin_base_url", cfg.Devin.BaseURL,
		"pid_file", pidFile,
	)

	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           api.NewServer(machine, newGitHub(cfg), slog.Default()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
				cancel()
			}
		}()
	} else {
		slog.Warn("http server disabled")
	}

	shutdown := func() {
		if httpServer == nil {
			return
		}
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return fmt.Errorf("http server stopped")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				shutdown()
				w.Stop()
				closeStore()
				os.Remove(pidFile)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			slog.Info("shutting down", "signal", sig)
			shutdown()
			return nil
		}
	}
}
