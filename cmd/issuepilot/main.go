package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/issuepilot/internal/config"
	"github.com/user/issuepilot/internal/github"
	"github.com/user/issuepilot/internal/lifecycle"
	"github.com/user/issuepilot/internal/state"
	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/pkg/devin"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "issuepilot",
	Short:         "Scope and fix GitHub issues with Devin sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config, exiting on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openStore opens the configured session backend. The returned close func
// is never nil.
func openStore(cfg *config.Config) (types.SessionStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case "memory":
		return state.NewMemoryStore(), noop, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err := state.NewSQLiteStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return state.NewJSONStore(cfg.DataDir), noop, nil
	}
}

func newAgent(cfg *config.Config) *devin.Client {
	if cfg.Devin.APIKey == "" {
		slog.Warn("devin.api_key is not set; remote calls will be rejected")
	}
	return devin.New(devin.Config{
		BaseURL:        cfg.Devin.BaseURL,
		APIKey:         cfg.Devin.APIKey,
		MaxIssueTokens: cfg.Devin.MaxIssueTokens,
	})
}

func newGitHub(cfg *config.Config) *github.Client {
	return github.New(github.Config{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Logger:  slog.Default(),
	})
}

// newMachine wires the configured store and agent into a state machine.
func newMachine(cfg *config.Config) (*lifecycle.Machine, func() error, error) {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return lifecycle.New(store, newAgent(cfg), slog.Default()), closeStore, nil
}

// parseIssueArgs parses "<owner/repo> <number>".
func parseIssueArgs(args []string) (owner, repo string, number int, err error) {
	owner, repo, err = parseRepo(args[0])
	if err != nil {
		return "", "", 0, err
	}
	number, err = strconv.Atoi(strings.TrimPrefix(args[1], "#"))
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid issue number: %s", args[1])
	}
	return owner, repo, number, nil
}

func parseRepo(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q: want owner/repo", s)
	}
	return owner, repo, nil
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "issuepilot.pid")
}
