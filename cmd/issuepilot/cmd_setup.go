package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/issuepilot/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("IssuePilot Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Devin.APIKey = prompt(scanner, "Devin API key", cfg.Devin.APIKey)
		cfg.Devin.BaseURL = prompt(scanner, "Devin API base URL", cfg.Devin.BaseURL)
		if n, err := strconv.Atoi(prompt(scanner, "Issue body token budget (0 = unlimited)", strconv.Itoa(cfg.Devin.MaxIssueTokens))); err == nil && n >= 0 {
			cfg.Devin.MaxIssueTokens = n
		}

		cfg.GitHub.Token = prompt(scanner, "GitHub token (optional)", cfg.GitHub.Token)

	store:
		for {
			cfg.Store = prompt(scanner, "Session store (json, sqlite, memory)", cfg.Store)
			switch cfg.Store {
			case "json", "sqlite", "memory":
				break store
			}
			fmt.Println("Unknown store.")
		}
		cfg.PollInterval = prompt(scanner, "Poll interval", cfg.PollInterval)
		cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			chat := ""
			if cfg.Telegram.ChatID != 0 {
				chat = strconv.FormatInt(cfg.Telegram.ChatID, 10)
			}
			if id, err := strconv.ParseInt(prompt(scanner, "Telegram chat id", chat), 10, 64); err == nil {
				cfg.Telegram.ChatID = id
			}
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
