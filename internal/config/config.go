package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir            string `json:"data_dir"`
	LogLevel           string `json:"log_level"`
	Store              string `json:"store"`
	PollInterval       string `json:"poll_interval"`
	MaxConcurrentPolls int    `json:"max_concurrent_polls"`
	Devin              struct {
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key" secret:"true"`
		MaxIssueTokens int    `json:"max_issue_tokens"`
	} `json:"devin"`
	GitHub struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token" secret:"true"`
	} `json:"github"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Telegram struct {
		Token  string `json:"token" secret:"true"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

// DefaultDir is where the config file and data live unless overridden.
func DefaultDir() string {
	return filepath.Join(os.Getenv("HOME"), ".issuepilot")
}

// DefaultPath is the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:            DefaultDir(),
		LogLevel:           "info",
		Store:              "json",
		PollInterval:       "5s",
		MaxConcurrentPolls: 4,
	}
	cfg.Devin.BaseURL = "https://api.devin.ai/v1"
	cfg.GitHub.BaseURL = "https://api.github.com"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8484"
	return cfg
}

// Load reads the config at path, writing defaults first if it does not
// exist. A .env file in the working directory or next to the config file
// is loaded into the environment, then environment variables override the
// file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	loadDotenv(".env", filepath.Join(filepath.Dir(path), ".env"))

	// Override from env (highest precedence)
	if apiKey := os.Getenv("DEVIN_API_KEY"); apiKey != "" {
		cfg.Devin.APIKey = apiKey
	}
	if baseURL := os.Getenv("DEVIN_BASE_URL"); baseURL != "" {
		cfg.Devin.BaseURL = baseURL
	}
	if ghToken := os.Getenv("GITHUB_TOKEN"); ghToken != "" {
		cfg.GitHub.Token = ghToken
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if dataDir := os.Getenv("ISSUEPILOT_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// loadDotenv loads each existing file. Variables already set win.
func loadDotenv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			_ = godotenv.Load(abs)
		}
	}
}

// PollEvery parses PollInterval.
func (c *Config) PollEvery() (time.Duration, error) {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", c.PollInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid poll_interval %q: must be positive", c.PollInterval)
	}
	return d, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Store {
	case "json", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid store %q: want json, sqlite or memory", c.Store)
	}
	if _, err := c.PollEvery(); err != nil {
		return err
	}
	if c.MaxConcurrentPolls < 1 {
		return fmt.Errorf("invalid max_concurrent_polls %d: must be at least 1", c.MaxConcurrentPolls)
	}
	if c.Devin.MaxIssueTokens < 0 {
		return fmt.Errorf("invalid devin.max_issue_tokens %d: must not be negative", c.Devin.MaxIssueTokens)
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	return writeJSON(path, cfg)
}

func writeDefaults(path string, cfg *Config) error {
	if err := writeJSON(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every config value keyed by dot path, with secrets
// masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Flatten(m), nil
}

// GetValue reads a single dot-path key from the config file.
func GetValue(path, key string) (any, error) {
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes a single dot-path key to the config file. raw is parsed
// as JSON when possible (numbers, booleans) and stored as a string
// otherwise.
func SetValue(path, key, raw string) error {
	flat, err := readFlat(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	flat[key] = v
	return writeJSON(path, Unflatten(flat))
}
