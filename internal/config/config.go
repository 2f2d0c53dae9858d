package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the user's configuration
type Config struct {
	Engine      EngineKind `yaml:"engine"`
	LLMCommand  string     `yaml:"llm_command"`
	Model       string     `yaml:"model"`
	MaxTokens   int        `yaml:"max_tokens"`
	TestCommand string     `yaml:"test_cmd"`
	LintCommand string     `yaml:"lint_cmd"`
	AutoCommit  bool       `yaml:"auto_commit"`
	Mode        string     `yaml:"mode"`
	PromptsDir  string     `yaml:"prompts_dir"`

	HistoryDB   string `yaml:"history_db"`
	LogDir      string `yaml:"log_dir"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`

	// Sources lists the files that contributed, lowest precedence first.
	Sources []string `yaml:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Engine:     EngineCommand,
		Model:      "claude-sonnet-4-5",
		MaxTokens:  8192,
		AutoCommit: true,
		Mode:       "code",
		LogLevel:   "info",
	}
	if dir, err := globalConfigDir(); err == nil {
		cfg.HistoryDB = filepath.Join(dir, "history.db")
		cfg.LogDir = filepath.Join(dir, "logs")
	}
	return cfg
}

// globalConfigDir returns the global config directory path (~/.pair)
func globalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pair"), nil
}

// globalConfigPath returns the global config file path (~/.pair/config.yaml)
func globalConfigPath() (string, error) {
	dir, err := globalConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// projectConfigPath returns the project-level config path (.pair/config.yaml under root)
func projectConfigPath(root string) string {
	return filepath.Join(root, ".pair", "config.yaml")
}

// Exists checks if a config file exists (project or global)
func Exists(root string) bool {
	if _, err := os.Stat(projectConfigPath(root)); err == nil {
		return true
	}
	path, err := globalConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load builds the configuration for a session rooted at root. Defaults are
// overlaid by the global file, then the project file, then environment.
func Load(root string) (*Config, error) {
	cfg := DefaultConfig()

	var paths []string
	if p, err := globalConfigPath(); err == nil {
		paths = append(paths, p)
	}
	paths = append(paths, projectConfigPath(root))

	for _, p := range paths {
		loaded, err := overlay(cfg, p)
		if err != nil {
			return nil, err
		}
		if loaded {
			cfg.Sources = append(cfg.Sources, p)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// overlay decodes the YAML file at path onto cfg. Missing files are skipped.
func overlay(cfg *Config, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func (c *Config) applyEnv() {
	c.Engine = EngineKind(envStr("PAIR_ENGINE", string(c.Engine)))
	c.LLMCommand = envStr("PAIR_LLM_COMMAND", c.LLMCommand)
	c.Model = envStr("PAIR_MODEL", c.Model)
	c.MaxTokens = envInt("PAIR_MAX_TOKENS", c.MaxTokens)
	c.TestCommand = envStr("PAIR_TEST_CMD", c.TestCommand)
	c.LintCommand = envStr("PAIR_LINT_CMD", c.LintCommand)
	c.AutoCommit = envBool("PAIR_AUTO_COMMIT", c.AutoCommit)
	c.HistoryDB = envStr("PAIR_HISTORY_DB", c.HistoryDB)
	c.LogDir = envStr("PAIR_LOG_DIR", c.LogDir)
	c.LogLevel = envStr("PAIR_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = envStr("PAIR_METRICS_ADDR", c.MetricsAddr)
}

func (c *Config) validate() error {
	info, ok := LookupEngine(c.Engine)
	if !ok {
		return fmt.Errorf("engine must be one of %s, got %q", engineNames(), c.Engine)
	}
	if info.NeedsCommand && strings.TrimSpace(c.LLMCommand) == "" {
		return fmt.Errorf("llm_command must be set for the %s engine", c.Engine)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	switch c.Mode {
	case "code", "pkm", "cbt":
	default:
		return fmt.Errorf("mode must be code, pkm or cbt, got %q", c.Mode)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
