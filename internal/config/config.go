package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/botforge/internal/logger"
)

// Defaults mirror the limits the system was designed around.
const (
	DefaultMaxBots           = 10
	DefaultMinDescriptionLen = 20
	DefaultMaxCodeLen        = 50000
	DefaultStopGrace         = 5 * time.Second
	DefaultConfirmWindow     = 2 * time.Second
	DefaultGenTimeout        = 30 * time.Second
)

// Config is the top-level TOML structure.
type Config struct {
	Daemon    DaemonConfig    `toml:"daemon" mapstructure:"daemon"`
	Generator GeneratorConfig `toml:"generator" mapstructure:"generator"`
	Executor  ExecutorConfig  `toml:"executor" mapstructure:"executor"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
}

type DaemonConfig struct {
	Listen        string `toml:"listen" mapstructure:"listen"`
	BasePath      string `toml:"base_path" mapstructure:"base_path"`
	MetricsListen string `toml:"metrics_listen" mapstructure:"metrics_listen"`
}

type GeneratorConfig struct {
	BaseURL           string        `toml:"base_url" mapstructure:"base_url"`
	APIKey            string        `toml:"api_key" mapstructure:"api_key"`
	Model             string        `toml:"model" mapstructure:"model"`
	Timeout           time.Duration `toml:"timeout" mapstructure:"timeout"`
	MaxCodeLen        int           `toml:"max_code_len" mapstructure:"max_code_len"`
	MinDescriptionLen int           `toml:"min_description_len" mapstructure:"min_description_len"`
}

type ExecutorConfig struct {
	MaxBots       int           `toml:"max_bots" mapstructure:"max_bots"`
	StopGrace     time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	ConfirmWindow time.Duration `toml:"confirm_window" mapstructure:"confirm_window"`
	BotsDir       string        `toml:"bots_dir" mapstructure:"bots_dir"`
	Interpreter   string        `toml:"interpreter" mapstructure:"interpreter"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type HistoryConfig struct {
	ClickHouseAddr  string `toml:"clickhouse_addr" mapstructure:"clickhouse_addr"`
	ClickHouseURL   string `toml:"clickhouse_url" mapstructure:"clickhouse_url"`
	ClickHouseTable string `toml:"clickhouse_table" mapstructure:"clickhouse_table"`
	OpenSearchURL   string `toml:"opensearch_url" mapstructure:"opensearch_url"`
	OpenSearchIndex string `toml:"opensearch_index" mapstructure:"opensearch_index"`
}

// Default returns a Config with every knob at its built-in value.
func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			Listen:   ":8080",
			BasePath: "/api",
		},
		Generator: GeneratorConfig{
			BaseURL:           "https://api.onlysq.ru/v1",
			Model:             "gpt-4o-mini",
			Timeout:           DefaultGenTimeout,
			MaxCodeLen:        DefaultMaxCodeLen,
			MinDescriptionLen: DefaultMinDescriptionLen,
		},
		Executor: ExecutorConfig{
			MaxBots:       DefaultMaxBots,
			StopGrace:     DefaultStopGrace,
			ConfirmWindow: DefaultConfirmWindow,
			BotsDir:       "generated_bots",
			Interpreter:   "python3",
		},
		Store: StoreConfig{DSN: "botforge.db"},
		Log:   logger.Config{Level: "info"},
	}
}

// Load reads a TOML config file and overlays it on Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values that would break invariants at runtime.
func (c Config) Validate() error {
	if c.Executor.MaxBots <= 0 {
		return fmt.Errorf("executor.max_bots must be positive, got %d", c.Executor.MaxBots)
	}
	if c.Executor.StopGrace <= 0 {
		return fmt.Errorf("executor.stop_grace must be positive, got %s", c.Executor.StopGrace)
	}
	if c.Generator.MinDescriptionLen < 0 {
		return fmt.Errorf("generator.min_description_len must not be negative")
	}
	if c.Generator.MaxCodeLen <= 0 {
		return fmt.Errorf("generator.max_code_len must be positive, got %d", c.Generator.MaxCodeLen)
	}
	return nil
}
