// Package config loads segfetch's configuration via viper, in the same
// shape itsmenewbie03-greg's internal/config loads its own: a YAML file
// under the user's config directory, defaults applied in code, and
// fsnotify-driven hot reload wired up by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// LoggingConfig configures InitLogger.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	Color      bool   `mapstructure:"color" yaml:"color"`
}

// DownloadsConfig holds default engine.DownloadOptions values and where
// output files land when the CLI doesn't receive an explicit path.
type DownloadsConfig struct {
	OutputDir             string `mapstructure:"output_dir" yaml:"output_dir"`
	MaxConcurrentSegments int    `mapstructure:"max_concurrent_segments" yaml:"max_concurrent_segments"`
	MinFreeSpaceBytes     int64  `mapstructure:"min_free_space_bytes" yaml:"min_free_space_bytes"`
}

// HistoryConfig points at the history ledger's sqlite database.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Config is the root configuration structure, decoded by viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Downloads DownloadsConfig `mapstructure:"downloads" yaml:"downloads"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
			Color:      true,
		},
		Downloads: DownloadsConfig{
			OutputDir:             filepath.Join(getStateDir(), "segfetch", "downloads"),
			MaxConcurrentSegments: 4,
		},
		History: HistoryConfig{
			Path: filepath.Join(getStateDir(), "segfetch", "history.db"),
		},
	}
}

// GetConfigDir returns $XDG_CONFIG_HOME/segfetch, or $HOME/.config/segfetch
// if XDG_CONFIG_HOME is unset.
func GetConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "segfetch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "segfetch"
	}
	return filepath.Join(home, ".config", "segfetch")
}

// getStateDir returns $XDG_STATE_HOME, or $HOME/.local/state if unset.
func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}

// InitializeDirs creates the config and state directories segfetch needs
// before configuration is loaded.
func InitializeDirs() error {
	for _, dir := range []string{GetConfigDir(), getStateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads configuration from cfgFile (or the default location when
// empty), applying defaults for anything unset, and returns the live
// *viper.Viper alongside the decoded Config so the caller can watch it for
// changes.
func Load(cfgFile string) (*Config, *viper.Viper, error) {
	v := viper.New()
	applyDefaults(v, defaultConfig())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(GetConfigDir())
	}

	v.SetEnvPrefix("SEGFETCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFoundErr := err.(viper.ConfigFileNotFoundError)
		if !notFoundErr && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, v, nil
}

func applyDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.color", cfg.Logging.Color)
	v.SetDefault("downloads.output_dir", cfg.Downloads.OutputDir)
	v.SetDefault("downloads.max_concurrent_segments", cfg.Downloads.MaxConcurrentSegments)
	v.SetDefault("downloads.min_free_space_bytes", cfg.Downloads.MinFreeSpaceBytes)
	v.SetDefault("history.path", cfg.History.Path)
}

// SaveDefaultConfig writes the default configuration as YAML to path, using
// viper's own encoder so no direct yaml dependency is needed here.
func SaveDefaultConfig(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	applyDefaults(v, defaultConfig())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
