package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/scheduler"
)

// Config holds all bpmnkit configuration.
// Priority: flags > env vars > config.yaml > defaults.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DBPath     string `mapstructure:"db_path"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
	Layout     struct {
		Pitch int `mapstructure:"pitch"`
	} `mapstructure:"layout"`
	Store struct {
		Enabled bool `mapstructure:"enabled"`
		// VacuumSchedule is a cron expression for compacting the archive
		// while serving; empty disables it.
		VacuumSchedule string `mapstructure:"vacuum_schedule"`
	} `mapstructure:"store"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":4100")
	v.SetDefault("db_path", filepath.Join(bpmnkitDir(), "bpmnkit.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("layout.pitch", 0)
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.vacuum_schedule", "@weekly")
}

func bpmnkitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bpmnkit"
	}
	return filepath.Join(home, ".bpmnkit")
}

// loadConfig reads the layered configuration into a Config. A missing
// config.yaml in the default location is fine; a missing --config file is not.
func loadConfig(v *viper.Viper, cfgFile string) (Config, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(bpmnkitDir())
	}

	v.SetEnvPrefix("BPMNKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Layout.Pitch < 0 || c.Layout.Pitch > bpmn.MaxPitch {
		return fmt.Errorf("layout.pitch must be between 0 and %d, got %d", bpmn.MaxPitch, c.Layout.Pitch)
	}
	if c.Store.Enabled && c.DBPath == "" {
		return errors.New("db_path is required when store.enabled is set")
	}
	if c.Store.VacuumSchedule != "" {
		if err := scheduler.Validate(c.Store.VacuumSchedule); err != nil {
			return fmt.Errorf("store.vacuum_schedule: %w", err)
		}
	}
	return nil
}
