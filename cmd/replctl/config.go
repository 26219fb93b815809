package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/replctl/internal/config"
)

type fileTLS struct {
	Enabled        bool   `toml:"enabled"`
	PEMKeyFile     string `toml:"pem_key_file"`
	PEMKeyPassword string `toml:"pem_key_password"`
}

type fileConfig struct {
	MongoPath     string  `toml:"mongo_path"`
	DataDir       string  `toml:"data_dir"`
	SetSize       int     `toml:"set_size"`
	Arbiters      int     `toml:"arbiters"`
	OplogSize     int     `toml:"oplog_size"`
	Port          int     `toml:"port"`
	Host          string  `toml:"host"`
	Name          string  `toml:"name"`
	Reset         bool    `toml:"reset"`
	SettleDelay   string  `toml:"settle_delay"`
	ProbeAttempts int     `toml:"probe_attempts"`
	ProbeInterval string  `toml:"probe_interval"`
	StatusBackoff string  `toml:"status_backoff"`
	PollInterval  string  `toml:"poll_interval"`
	Color         string  `toml:"color"`
	MetricsAddr   string  `toml:"metrics_addr"`
	TLS           fileTLS `toml:"tls"`
}

// loadFileConfig applies the keys defined in path on top of cfg.
func loadFileConfig(path string, cfg config.Config) (config.Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("load replctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.Config{}, fmt.Errorf("load replctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("mongo_path") {
		cfg.MongoPath = strings.TrimSpace(raw.MongoPath)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("set_size") {
		cfg.SetSize = raw.SetSize
	}
	if meta.IsDefined("arbiters") {
		cfg.Arbiters = raw.Arbiters
	}
	if meta.IsDefined("oplog_size") {
		cfg.OplogSizeMB = raw.OplogSize
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("reset") {
		cfg.Reset = raw.Reset
	}
	if meta.IsDefined("probe_attempts") {
		cfg.ProbeAttempts = raw.ProbeAttempts
	}
	if meta.IsDefined("color") {
		cfg.Color = strings.TrimSpace(raw.Color)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"settle_delay", raw.SettleDelay, &cfg.SettleDelay},
		{"probe_interval", raw.ProbeInterval, &cfg.ProbeInterval},
		{"status_backoff", raw.StatusBackoff, &cfg.StatusBackoff},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return config.Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "pem_key_file") {
		cfg.TLS.PEMKeyFile = strings.TrimSpace(raw.TLS.PEMKeyFile)
	}
	if meta.IsDefined("tls", "pem_key_password") {
		cfg.TLS.PEMKeyPassword = raw.TLS.PEMKeyPassword
	}
	return cfg, nil
}
