package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/danmuck/replctl/internal/engine"
	"github.com/danmuck/replctl/internal/probe"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultMongoPath     = "~/10gen/mongo/"
	DefaultDataDir       = "/data/db/replset/"
	DefaultSetSize       = 3
	DefaultOplogSizeMB   = 100
	DefaultPort          = 27017
	DefaultHost          = "localhost"
	DefaultName          = "foo"
	DefaultSettleDelay   = 10 * time.Second
	DefaultStatusBackoff = time.Second
	DefaultPollInterval  = time.Second
	DefaultPEMKeyFile    = "/data/db/mongocert.pem"
	DefaultPEMKeyPass    = "mongo"
	DefaultColor         = "auto"
)

type TLS struct {
	Enabled        bool   `toml:"enabled"`
	PEMKeyFile     string `toml:"pem_key_file"`
	PEMKeyPassword string `toml:"pem_key_password"`
}

// Config is the effective run configuration after file and flag
// overrides have been applied.
type Config struct {
	MongoPath     string
	DataDir       string
	SetSize       int
	Arbiters      int
	OplogSizeMB   int
	Port          int
	Host          string
	Name          string
	Reset         bool
	SettleDelay   time.Duration
	ProbeAttempts int
	ProbeInterval time.Duration
	StatusBackoff time.Duration
	PollInterval  time.Duration
	Color         string
	MetricsAddr   string
	TLS           TLS
}

func Default() Config {
	return Config{
		MongoPath:     DefaultMongoPath,
		DataDir:       DefaultDataDir,
		SetSize:       DefaultSetSize,
		OplogSizeMB:   DefaultOplogSizeMB,
		Port:          DefaultPort,
		Host:          DefaultHost,
		Name:          DefaultName,
		Reset:         true,
		SettleDelay:   DefaultSettleDelay,
		ProbeAttempts: probe.DefaultMaxAttempts,
		ProbeInterval: probe.DefaultPollInterval,
		StatusBackoff: DefaultStatusBackoff,
		PollInterval:  DefaultPollInterval,
		Color:         DefaultColor,
		TLS: TLS{
			PEMKeyFile:     DefaultPEMKeyFile,
			PEMKeyPassword: DefaultPEMKeyPass,
		},
	}
}

// Layout derives the cluster layout described by cfg.
func (c Config) Layout() cluster.Layout {
	return cluster.Layout{
		Name:      c.Name,
		Host:      c.Host,
		BasePort:  c.Port,
		DataDir:   c.DataDir,
		Size:      c.SetSize,
		Witnesses: c.Arbiters,
	}
}

func (c Config) Engine() engine.Options {
	return engine.Options{
		ReplSet:     c.Name,
		OplogSizeMB: c.OplogSizeMB,
		TLS: engine.TLSOptions{
			Enabled:        c.TLS.Enabled,
			PEMKeyFile:     c.TLS.PEMKeyFile,
			PEMKeyPassword: c.TLS.PEMKeyPassword,
		},
	}
}

func (c Config) Probe() probe.Options {
	opts := probe.DefaultOptions()
	opts.MaxAttempts = c.ProbeAttempts
	opts.PollInterval = c.ProbeInterval
	return opts
}

func Validate(cfg Config) error {
	if err := cfg.Layout().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config missing data_dir")
	}
	if cfg.OplogSizeMB < 1 {
		return fmt.Errorf("oplog_size must be positive, got %d", cfg.OplogSizeMB)
	}
	if cfg.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	if err := cfg.Probe().Validate(); err != nil {
		return err
	}
	if cfg.StatusBackoff <= 0 {
		return fmt.Errorf("status_backoff must be positive")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Color)) {
	case "auto", "always", "never", "on", "off", "true", "false":
	default:
		return fmt.Errorf("color must be auto, always or never, got %q", cfg.Color)
	}
	if cfg.TLS.Enabled && strings.TrimSpace(cfg.TLS.PEMKeyFile) == "" {
		return fmt.Errorf("tls enabled without pem_key_file")
	}
	return nil
}

// document is the on-disk shape; durations are Go duration strings.
type document struct {
	MongoPath     string `toml:"mongo_path"`
	DataDir       string `toml:"data_dir"`
	SetSize       int    `toml:"set_size"`
	Arbiters      int    `toml:"arbiters"`
	OplogSize     int    `toml:"oplog_size"`
	Port          int    `toml:"port"`
	Host          string `toml:"host"`
	Name          string `toml:"name"`
	Reset         bool   `toml:"reset"`
	SettleDelay   string `toml:"settle_delay"`
	ProbeAttempts int    `toml:"probe_attempts"`
	ProbeInterval string `toml:"probe_interval"`
	StatusBackoff string `toml:"status_backoff"`
	PollInterval  string `toml:"poll_interval"`
	Color         string `toml:"color"`
	MetricsAddr   string `toml:"metrics_addr,omitempty"`
	TLS           TLS    `toml:"tls"`
}

// Dump renders cfg as TOML in the same shape the replctl loader reads. The
// PEM password is masked.
func Dump(cfg Config) ([]byte, error) {
	doc := document{
		MongoPath:     cfg.MongoPath,
		DataDir:       cfg.DataDir,
		SetSize:       cfg.SetSize,
		Arbiters:      cfg.Arbiters,
		OplogSize:     cfg.OplogSizeMB,
		Port:          cfg.Port,
		Host:          cfg.Host,
		Name:          cfg.Name,
		Reset:         cfg.Reset,
		SettleDelay:   cfg.SettleDelay.String(),
		ProbeAttempts: cfg.ProbeAttempts,
		ProbeInterval: cfg.ProbeInterval.String(),
		StatusBackoff: cfg.StatusBackoff.String(),
		PollInterval:  cfg.PollInterval.String(),
		Color:         cfg.Color,
		MetricsAddr:   cfg.MetricsAddr,
		TLS:           cfg.TLS,
	}
	if doc.TLS.PEMKeyPassword != "" {
		doc.TLS.PEMKeyPassword = "********"
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("config dump failed: %w", err)
	}
	return data, nil
}

// LoadStrict parses path with unknown keys rejected. It is used by
// validation tooling; the runtime loader applies only defined keys.
func LoadStrict(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
