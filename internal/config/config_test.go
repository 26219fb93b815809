package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/danmuck/replctl/internal/testutil/testlog"
	"github.com/pelletier/go-toml/v2"
)

func TestDefaultIsValid(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	l := cfg.Layout()
	if l.Size != 3 || l.Witnesses != 0 || l.BasePort != 27017 || l.Name != "foo" {
		t.Fatalf("unexpected layout: %+v", l)
	}
	if eng := cfg.Engine(); eng.OplogSizeMB != 100 || eng.ReplSet != "foo" || eng.TLS.Enabled {
		t.Fatalf("unexpected engine options: %+v", eng)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]func(*Config){
		"witnesses":  func(c *Config) { c.Arbiters = c.SetSize },
		"size":       func(c *Config) { c.SetSize = 0 },
		"oplog":      func(c *Config) { c.OplogSizeMB = 0 },
		"probe":      func(c *Config) { c.ProbeAttempts = 0 },
		"backoff":    func(c *Config) { c.StatusBackoff = 0 },
		"color":      func(c *Config) { c.Color = "purple" },
		"tls":        func(c *Config) { c.TLS = TLS{Enabled: true} },
		"settle":     func(c *Config) { c.SettleDelay = -time.Second },
		"port range": func(c *Config) { c.Port = 65535 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	cfg := Default()
	cfg.Arbiters = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("one arbiter in three should be valid: %v", err)
	}
}

func TestDumpMasksPasswordAndParses(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.SetSize = 5
	cfg.Arbiters = 2
	cfg.SettleDelay = 3 * time.Second

	data, err := Dump(cfg)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.Contains(string(data), DefaultPEMKeyPass+`"`) {
		t.Fatalf("password leaked: %s", data)
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("dump is not valid toml: %v", err)
	}
	if doc.SetSize != 5 || doc.Arbiters != 2 || doc.SettleDelay != "3s" {
		t.Fatalf("unexpected round trip: %+v", doc)
	}
}

func TestWriteTemplateAndStrictLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "replctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := LoadStrict(path); err != nil {
		t.Fatalf("template should load strictly: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("set_sise = 3\n"), 0o600); err != nil {
		t.Fatalf("write bad: %v", err)
	}
	if err := LoadStrict(bad); err == nil {
		t.Fatalf("expected unknown key rejection")
	}
}

func TestLayoutFeedsDescriptors(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.SetSize, cfg.Arbiters = 5, 2
	nodes, err := cluster.BuildDescriptors(cfg.Layout())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if nodes[4].Port != 27021 || !nodes[1].Witness() || nodes[2].Witness() {
		t.Fatalf("unexpected nodes: %v", nodes)
	}
}
