// Package engine builds mongod invocations for replica set members.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/danmuck/replctl/internal/tools"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBinary = "mongod"
	// WitnessOplogSizeMB is the log retention for members that hold no data.
	WitnessOplogSizeMB = 1
)

var (
	ErrExecutableNotFound = errors.New("engine: mongod executable not found")
	ErrVersionFailed      = errors.New("engine: version query failed")
)

// TLSOptions enables transport security on the member listener.
type TLSOptions struct {
	Enabled        bool
	PEMKeyFile     string
	PEMKeyPassword string
}

// Options are the invocation settings shared by every member.
type Options struct {
	ReplSet     string
	OplogSizeMB int
	TLS         TLSOptions
	ExtraArgs   []string
}

// Mongod is the engine adapter for one resolved executable.
type Mongod struct {
	binary string
	opts   Options
	runner tools.CommandRunner
}

func NewMongod(binary string, opts Options) Mongod {
	return NewMongodWithRunner(binary, opts, tools.ExecRunner{})
}

func NewMongodWithRunner(binary string, opts Options, runner tools.CommandRunner) Mongod {
	resolved := strings.TrimSpace(binary)
	if resolved == "" {
		resolved = DefaultBinary
	}
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return Mongod{binary: resolved, opts: opts, runner: runner}
}

func (m Mongod) Binary() string {
	return m.binary
}

// Command returns the executable and arguments for node. seeds lists the
// members started before it.
func (m Mongod) Command(node *cluster.Node, seeds []string) (string, []string) {
	replSet := m.opts.ReplSet
	if len(seeds) > 0 {
		replSet += "/" + strings.Join(seeds, ",")
	}

	oplog := m.opts.OplogSizeMB
	if node.Witness() {
		oplog = WitnessOplogSizeMB
	}

	args := []string{
		"--port", strconv.Itoa(node.Port),
		"--dbpath", node.DBPath,
		"--replSet", replSet,
		"--oplogSize", strconv.Itoa(oplog),
	}
	if m.opts.TLS.Enabled {
		args = append(args, "--tlsMode", "requireTLS", "--tlsCertificateKeyFile", m.opts.TLS.PEMKeyFile)
		if m.opts.TLS.PEMKeyPassword != "" {
			args = append(args, "--tlsCertificateKeyFilePassword", m.opts.TLS.PEMKeyPassword)
		}
	}
	args = append(args, m.opts.ExtraArgs...)
	return m.binary, args
}

// Version reports the first line of `mongod --version`.
func (m Mongod) Version(ctx context.Context) (string, error) {
	stdout, stderr, exitCode, err := m.runner.Run(ctx, m.binary, "--version")
	if err != nil {
		log.Warn().Msgf("engine.Mongod.Version failed bin=%s exit=%d stderr=%q", m.binary, exitCode, strings.TrimSpace(string(stderr)))
		return "", fmt.Errorf("%w: %v", ErrVersionFailed, err)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(stdout)), "\n")
	return strings.TrimSpace(first), nil
}

// ResolveExecutable finds mongod under mongoPath, then in the alternates,
// then on PATH. The error names every location searched.
func ResolveExecutable(mongoPath string, alternates ...string) (string, error) {
	candidates := make([]string, 0, len(alternates)+1)
	if p := strings.TrimSpace(mongoPath); p != "" {
		expanded, err := ExpandHome(p)
		if err != nil {
			return "", err
		}
		if filepath.Base(expanded) != DefaultBinary {
			expanded = filepath.Join(expanded, DefaultBinary)
		}
		candidates = append(candidates, expanded)
	}
	candidates = append(candidates, alternates...)

	for _, c := range candidates {
		if isExecutable(c) {
			return c, nil
		}
	}
	if found, err := exec.LookPath(DefaultBinary); err == nil {
		return found, nil
	}
	searched := append(candidates, "$PATH")
	return "", fmt.Errorf("%w: searched %s", ErrExecutableNotFound, strings.Join(searched, ", "))
}

// DefaultAlternates is the fallback search list for developer checkouts.
func DefaultAlternates() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, "work", "mongo", DefaultBinary)}
}

func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
