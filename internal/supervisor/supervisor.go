// Package supervisor owns the lifetime of every engine process.
//
// Ownership boundary:
// - spawning members one at a time, each gated on a readiness probe
// - the only component allowed to signal a member process
// - teardown of every tracked process, exactly once
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/danmuck/replctl/internal/console"
	"github.com/danmuck/replctl/internal/observability"
	"github.com/danmuck/replctl/internal/probe"
	"github.com/danmuck/replctl/internal/streams"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

var (
	ErrSpawnFailed      = errors.New("supervisor: spawn failed")
	ErrReadinessTimeout = errors.New("supervisor: node failed to start")
	ErrClosed           = errors.New("supervisor: already torn down")
)

// Launcher builds the command line for a member given the addresses of
// the members already running.
type Launcher interface {
	Command(node *cluster.Node, seeds []string) (string, []string)
}

type killFunc func(pid int, sig unix.Signal) error

type Config struct {
	Probe probe.Options
	// MakeDirs creates each member's storage path before launch.
	MakeDirs bool
}

type Supervisor struct {
	launcher Launcher
	registry *streams.Registry
	console  *console.Console
	cfg      Config
	kill     killFunc

	mu       sync.Mutex
	procs    []*Process
	seeds    []string
	torndown bool
}

func New(launcher Launcher, registry *streams.Registry, out *console.Console, cfg Config) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		registry: registry,
		console:  out,
		cfg:      cfg,
		kill:     unix.Kill,
	}
}

// Spawn starts node, registers its output stream and blocks until the
// node accepts connections. On readiness failure the process stays
// tracked so TerminateAll can reap it.
func (s *Supervisor) Spawn(ctx context.Context, node *cluster.Node) (cluster.Handle, error) {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	seeds := append([]string(nil), s.seeds...)
	s.mu.Unlock()

	bin, args := s.launcher.Command(node, seeds)
	if s.cfg.MakeDirs {
		if err := os.MkdirAll(node.DBPath, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, node.Prefix, err)
		}
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, node.Prefix, err)
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = childAttr()
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		log.Error().Msgf("supervisor.Spawn start failed node=%s bin=%s err=%v", node.Prefix, bin, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, node.Prefix, err)
	}
	_ = w.Close()

	proc := newProcess(node, cmd)
	go proc.reap()
	s.mu.Lock()
	s.procs = append(s.procs, proc)
	late := s.torndown
	s.mu.Unlock()
	if late {
		_ = proc.signal(s.kill, unix.SIGTERM)
	}
	node.SetHandle(proc)
	s.registry.Add(node.Prefix, node.Label(), r, proc)
	observability.RecordSpawn(string(node.Role))
	log.Info().Msgf("supervisor.Spawn started node=%s role=%s pid=%d addr=%s", node.Prefix, node.Role, proc.PID(), node.Address())

	target := probe.Target{
		Name: node.Prefix,
		Addr: node.Address(),
		Exited: func() bool {
			_, exited := proc.ExitStatus()
			return exited
		},
	}
	if err := probe.WaitUntilReady(ctx, target, s.cfg.Probe); err != nil {
		s.console.FailedToStart(node.Label())
		return proc, fmt.Errorf("%w: %s on %s: %w", ErrReadinessTimeout, node.Prefix, node.Address(), err)
	}

	s.mu.Lock()
	s.seeds = append(s.seeds, node.Address())
	s.mu.Unlock()
	log.Info().Msgf("supervisor.Spawn ready node=%s addr=%s", node.Prefix, node.Address())
	return proc, nil
}

// TerminateAll sends SIGTERM to every tracked process that is still
// running. Only the first call does anything; later calls are no-ops.
func (s *Supervisor) TerminateAll() error {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return nil
	}
	s.torndown = true
	procs := append([]*Process(nil), s.procs...)
	s.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if err := p.signal(s.kill, unix.SIGTERM); err != nil {
			log.Warn().Msgf("supervisor.TerminateAll signal failed node=%s pid=%d err=%v", p.node.Prefix, p.pid, err)
			errs = append(errs, fmt.Errorf("%s: %w", p.node.Prefix, err))
		}
	}
	log.Info().Msgf("supervisor.TerminateAll signalled processes=%d", len(procs))
	return errors.Join(errs...)
}

// Shutdown terminates every process, waits up to grace for them to be
// reaped, then kills whatever is left.
func (s *Supervisor) Shutdown(grace time.Duration) error {
	err := s.TerminateAll()
	if s.Wait(grace) {
		return err
	}

	s.mu.Lock()
	procs := append([]*Process(nil), s.procs...)
	s.mu.Unlock()
	for _, p := range procs {
		if kerr := p.signal(s.kill, unix.SIGKILL); kerr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", p.node.Prefix, kerr))
		}
	}
	log.Warn().Msgf("supervisor.Shutdown grace=%s expired, killed remaining processes", grace)
	return err
}

// Wait blocks until every tracked process has been reaped or timeout
// elapses, reporting whether all exited.
func (s *Supervisor) Wait(timeout time.Duration) bool {
	s.mu.Lock()
	procs := append([]*Process(nil), s.procs...)
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, p := range procs {
		select {
		case <-p.Done():
		case <-deadline.C:
			return false
		}
	}
	return true
}

// Processes returns the tracked handles in spawn order.
func (s *Supervisor) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Process(nil), s.procs...)
}
