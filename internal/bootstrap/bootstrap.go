// Package bootstrap drives one local replica set from empty directories
// to an initiated, healthy set, then tails member output until
// interrupted.
//
// Sequence:
// - spawn members one at a time, each gated on its readiness probe
// - initiate the set once on the last voting member
// - poll status until the set answers
// - tail output until interrupt; tear everything down on every exit path
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/danmuck/replctl/internal/console"
	"github.com/danmuck/replctl/internal/engine"
	"github.com/danmuck/replctl/internal/initiator"
	"github.com/danmuck/replctl/internal/observability"
	"github.com/danmuck/replctl/internal/probe"
	"github.com/danmuck/replctl/internal/streams"
	"github.com/danmuck/replctl/internal/supervisor"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsafeDataDir     = errors.New("bootstrap: refusing to reset data dir")
	ErrMultiplexerFailed = errors.New("bootstrap: output multiplexer failed")
)

// runMultiplexer is replaced in tests.
var runMultiplexer = func(ctx context.Context, m *streams.Multiplexer) error {
	return m.Run(ctx)
}

const (
	DefaultSettleDelay   = 10 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)

// Options is the resolved run configuration.
type Options struct {
	Layout        cluster.Layout
	Engine        engine.Options
	MongoPath     string
	Reset         bool
	SettleDelay   time.Duration
	Probe         probe.Options
	PollInterval  time.Duration
	StatusBackoff time.Duration
	ShutdownGrace time.Duration
	NoColor       bool
	Out           io.Writer
	MetricsAddr   string
}

// Spawner starts members and owns their teardown.
type Spawner interface {
	Spawn(ctx context.Context, node *cluster.Node) (cluster.Handle, error)
	Shutdown(grace time.Duration) error
}

// Deps overrides the collaborators Run would otherwise build. Zero
// values select the real mongod supervisor and driver client.
type Deps struct {
	Spawner  Spawner
	Client   initiator.Client
	Console  *console.Console
	Registry *streams.Registry
}

// Run executes the whole bootstrap. Cancelling ctx during setup aborts
// with the context error; cancelling it after the set is ready is a
// normal shutdown and returns nil.
func Run(ctx context.Context, opts Options, deps Deps) error {
	nodes, err := cluster.BuildDescriptors(opts.Layout)
	if err != nil {
		return err
	}

	out := deps.Console
	if out == nil {
		out = console.New(opts.Out, opts.NoColor)
	}
	reg := deps.Registry
	if reg == nil {
		reg = streams.NewRegistry()
	}
	spawner := deps.Spawner
	if spawner == nil {
		spawner, err = newMongodSupervisor(ctx, opts, reg, out)
		if err != nil {
			return err
		}
	}
	client := deps.Client
	if client == nil {
		client = initiator.MongoClient{TLS: opts.Engine.TLS.Enabled}
	}

	if opts.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := observability.Serve(metricsCtx, opts.MetricsAddr); err != nil {
				log.Warn().Msgf("bootstrap.Run metrics server stopped err=%v", err)
			}
		}()
	}

	mux := streams.NewMultiplexer(reg, out, opts.PollInterval)
	muxCtx, stopMux := context.WithCancel(context.Background())
	muxDone := make(chan struct{})
	// muxErr is written before muxDone closes and read only after.
	var muxErr error
	go func() {
		defer close(muxDone)
		defer func() {
			if r := recover(); r != nil {
				muxErr = fmt.Errorf("%w: panic: %v", ErrMultiplexerFailed, r)
				log.Error().Msgf("bootstrap.Run multiplexer panic=%v", r)
			}
		}()
		if err := runMultiplexer(muxCtx, mux); err != nil && !errors.Is(err, context.Canceled) {
			muxErr = fmt.Errorf("%w: %w", ErrMultiplexerFailed, err)
			log.Error().Msgf("bootstrap.Run multiplexer failed err=%v", err)
		}
	}()
	muxFailure := func() error {
		select {
		case <-muxDone:
			return muxErr
		default:
			return nil
		}
	}

	defer func() {
		grace := opts.ShutdownGrace
		if grace <= 0 {
			grace = DefaultShutdownGrace
		}
		if err := spawner.Shutdown(grace); err != nil {
			log.Warn().Msgf("bootstrap.Run teardown err=%v", err)
		}
		// let the multiplexer print final output and exit markers
		if reg.Len() > 0 {
			select {
			case <-muxDone:
			case <-time.After(grace):
			}
		}
		stopMux()
		<-muxDone
	}()

	for _, node := range nodes {
		if _, err := spawner.Spawn(ctx, node); err != nil {
			return fmt.Errorf("bootstrap: start %s: %w", node, err)
		}
	}
	log.Info().Msgf("bootstrap.Run all members reachable count=%d", len(nodes))
	cfg := cluster.NewConfig(opts.Layout.Name, nodes)

	if err := sleepCtx(ctx, opts.SettleDelay); err != nil {
		return err
	}

	target, ok := cluster.LastVoting(nodes)
	if !ok {
		return fmt.Errorf("bootstrap: no voting member in %d nodes", len(nodes))
	}
	in := initiator.New(client, opts.StatusBackoff)
	if _, err := in.Initiate(ctx, target.Address(), cfg); err != nil {
		return err
	}
	report, err := in.AwaitStable(ctx, cluster.Addresses(nodes))
	if err != nil {
		return err
	}

	if err := muxFailure(); err != nil {
		return err
	}
	out.Println(report.String())
	out.Println("*** READY ***")
	out.Println("")

	select {
	case <-ctx.Done():
		log.Info().Msg("bootstrap.Run interrupted, tearing down")
	case <-muxDone:
		if muxErr != nil {
			return muxErr
		}
		log.Warn().Msg("bootstrap.Run every member exited")
	}
	return nil
}

func newMongodSupervisor(ctx context.Context, opts Options, reg *streams.Registry, out *console.Console) (*supervisor.Supervisor, error) {
	bin, err := engine.ResolveExecutable(opts.MongoPath, engine.DefaultAlternates()...)
	if err != nil {
		return nil, err
	}
	if err := engine.ValidateTLS(opts.Engine.TLS); err != nil {
		return nil, err
	}
	engineOpts := opts.Engine
	if engineOpts.ReplSet == "" {
		engineOpts.ReplSet = opts.Layout.Name
	}
	mongod := engine.NewMongod(bin, engineOpts)
	if v, err := mongod.Version(ctx); err == nil {
		log.Info().Msgf("bootstrap.Run engine bin=%s version=%q", bin, v)
	}

	if opts.Reset {
		if err := ResetDataDir(opts.Layout.DataDir); err != nil {
			return nil, err
		}
	}
	return supervisor.New(mongod, reg, out, supervisor.Config{Probe: opts.Probe, MakeDirs: true}), nil
}

// ResetDataDir removes and recreates dir.
func ResetDataDir(dir string) error {
	clean := filepath.Clean(strings.TrimSpace(dir))
	if clean == "." || clean == string(filepath.Separator) || clean == "" {
		return fmt.Errorf("%w: %q", ErrUnsafeDataDir, dir)
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == clean {
		return fmt.Errorf("%w: %q is the home directory", ErrUnsafeDataDir, dir)
	}
	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("reset data dir %s: %w", clean, err)
	}
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", clean, err)
	}
	log.Info().Msgf("bootstrap.ResetDataDir wiped dir=%s", clean)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
