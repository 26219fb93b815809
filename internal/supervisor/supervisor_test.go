package supervisor

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/danmuck/replctl/internal/console"
	"github.com/danmuck/replctl/internal/probe"
	"github.com/danmuck/replctl/internal/streams"
	"github.com/danmuck/replctl/internal/testutil/testlog"
	"golang.org/x/sys/unix"
)

type stubLauncher struct {
	bin    string
	script string
	seeds  [][]string
}

func (l *stubLauncher) Command(node *cluster.Node, seeds []string) (string, []string) {
	l.seeds = append(l.seeds, append([]string(nil), seeds...))
	if l.bin != "" {
		return l.bin, nil
	}
	return "/bin/sh", []string{"-c", l.script}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func probeOptions(ready func(addr string) bool) probe.Options {
	return probe.Options{
		MaxAttempts:  20,
		PollInterval: 5 * time.Millisecond,
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if ready(addr) {
				client, server := net.Pipe()
				_ = server.Close()
				return client, nil
			}
			return nil, errors.New("connection refused")
		},
	}
}

func testNodes(t *testing.T, size int) []*cluster.Node {
	t.Helper()
	nodes, err := cluster.BuildDescriptors(cluster.Layout{
		Name: "rs", BasePort: 41000, DataDir: filepath.Join(t.TempDir(), "db"), Size: size,
	})
	if err != nil {
		t.Fatalf("build nodes: %v", err)
	}
	return nodes
}

func newTestSupervisor(l Launcher, ready func(string) bool) (*Supervisor, *streams.Registry, *lockedBuffer, *atomic.Int32) {
	reg := streams.NewRegistry()
	out := &lockedBuffer{}
	sup := New(l, reg, console.New(out, true), Config{Probe: probeOptions(ready), MakeDirs: true})
	var kills atomic.Int32
	sup.kill = func(pid int, sig unix.Signal) error {
		kills.Add(1)
		return unix.Kill(pid, sig)
	}
	return sup, reg, out, &kills
}

func TestSpawnSerializesSeedsAndTeardownIsIdempotent(t *testing.T) {
	testlog.Start(t)
	l := &stubLauncher{script: "echo up; exec sleep 30"}
	sup, reg, _, kills := newTestSupervisor(l, func(string) bool { return true })
	nodes := testNodes(t, 3)

	for _, n := range nodes {
		if _, err := sup.Spawn(context.Background(), n); err != nil {
			t.Fatalf("spawn %s: %v", n.Prefix, err)
		}
		if n.Handle() == nil {
			t.Fatalf("%s: handle not recorded", n.Prefix)
		}
	}
	if reg.Len() != 3 {
		t.Fatalf("expected 3 registered streams, got %d", reg.Len())
	}
	if len(l.seeds[0]) != 0 || len(l.seeds[2]) != 2 || l.seeds[2][1] != nodes[1].Address() {
		t.Fatalf("unexpected seed lists: %v", l.seeds)
	}

	if err := sup.TerminateAll(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !sup.Wait(5 * time.Second) {
		t.Fatalf("processes did not exit after terminate")
	}
	if kills.Load() != 3 {
		t.Fatalf("expected 3 signals, got %d", kills.Load())
	}
	if err := sup.TerminateAll(); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if kills.Load() != 3 {
		t.Fatalf("second terminate re-signalled: %d", kills.Load())
	}
	for _, p := range sup.Processes() {
		code, exited := p.ExitStatus()
		if !exited || code != -int(unix.SIGTERM) {
			t.Fatalf("%s: unexpected exit state code=%d exited=%v", p.Node().Prefix, code, exited)
		}
	}
	if _, err := sup.Spawn(context.Background(), nodes[0]); !errors.Is(err, ErrClosed) {
		t.Fatalf("spawn after teardown should fail, got %v", err)
	}
}

func TestSpawnReadinessTimeoutWhenChildExits(t *testing.T) {
	testlog.Start(t)
	l := &stubLauncher{script: "echo boom; exit 3"}
	sup, _, out, _ := newTestSupervisor(l, func(string) bool { return false })
	nodes := testNodes(t, 2)

	start := time.Now()
	handle, err := sup.Spawn(context.Background(), nodes[0])
	if !errors.Is(err, ErrReadinessTimeout) || !errors.Is(err, probe.ErrTimeout) {
		t.Fatalf("expected readiness timeout, got %v", err)
	}
	if handle == nil {
		t.Fatalf("failed node should still be tracked")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("probe should stop early once the child exits")
	}
	if !strings.Contains(out.String(), "A0: failed to start") && !strings.Contains(out.String(), "R0: failed to start") {
		t.Fatalf("missing failure marker: %q", out.String())
	}
	if err := sup.TerminateAll(); err != nil {
		t.Fatalf("terminate of exited child should succeed: %v", err)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	testlog.Start(t)
	l := &stubLauncher{bin: filepath.Join(t.TempDir(), "mongod")}
	sup, reg, _, _ := newTestSupervisor(l, func(string) bool { return true })
	nodes := testNodes(t, 1)

	if _, err := sup.Spawn(context.Background(), nodes[0]); !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	if reg.Len() != 0 || len(sup.Processes()) != 0 {
		t.Fatalf("failed spawn must not register anything")
	}
}

func TestShutdownEscalatesToKill(t *testing.T) {
	testlog.Start(t)
	l := &stubLauncher{script: "trap '' TERM; echo stubborn; while :; do sleep 0.05; done"}
	sup, _, _, _ := newTestSupervisor(l, func(string) bool { return true })
	nodes := testNodes(t, 1)
	if _, err := sup.Spawn(context.Background(), nodes[0]); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := sup.Shutdown(200 * time.Millisecond); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !sup.Wait(5 * time.Second) {
		t.Fatalf("process survived SIGKILL")
	}
	code, _ := sup.Processes()[0].ExitStatus()
	if code != -int(unix.SIGKILL) {
		t.Fatalf("expected SIGKILL exit, got %d", code)
	}
}

func TestSignalTreatsMissingProcessAsDone(t *testing.T) {
	testlog.Start(t)
	p := &Process{pid: 1 << 22, done: make(chan struct{}), node: &cluster.Node{Prefix: "R0"}}
	kill := func(pid int, sig unix.Signal) error { return unix.ESRCH }
	if err := p.signal(kill, unix.SIGTERM); err != nil {
		t.Fatalf("ESRCH should be ignored: %v", err)
	}
	calls := 0
	counting := func(pid int, sig unix.Signal) error { calls++; return nil }
	if err := p.signal(counting, unix.SIGTERM); err != nil || calls != 0 {
		t.Fatalf("already signalled process should not be signalled again: calls=%d err=%v", calls, err)
	}
}
