package probe

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/replctl/internal/testutil/testlog"
)

func fastOptions(attempts int) Options {
	return Options{MaxAttempts: attempts, PollInterval: 5 * time.Millisecond, DialTimeout: 50 * time.Millisecond}
}

func TestWaitUntilReadyListening(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if err := WaitUntilReady(context.Background(), Target{Name: "R0", Addr: ln.Addr().String()}, fastOptions(3)); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
}

type trackedConn struct {
	net.Conn
	closed *atomic.Int32
}

func (c trackedConn) Close() error {
	c.closed.Add(1)
	return nil
}

func TestWaitUntilReadyRetriesThenSucceeds(t *testing.T) {
	testlog.Start(t)
	var calls, closed atomic.Int32
	opts := fastOptions(5)
	opts.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		_ = server.Close()
		return trackedConn{Conn: client, closed: &closed}, nil
	}
	if err := WaitUntilReady(context.Background(), Target{Name: "R1", Addr: "x:1"}, opts); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", calls.Load())
	}
	if closed.Load() != 1 {
		t.Fatalf("probe connection should be closed once, got %d", closed.Load())
	}
}

func TestWaitUntilReadyBudgetExhausted(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	opts := fastOptions(4)
	opts.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}
	err := WaitUntilReady(context.Background(), Target{Name: "R2", Addr: "x:1"}, opts)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls.Load())
	}
}

func TestWaitUntilReadyProcessExited(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	opts := fastOptions(40)
	opts.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}
	target := Target{Name: "A0", Addr: "x:1", Exited: func() bool { return calls.Load() >= 2 }}
	err := WaitUntilReady(context.Background(), target, opts)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("probe should stop once the process exits, got %d attempts", calls.Load())
	}
}

func TestWaitUntilReadyContextCancelled(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{MaxAttempts: 1000, PollInterval: time.Hour}
	opts.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		cancel()
		return nil, errors.New("connection refused")
	}
	err := WaitUntilReady(ctx, Target{Name: "R0", Addr: "x:1"}, opts)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected timeout wrapping cancellation, got %v", err)
	}
}

func TestOptionsValidation(t *testing.T) {
	testlog.Start(t)
	if err := WaitUntilReady(context.Background(), Target{}, Options{MaxAttempts: 0, PollInterval: time.Second}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected invalid attempts error, got %v", err)
	}
	if err := WaitUntilReady(context.Background(), Target{}, Options{MaxAttempts: 1}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected invalid interval error, got %v", err)
	}
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
