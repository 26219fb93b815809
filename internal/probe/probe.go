// Package probe checks whether a node's listener accepts connections.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/replctl/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout        = errors.New("probe: node not ready")
	ErrInvalidOptions = errors.New("probe: invalid options")
)

const (
	DefaultMaxAttempts  = 40
	DefaultPollInterval = 250 * time.Millisecond
	DefaultDialTimeout  = 250 * time.Millisecond
)

// Target is the endpoint under test plus an optional exit check for the
// process backing it. A target whose process has exited is never ready.
type Target struct {
	Name   string
	Addr   string
	Exited func() bool
}

type Options struct {
	MaxAttempts  int
	PollInterval time.Duration
	DialTimeout  time.Duration
	Dial         func(ctx context.Context, network, addr string) (net.Conn, error)
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:  DefaultMaxAttempts,
		PollInterval: DefaultPollInterval,
		DialTimeout:  DefaultDialTimeout,
	}
}

func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d", ErrInvalidOptions, o.MaxAttempts)
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval %s", ErrInvalidOptions, o.PollInterval)
	}
	return nil
}

// WaitUntilReady dials target.Addr until a connection succeeds, the
// attempt budget runs out, the backing process exits, or ctx ends.
// It returns nil when ready and an error wrapping ErrTimeout otherwise.
func WaitUntilReady(ctx context.Context, target Target, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	dial := opts.Dial
	if dial == nil {
		d := net.Dialer{Timeout: opts.DialTimeout}
		dial = d.DialContext
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if target.Exited != nil && target.Exited() {
			return fmt.Errorf("%w: %s process exited after %d attempts", ErrTimeout, target.Name, attempt-1)
		}
		observability.RecordProbeAttempt(target.Name)
		err := tryOnce(ctx, dial, target.Addr)
		if err == nil {
			log.Debug().Msgf("probe.WaitUntilReady ready node=%s addr=%s attempts=%d", target.Name, target.Addr, attempt)
			return nil
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", ErrTimeout, target.Name, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrTimeout, target.Name, opts.MaxAttempts, lastErr)
}

func tryOnce(ctx context.Context, dial func(context.Context, string, string) (net.Conn, error), addr string) error {
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}
