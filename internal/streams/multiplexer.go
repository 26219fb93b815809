package streams

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/danmuck/replctl/internal/console"
	"github.com/danmuck/replctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	DefaultPollInterval = time.Second
	// hung-up streams are re-checked at this cadence until their process
	// is reaped.
	exitRecheckInterval = 25 * time.Millisecond
	maxLineBytes        = 64 * 1024
	readChunk           = 32 * 1024
)

type streamState struct {
	fd      int
	partial []byte
	hungup  bool
}

// Multiplexer is a single-goroutine poll loop over the registry.
type Multiplexer struct {
	registry *Registry
	console  *console.Console
	interval time.Duration

	states map[uint64]*streamState
	buf    []byte
}

func NewMultiplexer(registry *Registry, out *console.Console, pollInterval time.Duration) *Multiplexer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Multiplexer{
		registry: registry,
		console:  out,
		interval: pollInterval,
		states:   make(map[uint64]*streamState),
		buf:      make([]byte, readChunk),
	}
}

// Run waits for the first registration, then multiplexes until no
// streams remain or ctx is cancelled.
func (m *Multiplexer) Run(ctx context.Context) error {
	select {
	case <-m.registry.Started():
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Debug().Msg("streams.Multiplexer.Run started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := m.registry.Snapshot()
		if len(snap) == 0 {
			log.Debug().Msg("streams.Multiplexer.Run no streams remain")
			return nil
		}
		if err := m.cycle(ctx, snap); err != nil {
			return err
		}
	}
}

func (m *Multiplexer) cycle(ctx context.Context, snap []*Registration) error {
	fds := make([]unix.PollFd, 0, len(snap))
	polled := make([]*Registration, 0, len(snap))
	hungup := make([]*Registration, 0)
	for _, reg := range snap {
		st := m.state(reg)
		if st.hungup {
			hungup = append(hungup, reg)
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(st.fd), Events: unix.POLLIN})
		polled = append(polled, reg)
	}

	wait := m.interval
	if len(hungup) > 0 && wait > exitRecheckInterval {
		wait = exitRecheckInterval
	}

	if len(fds) == 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	} else {
		n, err := unix.Poll(fds, int(wait/time.Millisecond))
		if err != nil && !errors.Is(err, unix.EINTR) {
			return err
		}
		if n > 0 {
			for i, pfd := range fds {
				if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
					m.drain(polled[i])
				}
			}
		}
	}

	for _, reg := range hungup {
		m.reapIfExited(reg)
	}
	return nil
}

func (m *Multiplexer) state(reg *Registration) *streamState {
	st, ok := m.states[reg.ID]
	if !ok {
		// Fd switches the file to blocking mode; reads only follow a
		// readable poll result so they never stall the loop.
		st = &streamState{fd: int(reg.Stream.Fd())}
		m.states[reg.ID] = st
	}
	return st
}

// drain reads everything currently buffered on the stream so a burst
// from one node is written contiguously.
func (m *Multiplexer) drain(reg *Registration) {
	st := m.states[reg.ID]
	var lines []string
	eof := false
	for {
		n, err := unix.Read(st.fd, m.buf)
		if n > 0 {
			st.partial = append(st.partial, m.buf[:n]...)
			lines = splitLines(st, lines)
		}
		if n == 0 && err == nil {
			eof = true
			break
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			log.Warn().Msgf("streams.Multiplexer.drain read failed node=%s err=%v", reg.Node, err)
			eof = true
			break
		}
		if !readable(st.fd) {
			break
		}
	}

	if eof && len(st.partial) > 0 {
		lines = append(lines, trimLine(st.partial))
		st.partial = nil
	}
	if len(lines) > 0 {
		m.console.Lines(reg.Label, lines)
		observability.RecordLines(reg.Node, len(lines))
	}
	if eof {
		st.hungup = true
		m.reapIfExited(reg)
	}
}

// reapIfExited emits the EXITED marker and drops a hung-up stream once
// its process is gone. A stream whose process is still running stays.
func (m *Multiplexer) reapIfExited(reg *Registration) {
	code, exited := reg.Exit.ExitStatus()
	if !exited {
		return
	}
	m.console.Exited(reg.Label, code)
	observability.RecordExit(reg.Node)
	log.Debug().Msgf("streams.Multiplexer exited node=%s code=%d", reg.Node, code)

	m.registry.Remove(reg.ID)
	delete(m.states, reg.ID)
	_ = reg.Stream.Close()
}

func splitLines(st *streamState, lines []string) []string {
	for {
		i := bytes.IndexByte(st.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, trimLine(st.partial[:i]))
		st.partial = st.partial[i+1:]
	}
	if len(st.partial) >= maxLineBytes {
		lines = append(lines, trimLine(st.partial))
		st.partial = nil
	}
	if len(st.partial) == 0 {
		st.partial = nil
	} else {
		st.partial = append([]byte(nil), st.partial...)
	}
	return lines
}

func trimLine(b []byte) string {
	return strings.TrimRight(string(b), " \t\r")
}

func readable(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0
}
