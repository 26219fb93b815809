package supervisor

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"

	"github.com/danmuck/replctl/internal/cluster"
	"golang.org/x/sys/unix"
)

// Process is the supervisor-owned handle for one running member.
type Process struct {
	node *cluster.Node
	cmd  *exec.Cmd
	pid  int

	done chan struct{}
	code int

	mu        sync.Mutex
	signalled bool
}

func newProcess(node *cluster.Node, cmd *exec.Cmd) *Process {
	return &Process{
		node: node,
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
}

func (p *Process) PID() int {
	return p.pid
}

func (p *Process) Node() *cluster.Node {
	return p.node
}

// ExitStatus reports the exit code once the process has been reaped.
// Death by signal is reported as the negated signal number.
func (p *Process) ExitStatus() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

// Done is closed after the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) reap() {
	_ = p.cmd.Wait()
	p.code = exitCode(p.cmd)
	close(p.done)
}

func exitCode(cmd *exec.Cmd) int {
	state := cmd.ProcessState
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// signal delivers sig unless the process is already gone. A process that
// exited (or was already signalled with the same intent) counts as done.
func (p *Process) signal(kill killFunc, sig unix.Signal) error {
	if _, exited := p.ExitStatus(); exited {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sig == unix.SIGTERM && p.signalled {
		return nil
	}
	err := kill(p.pid, sig)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	if sig == unix.SIGTERM {
		p.signalled = true
	}
	return nil
}
