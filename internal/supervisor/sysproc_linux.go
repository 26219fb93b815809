package supervisor

import "syscall"

// childAttr puts a member in its own process group so terminal interrupts
// reach only the supervisor, and has the kernel SIGTERM it if the
// supervisor dies without running teardown.
func childAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGTERM}
}
