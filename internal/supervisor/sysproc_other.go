//go:build !linux

package supervisor

import "syscall"

// childAttr puts a member in its own process group so terminal interrupts
// reach only the supervisor.
func childAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
