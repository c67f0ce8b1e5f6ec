//go:build unix

package launch

import "syscall"

// sysProcAttr puts the runtime child in its own process group so a
// terminal interrupt aimed at camster-launch does not reach it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
