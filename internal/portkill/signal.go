package portkill

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrProcessGone is returned by a Signaler when the target no longer exists.
var ErrProcessGone = errors.New("process already exited")

type unixSignaler struct{}

// NewSignaler returns a Signaler that sends SIGKILL.
func NewSignaler() Signaler {
	return unixSignaler{}
}

func (unixSignaler) Kill(pid int) error {
	if pid <= 0 {
		// kill(2) treats these as process groups
		return unix.EINVAL
	}
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return ErrProcessGone
	}
	return err
}
