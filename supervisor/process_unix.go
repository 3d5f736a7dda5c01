//go:build unix

package supervisor

import (
	"syscall"
	"time"
)

func (c *childProcess) pause() error {
	return c.cmd.Process.Signal(syscall.SIGSTOP)
}

func (c *childProcess) resume() error {
	return c.cmd.Process.Signal(syscall.SIGCONT)
}

// terminate sends SIGTERM and escalates to SIGKILL if exited, the
// record's own wait goroutine, has not fired within grace. It never
// calls cmd.Wait itself — that call belongs solely to the monitor
// goroutine started alongside the process.
func (c *childProcess) terminate(exited <-chan struct{}, grace time.Duration) error {
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	select {
	case <-exited:
		return nil
	case <-time.After(grace):
		return c.cmd.Process.Signal(syscall.SIGKILL)
	}
}
