//go:build !unix

package supervisor

import "time"

// pause/resume need POSIX process-control signals, unavailable here.
func (c *childProcess) pause() error {
	return ErrUnsupported
}

func (c *childProcess) resume() error {
	return ErrUnsupported
}

func (c *childProcess) terminate(_ <-chan struct{}, _ time.Duration) error {
	return c.cmd.Process.Kill()
}
