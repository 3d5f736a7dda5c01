//go:build unix

package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProcessRunsToCompletion(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.CreateProcess("sh", []string{"-c", "exit 0"})
	require.NoError(t, err)

	code, err := s.Join(id)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	st, err := s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, Stopped, st)
}

func TestCreateProcessCapturesExitCode(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.CreateProcess("sh", []string{"-c", "exit 7"})
	require.NoError(t, err)

	code, _ := s.Join(id)
	assert.Equal(t, 7, code)
}

func TestCreateProcessStopSendsTermination(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.CreateProcess("sh", []string{"-c", "sleep 5"})
	require.NoError(t, err)

	joined := make(chan struct{})
	go func() {
		_, _ = s.Join(id)
		close(joined)
	}()

	require.NoError(t, s.Stop(id))

	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("process did not stop in time")
	}
}

func TestCreateProcessPauseResume(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.CreateProcess("sh", []string{"-c", "sleep 1"})
	require.NoError(t, err)

	require.NoError(t, s.Pause(id))
	st, err := s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, Paused, st)

	require.NoError(t, s.Resume(id))
	st, err = s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, Running, st)

	require.NoError(t, s.Stop(id))
	_, _ = s.Join(id)
}

func TestProcessStdinStdoutPipe(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.CreateProcess("cat", nil)
	require.NoError(t, err)

	r, err := s.find(id)
	require.NoError(t, err)
	_, err = r.proc.write([]byte("hello\n"))
	require.NoError(t, err)

	var out []byte
	buf := make([]byte, 64)
	for i := 0; i < 50 && len(out) < 6; i++ {
		n, _ := r.proc.readStdout(buf)
		out = append(out, buf[:n]...)
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "hello\n", string(out))

	require.NoError(t, s.Kill(id))
	_, _ = s.Join(id)
}
