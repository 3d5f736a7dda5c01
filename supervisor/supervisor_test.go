package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRunsAndJoins(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.Create(func(h Handle) error {
		return nil
	})
	require.NoError(t, err)

	code, err := s.Join(id)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	st, err := s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, Stopped, st)
}

func TestCreateWorkerErrorTransitionsToStateError(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	boom := errors.New("boom")
	id, err := s.Create(func(h Handle) error {
		return boom
	})
	require.NoError(t, err)

	code, err := s.Join(id)
	assert.Equal(t, 1, code)
	assert.Equal(t, boom, err)

	st, err := s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, StateError, st)
}

func TestPauseBlocksWorkerUntilResume(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	progress := make(chan struct{})
	step := make(chan struct{})
	id, err := s.Create(func(h Handle) error {
		for i := 0; i < 3; i++ {
			<-step
			h.CheckPause()
			if h.ShouldExit() {
				return nil
			}
			progress <- struct{}{}
		}
		return nil
	})
	require.NoError(t, err)

	step <- struct{}{}
	<-progress
	require.NoError(t, s.Pause(id))
	step <- struct{}{}

	select {
	case <-progress:
		t.Fatal("worker made progress while paused")
	case <-time.After(50 * time.Millisecond):
	}

	st, err := s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, Paused, st)

	require.NoError(t, s.Resume(id))
	<-progress
	step <- struct{}{}
	<-progress
	_, _ = s.Join(id)
}

func TestStopSetsShouldExit(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.Create(func(h Handle) error {
		for !h.ShouldExit() {
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Stop(id))
	code, err := s.Join(id)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestWorkerPanicIsRecoveredAndReported(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.Create(func(h Handle) error {
		panic("kaboom")
	})
	require.NoError(t, err)

	_, err = s.Join(id)
	assert.Error(t, err)

	st, err := s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, StateError, st)
}

func TestDestroyStopsEveryRecordAndRejectsFurtherCalls(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.Create(func(h Handle) error {
		for !h.ShouldExit() {
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Destroy())
	r, err := s.find(id)
	require.NoError(t, err)
	<-r.done

	_, err = s.Create(func(h Handle) error { return nil })
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestAttachmentRegistry(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id, err := s.Create(func(h Handle) error {
		for !h.ShouldExit() {
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Register(id, "worker-a"))
	assert.ErrorIs(t, s.Register(id, "worker-a"), ErrTagExists)

	got, err := s.FindByAttachment("worker-a")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.NoError(t, s.StopByAttachment("worker-a"))
	_, _ = s.Join(id)

	require.NoError(t, s.Unregister("worker-a"))
	_, err = s.FindByAttachment("worker-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCountAndGetAllIDs(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	id1, err := s.Create(func(h Handle) error { return nil })
	require.NoError(t, err)
	id2, err := s.Create(func(h Handle) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, 2, s.GetCount())
	assert.ElementsMatch(t, []uint64{id1, id2}, s.GetAllIDs())

	_, _ = s.Join(id1)
	_, _ = s.Join(id2)
}

func TestRestartRunsFreshInvocationUnderSameID(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	calls := make(chan struct{}, 2)
	id, err := s.Create(func(h Handle) error {
		calls <- struct{}{}
		for !h.ShouldExit() {
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	<-calls

	require.NoError(t, s.Restart(id))
	<-calls

	st, err := s.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, Running, st)

	require.NoError(t, s.Stop(id))
	_, _ = s.Join(id)
}

func TestOperationsOnUnknownIDReturnNotFound(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.GetState(999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Stop(999), ErrNotFound)
	assert.ErrorIs(t, s.Pause(999), ErrNotFound)
}
