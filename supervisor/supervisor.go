/*
Package supervisor manages the lifecycle of a dynamic set of worker
activities — in-process functions and child processes — behind one
uniform id-addressed API: create, pause, resume, stop, restart, kill,
join, plus a name-based attachment registry.
*/
package supervisor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdk "github.com/getsentry/sentry-go"
	"go.bryk.io/mqtt-rpc/errors"
	xlog "go.bryk.io/mqtt-rpc/log"
)

// terminationGrace bounds how long Stop/Destroy wait for a child process
// to exit after SIGTERM before escalating to SIGKILL.
const terminationGrace = time.Second

// Option configures a Supervisor at construction time.
type Option func(*Supervisor) error

// WithLogger attaches a logger used for panic reports and child-process
// failures.
func WithLogger(l xlog.Logger) Option {
	return func(s *Supervisor) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithSentryDSN enables panic capture for in-process workers. Without
// it, a recovered worker panic is logged but not reported anywhere
// else.
func WithSentryDSN(dsn string) Option {
	return func(s *Supervisor) error {
		if dsn == "" {
			return nil
		}
		if err := sdk.Init(sdk.ClientOptions{Dsn: dsn}); err != nil {
			return errors.Wrap(err, "supervisor: sentry init")
		}
		s.sentryEnabled = true
		return nil
	}
}

// Supervisor owns a table of records keyed by a monotonically
// increasing id, plus an attachment registry for name-based lookup.
type Supervisor struct {
	log xlog.Logger

	mu          sync.Mutex
	records     map[uint64]*record
	attachments map[string]uint64
	nextID      uint64

	destroyed atomic.Bool

	sentryEnabled bool
}

// New returns an empty Supervisor.
func New(options ...Option) (*Supervisor, error) {
	s := &Supervisor{
		log:         xlog.Discard(),
		records:     make(map[uint64]*record),
		attachments: make(map[string]uint64),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Supervisor) checkAlive() error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	return nil
}

// Create starts fn on a dedicated goroutine and returns its id.
func (s *Supervisor) Create(fn InProcessFn) (uint64, error) {
	if err := s.checkAlive(); err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, errors.New("supervisor: fn must not be nil")
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	r := newRecord(id, KindInProcess)
	r.fn = fn
	s.records[id] = r
	s.mu.Unlock()

	s.startInProcess(r)
	return id, nil
}

// CreateProcess launches cmd with argv as a supervised child process
// and returns its id.
func (s *Supervisor) CreateProcess(cmd string, args []string) (uint64, error) {
	if err := s.checkAlive(); err != nil {
		return 0, err
	}
	if cmd == "" {
		return 0, errors.New("supervisor: cmd must not be empty")
	}

	proc, err := startChildProcess(cmd, args)
	if err != nil {
		return 0, errors.Wrap(err, "supervisor: start child process")
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	r := newRecord(id, KindChildProcess)
	r.cmd = cmd
	r.args = args
	r.proc = proc
	s.records[id] = r
	s.mu.Unlock()

	r.setState(Running)
	go s.monitorChild(r)
	return id, nil
}

func (s *Supervisor) startInProcess(r *record) {
	h := Handle{id: r.id, r: r}
	r.setState(Running)
	go func() {
		defer close(r.done)
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("supervisor: worker panic: %v", rec)
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
				r.setState(StateError)
				s.log.WithField("id", r.id).WithField("panic", rec).Error("in-process worker panicked")
				if s.sentryEnabled {
					sdk.CaptureException(err)
				}
			}
		}()
		err := r.fn(h)
		r.mu.Lock()
		exited := r.shouldExit
		r.err = err
		r.mu.Unlock()
		if err != nil && !exited {
			r.setState(StateError)
			return
		}
		r.setState(Stopped)
	}()
}

func (s *Supervisor) monitorChild(r *record) {
	status, err := r.proc.wait()
	r.mu.Lock()
	r.exitStatus = status
	r.err = err
	r.mu.Unlock()
	if err != nil && status < 0 {
		r.setState(StateError)
	} else {
		r.setState(Stopped)
	}
	close(r.done)
}

func (s *Supervisor) find(id uint64) (*record, error) {
	s.mu.Lock()
	r, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Stop asks the record to exit: it sets the should-exit flag (and wakes
// any paused in-process worker) or, for a child process, sends SIGTERM
// escalating to SIGKILL after terminationGrace.
func (s *Supervisor) Stop(id uint64) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	r, err := s.find(id)
	if err != nil {
		return err
	}

	if r.kind == KindChildProcess {
		return r.proc.terminate(r.done, terminationGrace)
	}

	r.mu.Lock()
	r.shouldExit = true
	r.paused = false
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}

// Pause marks the record paused; in-process workers observe this on
// their next CheckPause call, child processes receive SIGSTOP
// immediately.
func (s *Supervisor) Pause(id uint64) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	r, err := s.find(id)
	if err != nil {
		return err
	}

	if r.kind == KindChildProcess {
		if err := r.proc.pause(); err != nil {
			return err
		}
		r.setState(Paused)
		return nil
	}

	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	r.setState(Paused)
	return nil
}

// Resume reverses Pause.
func (s *Supervisor) Resume(id uint64) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	r, err := s.find(id)
	if err != nil {
		return err
	}

	if r.kind == KindChildProcess {
		if err := r.proc.resume(); err != nil {
			return err
		}
		r.setState(Running)
		return nil
	}

	r.mu.Lock()
	r.paused = false
	r.cond.Broadcast()
	r.mu.Unlock()
	r.setState(Running)
	return nil
}

// Kill forces termination: a child process is sent SIGKILL directly
// (no grace); an in-process worker is asked to exit the same way Stop
// does since a goroutine cannot be preempted from the outside.
func (s *Supervisor) Kill(id uint64) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	r, err := s.find(id)
	if err != nil {
		return err
	}

	if r.kind == KindChildProcess {
		return r.proc.cmd.Process.Kill()
	}
	return s.Stop(id)
}

// Restart stops the existing run (waiting for it to finish) and starts
// a fresh one under the same id, optionally with new child-process
// args. newArgs is ignored for in-process workers.
func (s *Supervisor) Restart(id uint64, newArgs ...string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	r, err := s.find(id)
	if err != nil {
		return err
	}

	if err := s.Stop(id); err != nil {
		return err
	}
	<-r.done

	r.mu.Lock()
	r.shouldExit = false
	r.paused = false
	r.err = nil
	r.exitStatus = 0
	r.state = Created
	r.done = make(chan struct{})
	if r.kind == KindChildProcess && len(newArgs) > 0 {
		r.args = newArgs
	}
	r.mu.Unlock()

	if r.kind == KindInProcess {
		s.startInProcess(r)
		return nil
	}

	proc, err := startChildProcess(r.cmd, r.args)
	if err != nil {
		r.setState(StateError)
		return errors.Wrap(err, "supervisor: restart child process")
	}
	r.mu.Lock()
	r.proc = proc
	r.mu.Unlock()
	r.setState(Running)
	go s.monitorChild(r)
	return nil
}

// Join blocks until the record reaches Stopped or StateError and
// returns its exit value (a child process's exit code, or 0/1 for an
// in-process worker depending on whether Fn returned an error).
func (s *Supervisor) Join(id uint64) (int, error) {
	if err := s.checkAlive(); err != nil {
		return 0, err
	}
	r, err := s.find(id)
	if err != nil {
		return 0, err
	}
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.kind == KindChildProcess {
		return r.exitStatus, r.err
	}
	if r.err != nil {
		return 1, r.err
	}
	return 0, nil
}

// IsAlive reports whether the record has not yet reached Stopped or
// StateError.
func (s *Supervisor) IsAlive(id uint64) (bool, error) {
	st, err := s.GetState(id)
	if err != nil {
		return false, err
	}
	return st != Stopped && st != StateError, nil
}

// GetState returns the record's current state.
func (s *Supervisor) GetState(id uint64) (State, error) {
	if err := s.checkAlive(); err != nil {
		return 0, err
	}
	r, err := s.find(id)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

// GetInfo returns a full snapshot of the record.
func (s *Supervisor) GetInfo(id uint64) (Info, error) {
	if err := s.checkAlive(); err != nil {
		return Info{}, err
	}
	r, err := s.find(id)
	if err != nil {
		return Info{}, err
	}
	return r.snapshot(), nil
}

// GetCount returns the number of records currently tracked.
func (s *Supervisor) GetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// GetAllIDs returns every tracked record id, in no particular order.
func (s *Supervisor) GetAllIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

// Register associates tag with id. Fails if tag is already taken.
func (s *Supervisor) Register(id uint64, tag string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if _, err := s.find(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attachments[tag]; exists {
		return ErrTagExists
	}
	s.attachments[tag] = id
	return nil
}

// Unregister drops tag from the attachment registry.
func (s *Supervisor) Unregister(tag string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attachments[tag]; !exists {
		return ErrNotFound
	}
	delete(s.attachments, tag)
	return nil
}

// FindByAttachment resolves tag to its record id.
func (s *Supervisor) FindByAttachment(tag string) (uint64, error) {
	if err := s.checkAlive(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	id, ok := s.attachments[tag]
	s.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

// StopByAttachment resolves tag and calls Stop.
func (s *Supervisor) StopByAttachment(tag string) error {
	id, err := s.FindByAttachment(tag)
	if err != nil {
		return err
	}
	return s.Stop(id)
}

// RestartByAttachment resolves tag and calls Restart.
func (s *Supervisor) RestartByAttachment(tag string, newArgs ...string) error {
	id, err := s.FindByAttachment(tag)
	if err != nil {
		return err
	}
	return s.Restart(id, newArgs...)
}

// KillByAttachment resolves tag and calls Kill.
func (s *Supervisor) KillByAttachment(tag string) error {
	id, err := s.FindByAttachment(tag)
	if err != nil {
		return err
	}
	return s.Kill(id)
}

// Destroy stops every tracked record. The destroyed flag is set before
// the table is touched, under the same lock, so any caller racing in
// through a public method observes ErrDestroyed instead of a partially
// torn-down table.
func (s *Supervisor) Destroy() error {
	s.mu.Lock()
	if s.destroyed.Load() {
		s.mu.Unlock()
		return nil
	}
	s.destroyed.Store(true)
	ids := make([]uint64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		r, err := s.find(id)
		if err != nil {
			continue
		}
		if r.kind == KindChildProcess {
			_ = r.proc.terminate(r.done, terminationGrace)
		} else {
			r.mu.Lock()
			r.shouldExit = true
			r.paused = false
			r.cond.Broadcast()
			r.mu.Unlock()
		}
	}
	return nil
}
