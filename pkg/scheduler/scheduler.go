// Package scheduler runs filter process tasks under one of the five
// concurrency models named in spec.md §4.F. Each mode is a strategy
// implementation behind a common Scheduler driver rather than a pile of
// mode conditionals scattered through the run loop (spec.md §9).
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/ferr"
	"github.com/gpac-go/fgraph/pkg/filter"
)

// Mode selects the scheduler's main-task-list and worker-pool shape
// (spec.md §4.F table).
type Mode int

const (
	// LockFree uses a mutex-guarded main task list with lock-free PID
	// queues (pkg/pidqueue.ModeLockFree).
	LockFree Mode = iota
	// Lock uses a mutex-guarded main task list and mutex-guarded PID
	// queues (pkg/pidqueue.ModeLocked).
	Lock
	// LockFreeX uses a lock-free main task list and lock-free PID queues.
	LockFreeX
	// LockForce forces mutex-guarded task list and PID queues even when
	// run with zero worker threads.
	LockForce
	// Direct runs everything inline on the calling goroutine; posting a
	// task from inside a filter's Process nests the call immediately,
	// subject to recursionLimit.
	Direct
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "Direct"
	case LockFree:
		return "LockFree"
	case Lock:
		return "Lock"
	case LockFreeX:
		return "LockFreeX"
	case LockForce:
		return "LockForce"
	default:
		return "Unknown"
	}
}

// recursionLimit bounds Direct mode's nested task execution (spec.md §4.F:
// "subject to a recursion bound to avoid stack growth").
const recursionLimit = 64

// strategy is the per-mode main task list: how process tasks are posted,
// picked up by workers, and retired.
type strategy interface {
	post(inst *filter.Instance)
	postAfter(inst *filter.Instance, delay time.Duration)
	// next blocks until a task is available or the strategy is shut down.
	next() (inst *filter.Instance, ok bool)
	// tryNext returns immediately: ok is false if nothing is queued right now.
	tryNext() (inst *filter.Instance, ok bool)
	done(inst *filter.Instance)
	shutdown()
}

// Scheduler drives process tasks for every filter instance in a session
// under one Mode (spec.md §4.F, §4.H).
type Scheduler struct {
	mode      Mode
	nbThreads int
	strat     strategy
	log       *logging.Entry

	directDepth int // Direct mode only; single-threaded, no lock needed.

	abortErr atomic.Pointer[ferr.Error]
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// New builds a Scheduler for mode with nbThreads worker goroutines (ignored
// for Direct, which never spawns workers).
func New(mode Mode, nbThreads int, log *logging.Entry) *Scheduler {
	s := &Scheduler{
		mode:      mode,
		nbThreads: nbThreads,
		log:       log.WithField("component", "scheduler"),
	}
	switch mode {
	case Direct:
		s.strat = &directStrategy{}
	case LockFreeX:
		s.strat = newLockFreeStrategy()
	default: // LockFree, Lock, LockForce: mutex-guarded main task list.
		s.strat = newQueuedStrategy()
	}
	return s
}

// PostProcessTask enqueues inst for a process task, honoring "at most one
// pending process task at a time" (spec.md §4.F) via
// Instance.TryPostPendingTask. Triggers (a)-(c) of spec.md §4.F all funnel
// through this call.
func (s *Scheduler) PostProcessTask(inst *filter.Instance) {
	if !inst.TryPostPendingTask() {
		return
	}
	if s.mode == Direct && s.directDepth < recursionLimit {
		s.directDepth++
		s.runOne(inst)
		s.directDepth--
		return
	}
	s.strat.post(inst)
}

// PostTimedTask schedules a process task for inst after delay, the
// `ask_rt_reschedule(us_until_next)` trigger of spec.md §4.F (d).
func (s *Scheduler) PostTimedTask(inst *filter.Instance, delay time.Duration) {
	if !inst.TryPostPendingTask() {
		return
	}
	s.strat.postAfter(inst, delay)
}

func (s *Scheduler) runOne(inst *filter.Instance) error {
	defer inst.ClearPendingTask()
	if s.abortErr.Load() != nil {
		return nil
	}
	err := inst.Impl.Process(inst)
	inst.RecordProcessError(err)
	if err != nil {
		s.log.WithField("filter", inst.ID).WithError(err).Debug("process returned error")
	}
	return err
}

// Run drives queued tasks until Stop/Abort is called or ctx is done
// (spec.md §4.H "run"). Direct mode and zero-thread runs drain on the
// calling goroutine and also return as soon as no task is queued; with
// worker threads, an idle task list does not end Run.
func (s *Scheduler) Run(ctx context.Context) error {
	threads := s.nbThreads
	if s.mode == Direct || threads == 0 {
		return s.runInline(ctx)
	}

	s.wg.Add(threads)
	for i := 0; i < threads; i++ {
		go s.worker(i)
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	s.wg.Wait()

	if e := s.abortErr.Load(); e != nil {
		return e
	}
	return nil
}

// runInline services Direct mode (and any non-Direct mode run with zero
// worker threads, per spec.md's "LockForce | ≥1 or 0") by draining tasks on
// the calling goroutine until none remain.
func (s *Scheduler) runInline(ctx context.Context) error {
	for {
		if s.stopping.Load() {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		inst, ok := s.strat.tryNext()
		if !ok {
			break
		}
		s.runOne(inst)
		s.strat.done(inst)
	}
	if e := s.abortErr.Load(); e != nil {
		return e
	}
	return nil
}

// RunStep executes one scheduler tick (spec.md §4.H "run_step"): at most
// one pending task, returning the approximate wait until further work is
// known, or -1 when idle with nothing queued.
func (s *Scheduler) RunStep() time.Duration {
	inst, ok := s.strat.tryNext()
	if !ok {
		return -1
	}
	s.runOne(inst)
	s.strat.done(inst)
	return 0
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		inst, ok := s.strat.next()
		if !ok {
			return
		}
		// A filter marked RequiresMainThread runs only on worker 0
		// (spec.md §4.F); reroute it back onto the task list for worker 0
		// to pick up.
		if inst.RequiresMainThread && id != 0 {
			s.strat.done(inst)
			s.strat.post(inst)
			continue
		}
		s.runOne(inst)
		s.strat.done(inst)
	}
}

// Stop signals termination without recording an error (spec.md §4.H
// "stop").
func (s *Scheduler) Stop() {
	if s.stopping.CompareAndSwap(false, true) {
		s.strat.shutdown()
	}
}

// Abort signals termination and records err as the session's abort cause
// (spec.md §4.H "session_abort(err)", §7).
func (s *Scheduler) Abort(err error) {
	if err == nil {
		err = ferr.New(ferr.ServiceError, "session aborted with no cause given")
	}
	fe, ok := err.(*ferr.Error)
	if !ok {
		fe = ferr.Wrap(ferr.ServiceError, err, "session_abort")
	}
	s.abortErr.Store(fe)
	s.Stop()
}

// LastAbortError returns the error passed to Abort, if any.
func (s *Scheduler) LastAbortError() error {
	if e := s.abortErr.Load(); e != nil {
		return e
	}
	return nil
}
