package filter

import (
	"sync/atomic"

	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/events"
	"github.com/gpac-go/fgraph/pkg/ferr"
	"github.com/gpac-go/fgraph/pkg/props"
)

// SetupFailureFunc is the callback a filter registers to learn when a
// source filter it requested fails to set up (spec.md §4.D).
type SetupFailureFunc func(err error, userCtx any)

// Instance wraps one registry record plus its own private state, argument
// dictionary, PID lists and scheduling bookkeeping (spec.md §3 "Filter
// instance").
type Instance struct {
	ID   string
	Reg  *Registration
	Impl Impl

	Args *props.Dict
	Info *props.Dict

	Inputs  []*PID
	Outputs []*PID

	EventQueueDepth    int
	Sticky             bool
	RequiresMainThread bool
	LooseConnect       bool

	SetupFailureCB SetupFailureFunc
	SetupUserCtx   any

	// NewOutputPIDFunc is wired by the session when the instance is loaded;
	// it runs the graph resolver and returns a freshly connected output PID
	// (spec.md §4.D "new" PID operation, §4.E). A filter with no session
	// behind it (e.g. a unit test double) leaves this nil.
	NewOutputPIDFunc func(inst *Instance, name string) (*PID, error)

	// PostSelfFunc is wired by the session to let a filter post its own
	// process task (spec.md §4.F trigger (c), "post_process_task").
	PostSelfFunc func(inst *Instance)

	pendingTask atomic.Bool

	LastProcessError atomic.Pointer[ferr.Error]

	Log *logging.Entry
}

// NewInstance allocates a zeroed instance bound to reg, the way the
// session's load_filter zeroes a registry's declared private state before
// calling initialize (spec.md §4.D).
func NewInstance(id string, reg *Registration, log *logging.Entry) *Instance {
	return &Instance{
		ID:                 id,
		Reg:                reg,
		Impl:               reg.NewImpl(),
		Args:               props.NewDict(),
		Info:               props.NewDict(),
		Sticky:             reg.Sticky,
		RequiresMainThread: reg.RequiresMainThread,
		Log:                log.WithField("filter", id),
	}
}

// TryPostPendingTask atomically sets the pending-task marker, returning
// true if this call was the one to set it (spec.md §4.F: "at most one
// pending process task at a time"). The scheduler calls this before
// enqueueing a process task and clears it after Process returns.
func (inst *Instance) TryPostPendingTask() bool {
	return inst.pendingTask.CompareAndSwap(false, true)
}

// ClearPendingTask clears the pending-task marker after Process returns.
func (inst *Instance) ClearPendingTask() { inst.pendingTask.Store(false) }

// HasPendingTask reports the current marker state, for tests/statistics.
func (inst *Instance) HasPendingTask() bool { return inst.pendingTask.Load() }

// RecordProcessError stores err as last_process_error (spec.md §7); nil
// clears it.
func (inst *Instance) RecordProcessError(err error) {
	if err == nil {
		inst.LastProcessError.Store(nil)
		return
	}
	var fe *ferr.Error
	if e, ok := err.(*ferr.Error); ok {
		fe = e
	} else {
		fe = ferr.Wrap(ferr.ServiceError, err, "process error")
	}
	inst.LastProcessError.Store(fe)
}

// Removable reports whether this instance is a garbage-collection
// candidate: an ordinary (non-sticky) filter with no connected PIDs
// (spec.md §4.D).
func (inst *Instance) Removable() bool {
	return !inst.Sticky && len(inst.Inputs) == 0 && len(inst.Outputs) == 0
}

// ProcessEvent dispatches ev to this instance's Impl if it implements
// EventProcessor, defaulting to "do not cancel" otherwise (spec.md §4.G:
// "a filter that does not implement process_event automatically forwards
// the event").
func (inst *Instance) ProcessEvent(ev *events.Event) (cancel bool) {
	if p, ok := inst.Impl.(EventProcessor); ok {
		return p.ProcessEvent(inst, ev)
	}
	return false
}

// ConfigurePID dispatches to Impl's PIDConfigurer if present, otherwise
// accepts unconditionally (spec.md §4.D).
func (inst *Instance) ConfigurePID(pid *PID, isRemove bool) error {
	if c, ok := inst.Impl.(PIDConfigurer); ok {
		return c.ConfigurePID(inst, pid, isRemove)
	}
	return nil
}

// ApplyArg stores one already-parsed argument per spec, including the
// direct-offset-write behavior of spec.md §9 Open Question (ii): the value
// is always written into Args; when Offset == -1 and Impl implements
// ArgUpdater, UpdateArg is also called with it, otherwise the filter is not
// notified.
func (inst *Instance) ApplyArg(spec ArgSpec, v props.Value) error {
	inst.Args.Set(props.KeyFromName(spec.Name), v)
	if spec.Offset == -1 {
		if updater, ok := inst.Impl.(ArgUpdater); ok {
			return updater.UpdateArg(inst, spec.Name, v)
		}
	}
	return nil
}

// NewOutputPID declares a new output PID named name and hands it to the
// session's resolver to find (and, if necessary, instantiate) a consumer
// (spec.md §4.D "new", §4.E). Filters call this from Initialize/Process;
// it is the Go analogue of gf_filter_pid_new.
func (inst *Instance) NewOutputPID(name string) (*PID, error) {
	if inst.NewOutputPIDFunc == nil {
		return nil, ferr.New(ferr.NotSupported, "instance %s has no session bound for PID creation", inst.ID)
	}
	return inst.NewOutputPIDFunc(inst, name)
}

// PostSelf lets a filter request another process call on itself (spec.md
// §4.F trigger (c)). A filter with no session behind it is a no-op.
func (inst *Instance) PostSelf() {
	if inst.PostSelfFunc != nil {
		inst.PostSelfFunc(inst)
	}
}
