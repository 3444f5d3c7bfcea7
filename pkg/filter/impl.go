// Package filter implements the filter registry record, filter instance and
// PID bookkeeping described in spec.md §3/§4.D. A filter author implements
// Impl (and whichever optional interfaces below their filter needs); the
// core never interprets the private state Impl carries, matching spec.md
// §9's "void-pointer user data maps to a type parameter/interface".
package filter

import (
	"github.com/gpac-go/fgraph/pkg/events"
	"github.com/gpac-go/fgraph/pkg/props"
)

// Impl is the minimal interface every filter implementation satisfies.
// It is the Go analogue of the registry's required `initialize`,
// `finalize` and `process` function pointers (spec.md §3).
type Impl interface {
	Initialize(inst *Instance) error
	Finalize(inst *Instance)
	Process(inst *Instance) error
}

// PIDConfigurer is implemented by filters that need to inspect or reject a
// newly wired input PID, or react to its removal (spec.md §4.D
// configure_pid). Filters that skip this simply accept every PID.
type PIDConfigurer interface {
	ConfigurePID(inst *Instance, pid *PID, isRemove bool) error
}

// ArgUpdater is implemented by filters whose argument schema dispatches
// some entries through a callback instead of a direct private-state offset
// write (spec.md §6 argument schema, Offset == -1).
type ArgUpdater interface {
	UpdateArg(inst *Instance, name string, v props.Value) error
}

// EventProcessor is implemented by filters that want to intercept
// propagating events. Returning true cancels further propagation
// (spec.md §4.G). A filter without this interface auto-forwards.
type EventProcessor interface {
	ProcessEvent(inst *Instance, ev *events.Event) (cancel bool)
}
