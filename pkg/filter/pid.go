package filter

import "github.com/gpac-go/fgraph/pkg/pidqueue"

// PID is a filter's view onto one connection. Two PID values — an
// OwnerSide of pidqueue.DirOutput and one of pidqueue.DirInput — wrap the
// same *pidqueue.Queue (spec.md §3 invariant). Owner/Peer are indices into
// the session's filter pool rather than owning references, which is how
// spec.md §9's design notes break the filter/PID reference cycle without
// weak pointers; here that "index" is simply a pointer the session alone
// is responsible for tearing down.
type PID struct {
	Queue *pidqueue.Queue
	Dir   pidqueue.Direction
	Name  string
	Owner *Instance
	Peer  *Instance
}
