package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/gpac-go/fgraph/pkg/filter"
)

// lfNode is a Michael-Scott style lock-free queue cell, the same shape as
// pidqueue's lockFreeBacking node but holding a filter instance instead of
// a packet (spec.md §9 "Lock-free queues"; LockFreeX is the one mode whose
// main task list itself is lock-free rather than mutex-guarded).
type lfNode struct {
	inst *filter.Instance
	next atomic.Pointer[lfNode]
}

// lockFreeStrategy is LockFreeX's main task list: multiple producers (any
// filter posting a task) and multiple consumers (worker goroutines) are
// supported, unlike pidqueue's single-producer/single-consumer backing, so
// the head is advanced with a CAS loop rather than a plain store.
type lockFreeStrategy struct {
	head   atomic.Pointer[lfNode]
	tail   atomic.Pointer[lfNode]
	bell   chan struct{}
	closed atomic.Bool
}

func newLockFreeStrategy() *lockFreeStrategy {
	sentinel := &lfNode{}
	s := &lockFreeStrategy{bell: make(chan struct{}, 1)}
	s.head.Store(sentinel)
	s.tail.Store(sentinel)
	return s
}

func (s *lockFreeStrategy) push(inst *filter.Instance) {
	n := &lfNode{inst: inst}
	old := s.tail.Swap(n)
	old.next.Store(n)
	select {
	case s.bell <- struct{}{}:
	default:
	}
}

func (s *lockFreeStrategy) pop() (*filter.Instance, bool) {
	for {
		head := s.head.Load()
		next := head.next.Load()
		if next == nil {
			return nil, false
		}
		if s.head.CompareAndSwap(head, next) {
			inst := next.inst
			next.inst = nil
			return inst, true
		}
	}
}

func (s *lockFreeStrategy) post(inst *filter.Instance) { s.push(inst) }

func (s *lockFreeStrategy) postAfter(inst *filter.Instance, delay time.Duration) {
	time.AfterFunc(delay, func() { s.push(inst) })
}

func (s *lockFreeStrategy) tryNext() (*filter.Instance, bool) { return s.pop() }

func (s *lockFreeStrategy) next() (*filter.Instance, bool) {
	for {
		if inst, ok := s.pop(); ok {
			return inst, true
		}
		if s.closed.Load() {
			return nil, false
		}
		select {
		case <-s.bell:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// done satisfies strategy; LockFreeX has no per-task retirement bookkeeping
// once a node has been popped.
func (s *lockFreeStrategy) done(*filter.Instance) {}

func (s *lockFreeStrategy) shutdown() {
	s.closed.Store(true)
	select {
	case s.bell <- struct{}{}:
	default:
	}
}
