package scheduler

import (
	"time"

	"github.com/gpac-go/fgraph/pkg/filter"
)

// directStrategy backs Direct mode's overflow list: most posts are run
// inline by Scheduler.PostProcessTask before this is ever touched; a task
// only lands here when the recursion bound is hit, for runInline to drain
// afterwards (spec.md §4.F). Direct mode is single-threaded by definition,
// so no lock guards the slice.
type directStrategy struct {
	items  []*filter.Instance
	closed bool
}

func (s *directStrategy) post(inst *filter.Instance) { s.items = append(s.items, inst) }

// postAfter has no timer thread to honor delay in Direct mode; the caller
// is expected to drive the run loop itself (e.g. via RunStep on a ticker),
// so the task is simply queued for the next drain.
func (s *directStrategy) postAfter(inst *filter.Instance, _ time.Duration) {
	s.items = append(s.items, inst)
}

func (s *directStrategy) next() (*filter.Instance, bool) { return s.tryNext() }

func (s *directStrategy) tryNext() (*filter.Instance, bool) {
	if s.closed || len(s.items) == 0 {
		return nil, false
	}
	inst := s.items[0]
	s.items = s.items[1:]
	return inst, true
}

func (s *directStrategy) done(*filter.Instance) {}

func (s *directStrategy) shutdown() { s.closed = true }
