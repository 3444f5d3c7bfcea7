package scheduler

import (
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/gpac-go/fgraph/pkg/filter"
)

// queuedStrategy is the mutex-guarded main task list shared by LockFree,
// Lock and LockForce (spec.md §4.F table: all three list "mutex" as their
// main task list, differing only in how their PID queues are backed).
// Grounded on the teacher's destination endpoints controller
// (controller/api/destination/external-workload/endpoints_controller.go),
// whose processQueue/Get/Done idiom over
// workqueue.TypedRateLimitingInterface[string] is reused here keyed by
// *filter.Instance directly, since instance pointers are already
// comparable and unique per loaded filter.
type queuedStrategy struct {
	q workqueue.TypedRateLimitingInterface[*filter.Instance]
}

func newQueuedStrategy() *queuedStrategy {
	return &queuedStrategy{
		q: workqueue.NewTypedRateLimitingQueue[*filter.Instance](
			workqueue.DefaultTypedControllerRateLimiter[*filter.Instance](),
		),
	}
}

func (s *queuedStrategy) post(inst *filter.Instance) { s.q.Add(inst) }

func (s *queuedStrategy) postAfter(inst *filter.Instance, delay time.Duration) {
	s.q.AddAfter(inst, delay)
}

func (s *queuedStrategy) next() (*filter.Instance, bool) {
	inst, shuttingDown := s.q.Get()
	if shuttingDown {
		return nil, false
	}
	return inst, true
}

func (s *queuedStrategy) tryNext() (*filter.Instance, bool) {
	if s.q.Len() == 0 {
		return nil, false
	}
	return s.next()
}

// done retires the task without requeueing it: spec.md §7 records a
// process error on the instance and leaves it "scheduled off unless the
// filter explicitly recovers" rather than having the scheduler itself
// retry the failed call, so this always Forgets rather than mirroring the
// teacher's AddRateLimited-on-error retry loop.
func (s *queuedStrategy) done(inst *filter.Instance) {
	s.q.Done(inst)
	s.q.Forget(inst)
}

func (s *queuedStrategy) shutdown() { s.q.ShutDownWithDrain() }
