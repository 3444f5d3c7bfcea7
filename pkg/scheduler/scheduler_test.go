package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/ferr"
	"github.com/gpac-go/fgraph/pkg/filter"
)

func testLog() *logging.Entry {
	l := logging.New()
	l.SetLevel(logging.PanicLevel)
	return logging.NewEntry(l)
}

// TestModeNumericValuesMatchWireFormat pins Mode's underlying integer
// values to spec.md §6's binary-compatible encoding; reordering the const
// block must not silently change what a persisted or transmitted mode
// value means.
func TestModeNumericValuesMatchWireFormat(t *testing.T) {
	cases := map[Mode]int{
		LockFree:  0,
		Lock:      1,
		LockFreeX: 2,
		LockForce: 3,
		Direct:    4,
	}
	for mode, want := range cases {
		if int(mode) != want {
			t.Fatalf("%s: expected wire value %d, got %d", mode, want, int(mode))
		}
	}
}

type countingImpl struct {
	calls    atomic.Int32
	failOnce atomic.Bool
}

func (c *countingImpl) Initialize(inst *filter.Instance) error { return nil }
func (c *countingImpl) Finalize(inst *filter.Instance)         {}
func (c *countingImpl) Process(inst *filter.Instance) error {
	c.calls.Add(1)
	if c.failOnce.CompareAndSwap(true, false) {
		return ferr.New(ferr.ServiceError, "synthetic failure")
	}
	return nil
}

func newTestInstance(t *testing.T, name string) (*filter.Instance, *countingImpl) {
	t.Helper()
	impl := &countingImpl{}
	reg := &filter.Registration{Name: name, NewImpl: func() filter.Impl { return impl }}
	inst := filter.NewInstance(name+"#1", reg, testLog())
	inst.Impl = impl
	return inst, impl
}

func TestDirectModeRunsTaskInline(t *testing.T) {
	s := New(Direct, 0, testLog())
	inst, impl := newTestInstance(t, "d")

	s.PostProcessTask(inst)
	// Direct mode nests: the call above already ran Process synchronously.
	if impl.calls.Load() != 1 {
		t.Fatalf("expected inline process call, got %d", impl.calls.Load())
	}
	if inst.HasPendingTask() {
		t.Fatal("expected pending-task marker cleared after inline run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if impl.calls.Load() != 1 {
		t.Fatalf("expected no additional process calls from an empty overflow list, got %d", impl.calls.Load())
	}
}

func TestPendingTaskMarkerSuppressesDuplicatePost(t *testing.T) {
	s := New(Lock, 1, testLog())
	inst, _ := newTestInstance(t, "lk")

	inst.TryPostPendingTask() // simulate an already-pending task
	s.PostProcessTask(inst)   // must be a no-op: marker already set

	// Directly exercise RunStep: nothing should be queued.
	if d := s.RunStep(); d != -1 {
		t.Fatalf("expected idle RunStep (-1), got %v", d)
	}
}

func TestLockModeRunsQueuedTask(t *testing.T) {
	s := New(Lock, 2, testLog())
	inst, impl := newTestInstance(t, "lk2")

	s.PostProcessTask(inst)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Stop()
	}()
	defer cancel()
	_ = s.Run(ctx)

	if impl.calls.Load() != 1 {
		t.Fatalf("expected exactly 1 process call, got %d", impl.calls.Load())
	}
}

func TestLockFreeXModeRunsQueuedTask(t *testing.T) {
	s := New(LockFreeX, 2, testLog())
	inst, impl := newTestInstance(t, "lfx")

	s.PostProcessTask(inst)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Stop()
	}()
	defer cancel()
	_ = s.Run(ctx)

	if impl.calls.Load() != 1 {
		t.Fatalf("expected exactly 1 process call, got %d", impl.calls.Load())
	}
}

func TestAbortSurfacesErrorFromRun(t *testing.T) {
	s := New(Lock, 1, testLog())
	wantErr := ferr.New(ferr.ServiceError, "boom")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Abort(wantErr)
	}()

	err := s.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return the abort error")
	}
	if s.LastAbortError() == nil {
		t.Fatal("expected LastAbortError to be recorded")
	}
}

func TestRequiresMainThreadPinsToWorkerZero(t *testing.T) {
	s := New(Lock, 3, testLog())
	inst, impl := newTestInstance(t, "main")
	inst.RequiresMainThread = true

	s.PostProcessTask(inst)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.Stop()
	}()
	defer cancel()
	_ = s.Run(ctx)

	if impl.calls.Load() != 1 {
		t.Fatalf("expected exactly 1 process call for main-thread-pinned filter, got %d", impl.calls.Load())
	}
}
