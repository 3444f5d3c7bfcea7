package fsession

import (
	"bytes"
	"context"
	"testing"
	"time"

	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/caps"
	"github.com/gpac-go/fgraph/pkg/filter"
	"github.com/gpac-go/fgraph/pkg/fourcc"
	"github.com/gpac-go/fgraph/pkg/packet"
	"github.com/gpac-go/fgraph/pkg/props"
	"github.com/gpac-go/fgraph/pkg/scheduler"
)

func testLog() *logging.Entry {
	l := logging.New()
	l.SetLevel(logging.PanicLevel)
	return logging.NewEntry(l)
}

var streamType = fourcc.Make('S', 'T', 'Y', 'P')
var codecID = fourcc.Make('P', 'O', 'T', 'I')

func bundle(descs ...caps.Descriptor) []caps.Bundle { return []caps.Bundle{caps.Bundle(descs)} }

// sourceImpl sends three packets with CTS 0, 100, 200 then sets EOS,
// reproducing spec.md §8 scenario 1's source side.
type sourceImpl struct {
	out  *filter.PID
	sent int
}

func (s *sourceImpl) Initialize(inst *filter.Instance) error {
	pid, err := inst.NewOutputPID("out")
	if err != nil {
		return err
	}
	s.out = pid
	return nil
}

func (s *sourceImpl) Finalize(inst *filter.Instance) {}

func (s *sourceImpl) Process(inst *filter.Instance) error {
	if s.out == nil {
		return nil
	}
	if s.sent >= 3 {
		s.out.Queue.SetEOS()
		return nil
	}
	p, _ := packet.New(4, 1000)
	p.SetCTS(uint64(s.sent * 100))
	s.out.Queue.Send(p)
	s.sent++
	inst.PostSelf()
	return nil
}

// bridgeImpl forwards every packet on its single input to its single
// output unchanged, standing in for scenario 2's capability-bridging
// filter C.
type bridgeImpl struct {
	out *filter.PID
}

func (b *bridgeImpl) Initialize(inst *filter.Instance) error {
	pid, err := inst.NewOutputPID("out")
	if err != nil {
		return err
	}
	b.out = pid
	return nil
}

func (b *bridgeImpl) Finalize(inst *filter.Instance) {}

func (b *bridgeImpl) Process(inst *filter.Instance) error {
	for _, in := range inst.Inputs {
		p, err := in.Queue.GetPacket()
		if err != nil {
			return err
		}
		if p == nil {
			if in.Queue.IsEOS() {
				b.out.Queue.SetEOS()
			}
			continue
		}
		b.out.Queue.Forward(p)
		in.Queue.DropPacket()
	}
	return nil
}

// sinkImpl records the CTS of every packet it observes, in order.
type sinkImpl struct {
	received []uint64
	eos      bool
}

func (s *sinkImpl) Initialize(inst *filter.Instance) error { return nil }
func (s *sinkImpl) Finalize(inst *filter.Instance)         {}

func (s *sinkImpl) Process(inst *filter.Instance) error {
	for _, in := range inst.Inputs {
		p, err := in.Queue.GetPacket()
		if err != nil {
			return err
		}
		if p == nil {
			if in.Queue.IsEOS() {
				s.eos = true
			}
			continue
		}
		s.received = append(s.received, p.CTS())
		in.Queue.DropPacket()
	}
	return nil
}

// configurableSink behaves like sinkImpl but also implements
// filter.PIDConfigurer, recording every configure_pid call (reconfigure
// and teardown alike) so tests can assert on spec.md §4.D/§4.E's
// notification contract.
type configurableSink struct {
	sinkImpl
	configureCalls []bool // isRemove, in call order
}

func (c *configurableSink) ConfigurePID(inst *filter.Instance, pid *filter.PID, isRemove bool) error {
	c.configureCalls = append(c.configureCalls, isRemove)
	return nil
}

func runUntilIdle(t *testing.T, s *Session, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		t.Fatalf("run: %v", err)
	}
}

// TestSessionDirectChainScenario reproduces spec.md §8 scenario 1: A has no
// input and emits {stream_type=1}; B accepts {stream_type=1} directly, no
// bridging filter needed. B must observe CTS 0, 100, 200 in order.
func TestSessionDirectChainScenario(t *testing.T) {
	s := New(4, scheduler.Direct, nil, Option{}, testLog())

	sink := &sinkImpl{}
	_ = s.Registry.Register(&filter.Registration{
		Name:         "B",
		InputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:      func() filter.Impl { return sink },
	})
	src := &sourceImpl{}
	_ = s.Registry.Register(&filter.Registration{
		Name:          "A",
		OutputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:       func() filter.Impl { return src },
	})

	if _, err := s.LoadFilter("A", nil); err != nil {
		t.Fatalf("load A: %v", err)
	}

	runUntilIdle(t, s, time.Second)

	want := []uint64{0, 100, 200}
	if len(sink.received) != len(want) {
		t.Fatalf("expected %d packets, got %d (%v)", len(want), len(sink.received), sink.received)
	}
	for i, cts := range want {
		if sink.received[i] != cts {
			t.Fatalf("packet %d: expected CTS %d, got %d", i, cts, sink.received[i])
		}
	}
	if !sink.eos {
		t.Fatal("expected sink to observe EOS")
	}
	if err := s.GetLastConnectError(); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
}

// TestSessionChainInsertionScenario reproduces spec.md §8 scenario 2: A
// emits {codec=9}, B only accepts {codec=7}; C bridges {codec=9}->{codec=7}
// and the resolver must insert it automatically.
func TestSessionChainInsertionScenario(t *testing.T) {
	s := New(4, scheduler.Direct, nil, Option{}, testLog())

	sink := &sinkImpl{}
	_ = s.Registry.Register(&filter.Registration{
		Name:         "B",
		InputBundles: bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(7)}),
		NewImpl:      func() filter.Impl { return sink },
	})
	_ = s.Registry.Register(&filter.Registration{
		Name:          "C",
		InputBundles:  bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(9)}),
		OutputBundles: bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(7)}),
		NewImpl:       func() filter.Impl { return &bridgeImpl{} },
	})
	src := &sourceImpl{}
	_ = s.Registry.Register(&filter.Registration{
		Name:          "A",
		OutputBundles: bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(9)}),
		NewImpl:       func() filter.Impl { return src },
	})

	if _, err := s.LoadFilter("A", nil); err != nil {
		t.Fatalf("load A: %v", err)
	}

	runUntilIdle(t, s, time.Second)

	want := []uint64{0, 100, 200}
	if len(sink.received) != len(want) {
		t.Fatalf("expected %d packets via bridge, got %d (%v)", len(want), len(sink.received), sink.received)
	}
	for i, cts := range want {
		if sink.received[i] != cts {
			t.Fatalf("packet %d: expected CTS %d, got %d", i, cts, sink.received[i])
		}
	}
}

// TestSessionCapabilityExclusionFailsToConnect reproduces spec.md §8
// scenario 3: B accepts {stream_type=1, codec!=99}, A outputs
// {stream_type=1, codec=99}, and no registered filter bridges the excluded
// capability. A's Initialize fails to find a consumer for its output PID,
// so load_filter returns that error and GetLastConnectError records it (a
// ServiceError wrapping FILTER_NOT_FOUND).
func TestSessionCapabilityExclusionFailsToConnect(t *testing.T) {
	s := New(1, scheduler.Direct, nil, Option{}, testLog())

	_ = s.Registry.Register(&filter.Registration{
		Name: "B",
		InputBundles: bundle(
			caps.Descriptor{Code: streamType, Value: props.NewUint32(1)},
			caps.Descriptor{Code: codecID, Value: props.NewUint32(99), Exclude: true, InBundle: true},
		),
		NewImpl: func() filter.Impl { return &sinkImpl{} },
	})
	_ = s.Registry.Register(&filter.Registration{
		Name: "A",
		OutputBundles: bundle(
			caps.Descriptor{Code: streamType, Value: props.NewUint32(1)},
			caps.Descriptor{Code: codecID, Value: props.NewUint32(99), InBundle: true},
		),
		NewImpl: func() filter.Impl { return &sourceImpl{} },
	})

	if _, err := s.LoadFilter("A", nil); err == nil {
		t.Fatal("expected load A to fail: its output PID has no consumer")
	}

	runUntilIdle(t, s, 200*time.Millisecond)

	if err := s.GetLastConnectError(); err == nil {
		t.Fatal("expected a recorded connect error, got none")
	}
}

// TestSessionGCRemovesUnconnectedInstance verifies the idle GC sweep drops
// a non-sticky filter with no PIDs.
func TestSessionGCRemovesUnconnectedInstance(t *testing.T) {
	s := New(1, scheduler.Direct, nil, Option{}, testLog())
	_ = s.Registry.Register(&filter.Registration{
		Name:    "orphan",
		NewImpl: func() filter.Impl { return &sinkImpl{} },
	})

	if _, err := s.LoadFilter("orphan", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.instances) != 1 {
		t.Fatalf("expected 1 instance before GC, got %d", len(s.instances))
	}

	s.GC()

	if len(s.instances) != 0 {
		t.Fatalf("expected orphan instance collected, got %d remaining", len(s.instances))
	}
}

// TestSessionPrintStatsReportsWiredPID verifies print_stats surfaces one
// line per connected output PID once packets have flowed.
func TestSessionPrintStatsReportsWiredPID(t *testing.T) {
	s := New(4, scheduler.Direct, nil, Option{}, testLog())

	_ = s.Registry.Register(&filter.Registration{
		Name:         "B",
		InputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:      func() filter.Impl { return &sinkImpl{} },
	})
	_ = s.Registry.Register(&filter.Registration{
		Name:          "A",
		OutputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:       func() filter.Impl { return &sourceImpl{} },
	})

	if _, err := s.LoadFilter("A", nil); err != nil {
		t.Fatalf("load A: %v", err)
	}
	runUntilIdle(t, s, time.Second)

	var buf bytes.Buffer
	s.PrintStats(&buf)
	if buf.Len() == 0 {
		t.Fatal("expected non-empty stats output")
	}
}

// TestSessionReconfigureNotifiesConsumerOnStructuralChange reproduces
// spec.md §8 scenario 5: a structural property change on an already-wired
// PID must re-invoke the consumer's configure_pid(is_remove=false),
// reached through the real Session.wire/pidqueue.Queue wiring rather than
// a hand-rolled callback.
func TestSessionReconfigureNotifiesConsumerOnStructuralChange(t *testing.T) {
	s := New(4, scheduler.Direct, nil, Option{}, testLog())

	sink := &configurableSink{}
	_ = s.Registry.Register(&filter.Registration{
		Name:         "B",
		InputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:      func() filter.Impl { return sink },
	})
	src := &sourceImpl{}
	_ = s.Registry.Register(&filter.Registration{
		Name:          "A",
		OutputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:       func() filter.Impl { return src },
	})

	if _, err := s.LoadFilter("A", nil); err != nil {
		t.Fatalf("load A: %v", err)
	}
	runUntilIdle(t, s, time.Second)

	if len(sink.configureCalls) != 1 || sink.configureCalls[0] {
		t.Fatalf("expected exactly one non-remove configure_pid call from the initial wire, got %v", sink.configureCalls)
	}

	src.out.Queue.SetProperty(props.KeyFromCode(fourcc.PIDWidth), props.NewUint32(640))
	p, _ := packet.New(0, 1000)
	p.SetCTS(900)
	src.out.Queue.Send(p)
	if _, err := src.out.Queue.GetPacket(); err != nil {
		t.Fatalf("unexpected error fetching post-reconfigure packet: %v", err)
	}

	if len(sink.configureCalls) != 2 || sink.configureCalls[1] {
		t.Fatalf("expected a second non-remove configure_pid call triggered by the structural change, got %v", sink.configureCalls)
	}
}

// TestSessionRemoveInstanceNotifiesConsumerOfRemoval reproduces spec.md
// §4.D's teardown contract: removing a still-wired producer notifies its
// downstream peer via configure_pid(is_remove=true) before the instance
// disappears from the session.
func TestSessionRemoveInstanceNotifiesConsumerOfRemoval(t *testing.T) {
	s := New(4, scheduler.Direct, nil, Option{}, testLog())

	sink := &configurableSink{}
	_ = s.Registry.Register(&filter.Registration{
		Name:         "B",
		InputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:      func() filter.Impl { return sink },
	})
	src := &sourceImpl{}
	_ = s.Registry.Register(&filter.Registration{
		Name:          "A",
		OutputBundles: bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}),
		NewImpl:       func() filter.Impl { return src },
	})

	a, err := s.LoadFilter("A", nil)
	if err != nil {
		t.Fatalf("load A: %v", err)
	}
	runUntilIdle(t, s, time.Second)

	s.RemoveInstance(a)

	if len(sink.configureCalls) == 0 || !sink.configureCalls[len(sink.configureCalls)-1] {
		t.Fatalf("expected a final isRemove=true configure_pid call from teardown, got %v", sink.configureCalls)
	}
	if len(a.Outputs) != 0 {
		t.Fatalf("expected A's outputs cleared after teardown, got %d remaining", len(a.Outputs))
	}
}

// TestSessionMetricsRegistryIsPrivatePerSession verifies two sessions can
// coexist without a prometheus duplicate-registration panic.
func TestSessionMetricsRegistryIsPrivatePerSession(t *testing.T) {
	a := New(1, scheduler.Direct, nil, Option{}, testLog())
	b := New(1, scheduler.Direct, nil, Option{}, testLog())
	if a.MetricsRegistry() == b.MetricsRegistry() {
		t.Fatal("expected distinct registries per session")
	}
}
