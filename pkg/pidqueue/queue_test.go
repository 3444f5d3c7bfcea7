package pidqueue

import (
	"testing"

	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/fourcc"
	"github.com/gpac-go/fgraph/pkg/packet"
	"github.com/gpac-go/fgraph/pkg/props"
)

func testLog() *logging.Entry {
	l := logging.New()
	l.SetLevel(logging.PanicLevel)
	return logging.NewEntry(l)
}

func TestSendOrderPreserved(t *testing.T) {
	for _, mode := range []Mode{ModeLockFree, ModeLocked} {
		q := New(mode, "out", "A", "B", testLog())
		for _, cts := range []uint64{0, 100, 200} {
			p, _ := packet.New(0, 1000)
			p.SetCTS(cts)
			q.Send(p)
		}
		var got []uint64
		for {
			p, _ := q.GetPacket()
			if p == nil {
				break
			}
			got = append(got, p.CTS())
			q.DropPacket()
		}
		if len(got) != 3 || got[0] != 0 || got[1] != 100 || got[2] != 200 {
			t.Fatalf("mode %v: expected [0 100 200], got %v", mode, got)
		}
	}
}

func TestWouldBlockAfterThreshold(t *testing.T) {
	q := New(ModeLocked, "out", "A", "B", testLog())
	q.SetMaxBuffer(5, 0)
	for i := 0; i < 5; i++ {
		p, _ := packet.New(1, 1000)
		q.Send(p)
	}
	if !q.WouldBlock() {
		// byte occupancy must strictly exceed, so send one more
		p, _ := packet.New(1, 1000)
		q.Send(p)
	}
	if !q.WouldBlock() {
		t.Fatalf("expected WouldBlock after exceeding max buffer bytes")
	}
}

func TestEOSLatchRequiresDrain(t *testing.T) {
	q := New(ModeLocked, "out", "A", "B", testLog())
	p, _ := packet.New(0, 1000)
	q.Send(p)
	q.SetEOS()
	if q.IsEOS() {
		t.Fatalf("expected IsEOS false while queue non-empty")
	}
	q.DropPacket()
	if !q.IsEOS() {
		t.Fatalf("expected IsEOS true once drained and latched")
	}
}

func TestPropertyVisibilitySplitsAcrossSendBoundary(t *testing.T) {
	q := New(ModeLocked, "out", "A", "B", testLog())
	widthKey := props.KeyFromCode(fourcc.PIDWidth)

	q.SetProperty(widthKey, props.NewUint32(320))
	p1, _ := packet.New(0, 1000)
	q.Send(p1)

	q.SetProperty(widthKey, props.NewUint32(640))
	p2, _ := packet.New(0, 1000)
	q.Send(p2)

	got1, _ := q.GetPacket()
	w1, _ := got1.GetProperty(widthKey)
	u1, _ := w1.AsUint32()
	if u1 != 320 {
		t.Fatalf("expected first packet to see width=320, got %d", u1)
	}
	q.DropPacket()

	got2, _ := q.GetPacket()
	w2, _ := got2.GetProperty(widthKey)
	u2, _ := w2.AsUint32()
	if u2 != 640 {
		t.Fatalf("expected second packet to see width=640, got %d", u2)
	}
}

// TestSendPreservesPreSetPacketProperty verifies Send merges PID
// properties onto the packet without clobbering a property the producer
// already set directly on the packet via SetProperty (spec.md §3/§4.B).
func TestSendPreservesPreSetPacketProperty(t *testing.T) {
	q := New(ModeLocked, "out", "A", "B", testLog())
	widthKey := props.KeyFromCode(fourcc.PIDWidth)
	ntpKey := props.KeyFromCode(fourcc.PCKSenderNTP)

	q.SetProperty(widthKey, props.NewUint32(320))

	p, _ := packet.New(0, 1000)
	p.SetProperty(ntpKey, props.NewUint64(12345))
	q.Send(p)

	got, _ := q.GetPacket()
	ntp, ok := got.GetProperty(ntpKey)
	if !ok {
		t.Fatal("expected packet-level NTP property to survive Send")
	}
	u, _ := ntp.AsUint64()
	if u != 12345 {
		t.Fatalf("expected NTP 12345, got %d", u)
	}

	w, ok := got.GetProperty(widthKey)
	if !ok {
		t.Fatal("expected PID width property to be merged onto the packet")
	}
	wu, _ := w.AsUint32()
	if wu != 320 {
		t.Fatalf("expected width 320, got %d", wu)
	}
}

func TestReconfigureCalledOnStructuralChange(t *testing.T) {
	q := New(ModeLocked, "out", "A", "B", testLog())
	calls := 0
	q.SetReconfigureFunc(func(*Queue) error {
		calls++
		return nil
	})

	p1, _ := packet.New(0, 1000)
	q.Send(p1)
	if _, err := q.GetPacket(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no reconfigure before any property change, got %d calls", calls)
	}

	q.SetProperty(props.KeyFromCode(fourcc.PIDWidth), props.NewUint32(640))
	q.DropPacket()
	p2, _ := packet.New(0, 1000)
	q.Send(p2)
	if _, err := q.GetPacket(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one reconfigure call, got %d", calls)
	}
}

func TestFailedReconfigureRemovesPID(t *testing.T) {
	q := New(ModeLocked, "out", "A", "B", testLog())
	removed := false
	q.SetOnRemove(func() { removed = true })
	q.SetReconfigureFunc(func(*Queue) error {
		return fourccBadParam()
	})
	q.SetProperty(props.KeyFromCode(fourcc.PIDWidth), props.NewUint32(1))
	p, _ := packet.New(0, 1000)
	q.Send(p)

	got, err := q.GetPacket()
	if err == nil || got != nil {
		t.Fatalf("expected nil packet and error from failed reconfigure")
	}
	if !removed {
		t.Fatalf("expected PID to be implicitly removed")
	}
}

func fourccBadParam() error {
	return &testErr{}
}

type testErr struct{}

func (*testErr) Error() string { return "reconfigure failed" }
