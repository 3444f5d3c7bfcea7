package props

import (
	"testing"

	"github.com/gpac-go/fgraph/pkg/fourcc"
)

func TestSetGetRoundTrip(t *testing.T) {
	d := NewDict()
	k := KeyFromCode(fourcc.PIDWidth)
	d.Set(k, NewUint32(640))

	got, ok := d.Get(k)
	if !ok {
		t.Fatalf("expected key present")
	}
	u, ok := got.AsUint32()
	if !ok || u != 640 {
		t.Fatalf("expected 640, got %v (ok=%v)", u, ok)
	}
}

func TestVersionBumpsOnMutation(t *testing.T) {
	d := NewDict()
	v0 := d.Version()
	d.Set(KeyFromName("x"), NewSint32(1))
	if d.Version() == v0 {
		t.Fatalf("expected version to bump on Set")
	}
	v1 := d.Version()
	d.Remove(KeyFromName("x"))
	if d.Version() == v1 {
		t.Fatalf("expected version to bump on Remove")
	}
}

func TestCopyFromMatchesEnumeration(t *testing.T) {
	src := NewDict()
	src.Set(KeyFromName("a"), NewSint32(1))
	src.Set(KeyFromName("b"), NewSint32(2))

	dst := NewDict()
	dst.CopyFrom(src)

	if dst.Len() != src.Len() {
		t.Fatalf("length mismatch: %d vs %d", dst.Len(), src.Len())
	}
	for i := 0; i < src.Len(); i++ {
		sk, sv, _ := src.Enumerate(i)
		dk, dv, ok := dst.Enumerate(i)
		if !ok || sk != dk || !Equal(sv, dv) {
			t.Fatalf("enumeration mismatch at %d: (%v,%v) vs (%v,%v)", i, sk, sv, dk, dv)
		}
	}
}

func TestNamesAndCodesAreDisjoint(t *testing.T) {
	d := NewDict()
	byCode := KeyFromCode(fourcc.Make('T', 'E', 'S', 'T'))
	byName := KeyFromName("TEST")
	d.Set(byCode, NewSint32(1))
	d.Set(byName, NewSint32(2))

	if d.Len() != 2 {
		t.Fatalf("expected code and name keys to be disjoint, got len %d", d.Len())
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	d := NewDict()
	d.Set(KeyFromName("w"), NewUint32(1))
	snap := d.Snapshot()

	d.Set(KeyFromName("w"), NewUint32(2))

	v, _ := snap.Get(KeyFromName("w"))
	u, _ := v.AsUint32()
	if u != 1 {
		t.Fatalf("snapshot observed later mutation: got %d", u)
	}
}
