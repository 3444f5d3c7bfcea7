package resolver

import (
	"testing"

	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/caps"
	"github.com/gpac-go/fgraph/pkg/filter"
	"github.com/gpac-go/fgraph/pkg/fourcc"
	"github.com/gpac-go/fgraph/pkg/props"
)

func testLog() *logging.Entry {
	l := logging.New()
	l.SetLevel(logging.PanicLevel)
	return logging.NewEntry(l)
}

var streamType = fourcc.Make('S', 'T', 'Y', 'P')
var codecID = fourcc.Make('P', 'O', 'T', 'I')

func bundle(descs ...caps.Descriptor) []caps.Bundle { return []caps.Bundle{caps.Bundle(descs)} }

func newReg(name string, in, out []caps.Bundle) *filter.Registration {
	return &filter.Registration{
		Name:          name,
		InputBundles:  in,
		OutputBundles: out,
		NewImpl:       func() filter.Impl { return nil },
	}
}

// TestResolveDirectChain matches spec.md §8 scenario 1: A has no inputs and
// emits {stream_type=1}; B accepts {stream_type=1}. Direct connection, no
// intermediates.
func TestResolveDirectChain(t *testing.T) {
	reg := filter.NewRegistry()
	aOut := bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)})
	b := newReg("B", bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}), nil)
	_ = reg.Register(b)

	r := New(reg, testLog())
	chain, err := r.ResolveToTarget(aOut, b, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(chain) != 0 {
		t.Fatalf("expected direct connection (empty chain), got %v", chain)
	}
}

// TestResolveChainInsertion matches spec.md §8 scenario 2: A emits
// {codec=9}, B accepts {codec=7}; C bridges {codec=9}->{codec=7}.
func TestResolveChainInsertion(t *testing.T) {
	reg := filter.NewRegistry()
	b := newReg("B", bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(7)}), nil)
	c := newReg("C",
		bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(9)}),
		bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(7)}),
	)
	_ = reg.Register(b)
	_ = reg.Register(c)

	r := New(reg, testLog())
	aOut := bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(9)})
	chain, err := r.ResolveToTarget(aOut, b, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(chain) != 1 || chain[0].Name != "C" {
		t.Fatalf("expected chain [C], got %v", chain)
	}
}

// TestResolveCapabilityExclusion matches spec.md §8 scenario 3: B declares
// input {stream_type=1, EXCLUDE codec=99}; A offers {stream_type=1,
// codec=99}. Direct match must fail, and with no bridging filter
// registered, resolution fails as FILTER_NOT_FOUND.
func TestResolveCapabilityExclusion(t *testing.T) {
	reg := filter.NewRegistry()
	b := newReg("B", bundle(
		caps.Descriptor{Code: streamType, Value: props.NewUint32(1)},
		caps.Descriptor{Code: codecID, Value: props.NewUint32(99), Exclude: true, InBundle: true},
	), nil)
	_ = reg.Register(b)

	r := New(reg, testLog())
	aOut := bundle(
		caps.Descriptor{Code: streamType, Value: props.NewUint32(1)},
		caps.Descriptor{Code: codecID, Value: props.NewUint32(99), InBundle: true},
	)
	if _, err := r.ResolveToTarget(aOut, b, false); err == nil {
		t.Fatal("expected exclusion to block direct connection and chain insertion to fail")
	}
}

func TestResolveToTargetCachesChainResult(t *testing.T) {
	reg := filter.NewRegistry()
	b := newReg("B", bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(7)}), nil)
	c := newReg("C",
		bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(9)}),
		bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(7)}),
	)
	_ = reg.Register(b)
	_ = reg.Register(c)

	r := New(reg, testLog())
	aOut := bundle(caps.Descriptor{Code: codecID, Value: props.NewUint32(9)})

	first, err := r.ResolveToTarget(aOut, b, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	key := chainCacheKey(aOut, b.Name)
	if _, found := r.cache.Get(key); !found {
		t.Fatal("expected chain result to be cached")
	}
	second, err := r.ResolveToTarget(aOut, b, false)
	if err != nil {
		t.Fatalf("resolve (cached): %v", err)
	}
	if len(first) != len(second) || first[0].Name != second[0].Name {
		t.Fatalf("cached result mismatch: %v vs %v", first, second)
	}
}

func TestResolveConsumerRespectsExplicitOnly(t *testing.T) {
	reg := filter.NewRegistry()
	hidden := newReg("hidden", bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)}), nil)
	hidden.ExplicitOnly = true
	_ = reg.Register(hidden)

	r := New(reg, testLog())
	aOut := bundle(caps.Descriptor{Code: streamType, Value: props.NewUint32(1)})

	if _, err := r.ResolveConsumer(aOut, false); err == nil {
		t.Fatal("expected explicit-only filter to be ineligible for implicit resolution")
	}
	got, err := r.ResolveConsumer(aOut, true)
	if err != nil {
		t.Fatalf("resolve with explicit=true: %v", err)
	}
	if got.Name != "hidden" {
		t.Fatalf("expected hidden filter to be eligible when explicit, got %v", got)
	}
}
