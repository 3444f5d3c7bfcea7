// Package caps implements the capability descriptors and bundles used by
// the graph resolver to decide which filters can connect (spec.md §3, §4.E).
package caps

import (
	"github.com/gpac-go/fgraph/pkg/fourcc"
	"github.com/gpac-go/fgraph/pkg/props"
)

// Descriptor is one entry of a filter's accept/emit capability set
// (spec.md §3): a 4CC code, the value it must (or must not) match, an
// exclude flag, an in-bundle continuation flag, a priority and an
// explicit-only flag.
type Descriptor struct {
	Code         fourcc.Code
	Value        props.Value
	Exclude      bool
	InBundle     bool
	Priority     int
	ExplicitOnly bool
}

// Bundle is one "OR-ed" alternative in a filter's accept/emit set: a
// contiguous run of descriptors (spec.md GLOSSARY "Capability bundle").
type Bundle []Descriptor

// ParseBundles groups a flat descriptor array into bundles the way the
// original declarative capability arrays are laid out: a contiguous run of
// descriptors with InBundle=true after the first forms one bundle; a
// descriptor with InBundle=false starts the next bundle (spec.md §3).
func ParseBundles(descriptors []Descriptor) []Bundle {
	var bundles []Bundle
	var current Bundle
	for i, d := range descriptors {
		if i == 0 || !d.InBundle {
			if len(current) > 0 {
				bundles = append(bundles, current)
			}
			current = Bundle{d}
			continue
		}
		current = append(current, d)
	}
	if len(current) > 0 {
		bundles = append(bundles, current)
	}
	return bundles
}

func (b Bundle) find(code fourcc.Code) (props.Value, bool) {
	for _, d := range b {
		if d.Code == code {
			return d.Value, true
		}
	}
	return props.Value{}, false
}

// Priority returns the highest descriptor priority in the bundle,
// used by the resolver to rank otherwise-equal matches (spec.md §4.E).
func (b Bundle) Priority() int {
	best := 0
	for _, d := range b {
		if d.Priority > best {
			best = d.Priority
		}
	}
	return best
}

// Match reports whether consumer bundle `in` accepts producer bundle `out`:
// every non-excluded code in `in` must be present in `out` with an equal
// value, and every excluded code in `in` must either be absent from `out`
// or disagree in value (spec.md §3, §8).
func Match(in, out Bundle) bool {
	for _, d := range in {
		val, found := out.find(d.Code)
		if d.Exclude {
			if found && props.Equal(val, d.Value) {
				return false
			}
			continue
		}
		if !found || !props.Equal(val, d.Value) {
			return false
		}
	}
	return true
}

// MatchAny reports whether any bundle pair (one from ins, one from outs)
// matches, and returns the best combined priority among the matching
// pairs: in.Priority() plus out.Priority(), maximized over every match
// (-1 when nothing matches).
func MatchAny(ins, outs []Bundle) (ok bool, priority int) {
	best := -1
	for _, in := range ins {
		for _, out := range outs {
			if Match(in, out) {
				ok = true
				p := in.Priority() + out.Priority()
				if p > best {
					best = p
				}
			}
		}
	}
	return ok, best
}
