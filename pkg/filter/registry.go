package filter

import (
	"sync"

	"github.com/gpac-go/fgraph/pkg/caps"
	"github.com/gpac-go/fgraph/pkg/ferr"
)

// ArgSpec describes one registry argument (spec.md §6 "argument schema"):
// name, where it lands in the instance's argument dictionary (Offset == -1
// dispatches through ArgUpdater.UpdateArg instead of a direct write),
// type, default/min/max/enum strings, whether runtime updates are allowed,
// and whether it is a meta-arg (opaque string pass-through for proxy
// filters, spec.md GLOSSARY "Meta filter").
type ArgSpec struct {
	Name      string
	Offset    int
	Kind      ArgKind
	Default   string
	Min, Max  string
	Enum      []string
	Updatable bool
	MetaArg   bool
}

// ArgKind mirrors props.Kind without importing props into every call site
// that only declares a schema; args.go's toPropsKind converts it when
// parsing.
type ArgKind int

const (
	ArgSint32 ArgKind = iota
	ArgUint32
	ArgSint64
	ArgUint64
	ArgBool
	ArgFraction
	ArgDouble
	ArgString
	ArgData
)

// Registration is the immutable record registered for a filter type
// (spec.md §3 "Filter registry record"). It is read-only after
// registration; individual filter instances mutate only their own state.
type Registration struct {
	Name          string
	Description   string
	InputBundles  []caps.Bundle
	OutputBundles []caps.Bundle
	Args          []ArgSpec
	Priority      int
	ExplicitOnly  bool
	Clonable      bool

	// RequiresMainThread pins instances of this filter to scheduler worker 0
	// (spec.md §4.F).
	RequiresMainThread bool
	// Sticky filters are not garbage-collected when they have no connected
	// PIDs (spec.md §4.D).
	Sticky bool

	// NewImpl constructs a fresh Impl for each loaded instance.
	NewImpl func() Impl

	// ProbeURL scores this registry's suitability as a source for url/mime,
	// nil for filters that are never used as sources (spec.md §4.D).
	ProbeURL func(url, mime string) int

	order int
}

// Registry is the session-wide, read-only-after-init table of filter
// registrations (spec.md §3, §5 "the filter registry list is shared
// read-only after initialization").
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Registration
	nextOrder int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Registration)}
}

// Register adds reg, matching add_filter_registry (spec.md §4.H, §5).
func (r *Registry) Register(reg *Registration) error {
	if reg.Name == "" || reg.NewImpl == nil {
		return ferr.New(ferr.BadParam, "filter registration requires Name and NewImpl")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[reg.Name]; exists {
		return ferr.New(ferr.BadParam, "filter %q already registered", reg.Name)
	}
	reg.order = r.nextOrder
	r.nextOrder++
	r.byName[reg.Name] = reg
	return nil
}

// Remove drops a registration, matching remove_filter_registry. Callers
// are responsible for only calling this while the session is quiescent
// (spec.md §5).
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Lookup returns the registration for name, if any.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg, ok
}

// All returns every registration, stable-sorted by registration order.
func (r *Registry) All() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.byName))
	for _, reg := range r.byName {
		out = append(out, reg)
	}
	// simple insertion sort by order; registries are small (tens of
	// entries), so this avoids pulling in sort for a handful of swaps.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].order < out[j-1].order; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ProbeURL picks the registration with the highest ProbeURL score for
// url/mime, breaking ties by registration Priority then registration order
// (spec.md §4.D).
func (r *Registry) ProbeURL(url, mime string) (*Registration, error) {
	candidates := r.All()
	var best *Registration
	bestScore := -1
	for _, reg := range candidates {
		if reg.ProbeURL == nil {
			continue
		}
		score := reg.ProbeURL(url, mime)
		if score <= 0 {
			continue
		}
		switch {
		case best == nil || score > bestScore:
			best, bestScore = reg, score
		case score == bestScore && reg.Priority > best.Priority:
			best = reg
		case score == bestScore && reg.Priority == best.Priority && reg.order < best.order:
			best = reg
		}
	}
	if best == nil {
		return nil, ferr.New(ferr.FilterNotFound, "no registered filter can source %q", url)
	}
	return best, nil
}
