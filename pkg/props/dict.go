package props

// Dict is a property dictionary: a mapping from Key to Value with stable
// iteration order (insertion order, matching spec.md §4.A's "stable
// iteration" requirement) and a monotonically increasing version counter.
//
// The version contract (spec.md §3, "PID dictionaries are versioned"): any
// mutation that replaces the dictionary's contents bumps Version(), except
// SetSilent, which leaves it unchanged; readers that capture the version at
// read time can later tell whether anything changed since. Packet dispatch
// (pkg/pidqueue's Queue.Send) merges a Snapshot of the PID dictionary onto
// each packet, so in-flight packets observe properties as they stood at
// dispatch even as the PID's dictionary keeps advancing.
type Dict struct {
	order   []Key
	values  map[Key]Value
	version uint64
}

// NewDict returns an empty, ready-to-use dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[Key]Value)}
}

// Version returns the current version counter.
func (d *Dict) Version() uint64 { return d.version }

// Set replaces (or inserts) the value at key, transferring ownership of the
// value's payload per its tag, and bumps the version.
func (d *Dict) Set(key Key, v Value) {
	if _, exists := d.values[key]; !exists {
		d.order = append(d.order, key)
	}
	d.values[key] = v
	d.version++
}

// Get returns a borrowed view of the value at key.
func (d *Dict) Get(key Key) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// SetSilent mutates the value at key like Set, but does not bump the
// version. Used by callers (e.g. pkg/pidqueue's structural-property gate)
// that need a narrower definition of "changed" than Set's unconditional
// bump.
func (d *Dict) SetSilent(key Key, v Value) {
	if _, exists := d.values[key]; !exists {
		d.order = append(d.order, key)
	}
	d.values[key] = v
}

// Remove deletes key (spec.md's "set with null" semantics collapse onto
// Remove here since Go has no null Value sentinel to set). Bumps the
// version if the key was present.
func (d *Dict) Remove(key Key) {
	if _, exists := d.values[key]; !exists {
		return
	}
	delete(d.values, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.version++
}

// Reset clears every entry, bumping the version once.
func (d *Dict) Reset() {
	d.order = nil
	d.values = make(map[Key]Value)
	d.version++
}

// CopyFrom replaces the receiver's contents with a copy of src's, bumping
// the version once. Enumerate(dst) afterwards yields exactly Enumerate(src)
// (spec.md §8 round-trip property).
func (d *Dict) CopyFrom(src *Dict) {
	d.order = append([]Key(nil), src.order...)
	d.values = make(map[Key]Value, len(src.values))
	for k, v := range src.values {
		d.values[k] = v
	}
	d.version++
}

// MergeFrom copies entries from src into d, keyed entry by entry rather
// than replacing d wholesale, skipping any entry for which predicate
// returns false. Used to overlay a PID's property dictionary onto a
// packet's without clobbering properties the packet already carries
// (spec.md §3/§4.B: packet-level and PID-level properties are distinct
// namespaces until merged). Unlike CopyFrom, entries the predicate skips
// don't bump the version; every entry that is copied goes through Set and
// bumps it, even when its value is unchanged.
func (d *Dict) MergeFrom(src *Dict, predicate func(Key, Value) bool) {
	for i := 0; i < src.Len(); i++ {
		k, v, _ := src.Enumerate(i)
		if predicate != nil && !predicate(k, v) {
			continue
		}
		d.Set(k, v)
	}
}

// Len reports the number of entries.
func (d *Dict) Len() int { return len(d.order) }

// Enumerate returns the (key, value) pair at index in insertion order, or
// false if index is out of range.
func (d *Dict) Enumerate(index int) (Key, Value, bool) {
	if index < 0 || index >= len(d.order) {
		return Key{}, Value{}, false
	}
	k := d.order[index]
	return k, d.values[k], true
}

// Snapshot returns an immutable copy suitable for capturing at dispatch
// time (see pkg/pidqueue's Queue.Send), independent of further mutation of d.
func (d *Dict) Snapshot() *Dict {
	snap := NewDict()
	snap.CopyFrom(d)
	snap.version = d.version
	return snap
}
