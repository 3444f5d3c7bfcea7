// Package props implements the typed tagged-union property values and the
// per-PID/per-packet/per-filter dictionaries that carry them (spec.md §3,
// §4.A). Dictionaries are plain Go maps guarded by the caller's own
// synchronization discipline — the spec requires PID dictionaries be
// mutated only by their owning filter on its scheduler thread (spec.md §5),
// so no internal locking is added here.
package props

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gpac-go/fgraph/pkg/ferr"
)

// Kind discriminates which arm of Value is live. A Value's Kind uniquely
// determines which field is meaningful; the invariant is enforced by only
// constructing Values through the New* helpers below.
type Kind int

const (
	KindNone Kind = iota
	KindSint32
	KindUint32
	KindSint64
	KindUint64
	KindBool
	KindFraction
	KindFixed
	KindDouble
	KindString // owned or adopted string
	KindName   // borrowed/interned string (dynamic property name as a value)
	KindData   // owned or adopted byte buffer
	KindBorrowedData
	KindPointer
)

// Fraction is a num/den pair, as used for frame rates and sample aspect
// ratios.
type Fraction struct {
	Num, Den int32
}

// Value is the tagged union described in spec.md §3. Construction always
// goes through a New* function so Kind and the live field stay consistent.
type Value struct {
	kind Kind

	i32  int32
	u32  uint32
	i64  int64
	u64  uint64
	b    bool
	frac Fraction
	fix  int32 // fixed-point, 16.16
	dbl  float64
	str  string
	data []byte
	ptr  any
}

func (v Value) Kind() Kind { return v.kind }

func NewSint32(x int32) Value  { return Value{kind: KindSint32, i32: x} }
func NewUint32(x uint32) Value { return Value{kind: KindUint32, u32: x} }
func NewSint64(x int64) Value  { return Value{kind: KindSint64, i64: x} }
func NewUint64(x uint64) Value { return Value{kind: KindUint64, u64: x} }
func NewBool(x bool) Value     { return Value{kind: KindBool, b: x} }
func NewFraction(num, den int32) Value {
	return Value{kind: KindFraction, frac: Fraction{Num: num, Den: den}}
}
func NewFixed(x int32) Value    { return Value{kind: KindFixed, fix: x} }
func NewDouble(x float64) Value { return Value{kind: KindDouble, dbl: x} }
func NewPointer(p any) Value    { return Value{kind: KindPointer, ptr: p} }

// NewString copies s into a newly owned string value.
func NewString(s string) Value { return Value{kind: KindString, str: s} }

// NewStringAdopt stores s without copying, matching the "adopt-ownership"
// constructor variant spec.md §3 calls out as distinct from copy: once
// stored, the dictionary owns the memory uniformly, so from the caller's
// perspective the two constructors behave identically in Go (strings are
// immutable) — the distinction only matters for non-GC'd languages, and is
// kept here so the API shape mirrors the original.
func NewStringAdopt(s string) Value { return Value{kind: KindString, str: s} }

// NewName wraps an interned dynamic property name as a borrowed-string
// value.
func NewName(s string) Value { return Value{kind: KindName, str: s} }

// NewData copies b into a newly owned byte buffer value.
func NewData(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindData, data: cp}
}

// NewDataAdopt stores b without copying; the dictionary now owns the slice
// and the caller must not mutate it afterwards.
func NewDataAdopt(b []byte) Value { return Value{kind: KindData, data: b} }

// NewBorrowedData wraps b as a reference the dictionary does not own; the
// caller remains responsible for b's lifetime.
func NewBorrowedData(b []byte) Value { return Value{kind: KindBorrowedData, data: b} }

func (v Value) AsSint32() (int32, bool) {
	if v.kind != KindSint32 {
		return 0, false
	}
	return v.i32, true
}

func (v Value) AsUint32() (uint32, bool) {
	if v.kind != KindUint32 {
		return 0, false
	}
	return v.u32, true
}

func (v Value) AsSint64() (int64, bool) {
	if v.kind != KindSint64 {
		return 0, false
	}
	return v.i64, true
}

func (v Value) AsUint64() (uint64, bool) {
	if v.kind != KindUint64 {
		return 0, false
	}
	return v.u64, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsFraction() (Fraction, bool) {
	if v.kind != KindFraction {
		return Fraction{}, false
	}
	return v.frac, true
}

func (v Value) AsFixed() (int32, bool) {
	if v.kind != KindFixed {
		return 0, false
	}
	return v.fix, true
}

func (v Value) AsDouble() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.dbl, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString && v.kind != KindName {
		return "", false
	}
	return v.str, true
}

func (v Value) AsData() ([]byte, bool) {
	if v.kind != KindData && v.kind != KindBorrowedData {
		return nil, false
	}
	return v.data, true
}

func (v Value) AsPointer() (any, bool) {
	if v.kind != KindPointer {
		return nil, false
	}
	return v.ptr, true
}

// Equal reports whether two values carry the same kind and payload, used by
// the capability matcher to compare descriptor values against PID
// properties (spec.md §3 "capability bundle" semantics).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindSint32:
		return a.i32 == b.i32
	case KindUint32:
		return a.u32 == b.u32
	case KindSint64:
		return a.i64 == b.i64
	case KindUint64:
		return a.u64 == b.u64
	case KindBool:
		return a.b == b.b
	case KindFraction:
		return a.frac == b.frac
	case KindFixed:
		return a.fix == b.fix
	case KindDouble:
		return a.dbl == b.dbl
	case KindString, KindName:
		return a.str == b.str
	case KindData, KindBorrowedData:
		return string(a.data) == string(b.data)
	case KindPointer:
		return a.ptr == b.ptr
	default:
		return true // both KindNone
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindSint32:
		return strconv.FormatInt(int64(v.i32), 10)
	case KindUint32:
		return strconv.FormatUint(uint64(v.u32), 10)
	case KindSint64:
		return strconv.FormatInt(v.i64, 10)
	case KindUint64:
		return strconv.FormatUint(v.u64, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindFraction:
		return fmt.Sprintf("%d/%d", v.frac.Num, v.frac.Den)
	case KindFixed:
		return strconv.FormatFloat(float64(v.fix)/65536.0, 'f', -1, 64)
	case KindDouble:
		return strconv.FormatFloat(v.dbl, 'f', -1, 64)
	case KindString, KindName:
		return v.str
	case KindData, KindBorrowedData:
		return fmt.Sprintf("<%d bytes>", len(v.data))
	case KindPointer:
		return fmt.Sprintf("%v", v.ptr)
	default:
		return "<none>"
	}
}

// Parse builds a Value of kind from a textual representation, optionally
// validated against an enum list (a slice of accepted strings), the
// way a registry argument schema's default/min/max/enum strings are
// resolved into typed values (spec.md §4.A, §6 argument schema).
func Parse(kind Kind, text string, enum []string) (Value, error) {
	if len(enum) > 0 {
		ok := false
		for _, e := range enum {
			if e == text {
				ok = true
				break
			}
		}
		if !ok {
			return Value{}, ferr.New(ferr.BadParam, "value %q not in enum %v", text, enum)
		}
	}

	switch kind {
	case KindSint32:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return Value{}, ferr.Wrap(ferr.BadParam, err, "parsing sint32 %q", text)
		}
		return NewSint32(int32(n)), nil
	case KindUint32:
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return Value{}, ferr.Wrap(ferr.BadParam, err, "parsing uint32 %q", text)
		}
		return NewUint32(uint32(n)), nil
	case KindSint64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, ferr.Wrap(ferr.BadParam, err, "parsing sint64 %q", text)
		}
		return NewSint64(n), nil
	case KindUint64:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return Value{}, ferr.Wrap(ferr.BadParam, err, "parsing uint64 %q", text)
		}
		return NewUint64(n), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, ferr.Wrap(ferr.BadParam, err, "parsing bool %q", text)
		}
		return NewBool(b), nil
	case KindFraction:
		parts := strings.SplitN(text, "/", 2)
		if len(parts) != 2 {
			return Value{}, ferr.New(ferr.BadParam, "fraction %q must be num/den", text)
		}
		num, err1 := strconv.ParseInt(parts[0], 10, 32)
		den, err2 := strconv.ParseInt(parts[1], 10, 32)
		if err1 != nil || err2 != nil {
			return Value{}, ferr.New(ferr.BadParam, "fraction %q must be num/den", text)
		}
		return NewFraction(int32(num), int32(den)), nil
	case KindDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, ferr.Wrap(ferr.BadParam, err, "parsing double %q", text)
		}
		return NewDouble(f), nil
	case KindString, KindName:
		return NewString(text), nil
	case KindData:
		return NewData([]byte(text)), nil
	default:
		return Value{}, ferr.New(ferr.BadParam, "unsupported value kind %d", kind)
	}
}
