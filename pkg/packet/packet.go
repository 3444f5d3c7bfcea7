// Package packet implements the reference-counted media packet described in
// spec.md §3/§4.B: payload plus timing, framing and property metadata that
// crosses PID queues between filters running on different scheduler
// threads. The atomic refcount is kept explicit even though Go is
// garbage-collected, because packets must still observe deterministic
// release (hardware frame handles, shared buffers with destructors) the
// moment the last reference drops — see spec.md §9.
package packet

import (
	"sync/atomic"

	"github.com/gpac-go/fgraph/pkg/props"
)

// NoTS is the sentinel "no timestamp" value (spec.md §4.B: "all-ones").
const NoTS uint64 = ^uint64(0)

// SAPType enumerates Stream Access Point kinds.
type SAPType int

const (
	SAPNone SAPType = iota
	SAP1
	SAP2
	SAP3
	SAP4
	SAPRedundant
)

// ClockType enumerates a packet's PCR/clock-discontinuity role.
type ClockType int

const (
	ClockNone ClockType = iota
	ClockPCR
	ClockPCRDisc
)

// Kind discriminates how a packet's payload is backed.
type Kind int

const (
	KindAllocated Kind = iota // newly allocated, writable buffer
	KindShared                // borrows caller bytes, destructor at refcount 0
	KindReference             // borrows another packet's bytes, keeps it alive
	KindHWFrame               // opaque hardware-frame handle
)

// HWFrame is the callback surface for a hardware-frame-backed packet
// (spec.md §4.B "Hardware frame" allocator).
type HWFrame interface {
	GetPlane(planeIdx int) ([]byte, error)
	GetGLTexture(planeIdx int) (uint32, error)
}

// Packet is the unit the scheduler moves between PID queues. All fields
// besides the refcount are immutable once Send has been called; properties
// observed by a consumer are a Snapshot taken at dispatch time, not a live
// view of the producing PID's dictionary (spec.md §3, §8).
type Packet struct {
	kind    Kind
	buf     []byte // owned or borrowed bytes, depending on kind
	destroy func([]byte)
	ref     *Packet // for KindReference: the packet whose bytes we borrow
	hw      HWFrame

	dts, cts, dur uint64
	timescale     uint32
	isStart       bool
	isEnd         bool
	sap           SAPType
	byteOffset    uint64
	seek          bool
	corrupted     bool
	clock         ClockType
	interlaced    bool
	rollCount     int16
	carousel      uint32

	props *props.Dict

	refcount int32
	sent     bool
}

// New allocates a new writable packet of size n bytes on behalf of a
// producing PID, inheriting its timescale. Returns the packet and its
// writable buffer (spec.md §4.B allocator "Allocated").
func New(n int, timescale uint32) (*Packet, []byte) {
	p := &Packet{
		kind:      KindAllocated,
		buf:       make([]byte, n),
		timescale: timescale,
		isStart:   true,
		isEnd:     true,
		dts:       NoTS,
		cts:       NoTS,
		props:     props.NewDict(),
		refcount:  1,
	}
	return p, p.buf
}

// NewShared wraps caller-owned bytes; destroy, if non-nil, is invoked
// exactly once when the refcount reaches zero (spec.md §4.B "Shared").
func NewShared(buf []byte, timescale uint32, destroy func([]byte)) *Packet {
	return &Packet{
		kind:      KindShared,
		buf:       buf,
		destroy:   destroy,
		timescale: timescale,
		isStart:   true,
		isEnd:     true,
		dts:       NoTS,
		cts:       NoTS,
		props:     props.NewDict(),
		refcount:  1,
	}
}

// NewReference borrows src's bytes, incrementing src's refcount until this
// packet is released, and inherits src's properties (spec.md §4.B
// "Reference"; pkg/pidqueue's Queue.Forward builds on it).
func NewReference(src *Packet) *Packet {
	src.Ref()
	p := &Packet{
		kind:      KindReference,
		buf:       src.buf,
		ref:       src,
		timescale: src.timescale,
		isStart:   true,
		isEnd:     true,
		dts:       NoTS,
		cts:       NoTS,
		props:     props.NewDict(),
		refcount:  1,
	}
	p.props.CopyFrom(src.props)
	return p
}

// NewHWFrame wraps an opaque hardware-frame handle (spec.md §4.B
// "Hardware frame").
func NewHWFrame(hw HWFrame, timescale uint32) *Packet {
	return &Packet{
		kind:      KindHWFrame,
		hw:        hw,
		timescale: timescale,
		isStart:   true,
		isEnd:     true,
		dts:       NoTS,
		cts:       NoTS,
		props:     props.NewDict(),
		refcount:  1,
	}
}

// Ref increments the reference count. Balanced Ref/Unref sequences leave
// the refcount unchanged (spec.md §8 round-trip property).
func (p *Packet) Ref() { atomic.AddInt32(&p.refcount, 1) }

// Unref decrements the reference count, running the destructor (or
// releasing the referenced source packet) exactly once when it reaches
// zero. Returns true if this call caused the release.
func (p *Packet) Unref() bool {
	n := atomic.AddInt32(&p.refcount, -1)
	if n > 0 {
		return false
	}
	switch p.kind {
	case KindShared:
		if p.destroy != nil {
			p.destroy(p.buf)
		}
	case KindReference:
		p.ref.Unref()
	}
	return true
}

// RefCount returns the current reference count, primarily for tests and
// statistics.
func (p *Packet) RefCount() int32 { return atomic.LoadInt32(&p.refcount) }

func (p *Packet) Kind() Kind { return p.kind }

// GetPlane delegates to the wrapped hardware-frame handle.
func (p *Packet) GetPlane(planeIdx int) ([]byte, error) {
	if p.kind != KindHWFrame {
		return nil, nil
	}
	return p.hw.GetPlane(planeIdx)
}

// GetGLTexture delegates to the wrapped hardware-frame handle.
func (p *Packet) GetGLTexture(planeIdx int) (uint32, error) {
	if p.kind != KindHWFrame {
		return 0, nil
	}
	return p.hw.GetGLTexture(planeIdx)
}

// Data returns the packet's payload bytes (nil for hardware-frame packets).
func (p *Packet) Data() []byte { return p.buf }

func (p *Packet) Timescale() uint32 { return p.timescale }

func (p *Packet) DTS() uint64     { return p.dts }
func (p *Packet) SetDTS(v uint64) { p.dts = v }
func (p *Packet) CTS() uint64     { return p.cts }
func (p *Packet) SetCTS(v uint64) { p.cts = v }

// Duration returns the explicit duration, or (0, false) if absent —
// consumers may then infer duration from DTS diffs (spec.md §4.B).
func (p *Packet) Duration() (uint64, bool) { return p.dur, p.dur != 0 }
func (p *Packet) SetDuration(v uint64)     { p.dur = v }

func (p *Packet) IsStart() bool { return p.isStart }
func (p *Packet) IsEnd() bool   { return p.isEnd }
func (p *Packet) SetFraming(isStart, isEnd bool) {
	p.isStart, p.isEnd = isStart, isEnd
}

func (p *Packet) SAP() SAPType     { return p.sap }
func (p *Packet) SetSAP(s SAPType) { p.sap = s }

func (p *Packet) ByteOffset() uint64     { return p.byteOffset }
func (p *Packet) SetByteOffset(v uint64) { p.byteOffset = v }

func (p *Packet) Seek() bool     { return p.seek }
func (p *Packet) SetSeek(v bool) { p.seek = v }

func (p *Packet) Corrupted() bool     { return p.corrupted }
func (p *Packet) SetCorrupted(v bool) { p.corrupted = v }

func (p *Packet) Clock() ClockType     { return p.clock }
func (p *Packet) SetClock(c ClockType) { p.clock = c }

func (p *Packet) Interlaced() bool     { return p.interlaced }
func (p *Packet) SetInterlaced(v bool) { p.interlaced = v }

func (p *Packet) RollCount() int16     { return p.rollCount }
func (p *Packet) SetRollCount(v int16) { p.rollCount = v }

func (p *Packet) CarouselVersion() uint32     { return p.carousel }
func (p *Packet) SetCarouselVersion(v uint32) { p.carousel = v }

// Properties returns the packet's property overlay dictionary, mutable
// until the packet is sent.
func (p *Packet) Properties() *props.Dict { return p.props }

// SetProperty is a convenience wrapper over Properties().Set, usable before
// Send.
func (p *Packet) SetProperty(key props.Key, v props.Value) {
	p.props.Set(key, v)
}

// GetProperty is a convenience wrapper over Properties().Get.
func (p *Packet) GetProperty(key props.Key) (props.Value, bool) {
	return p.props.Get(key)
}

// MergePropertiesFrom copies entries from other into p's property overlay,
// optionally filtered by predicate (spec.md §4.B merge_properties_from).
func (p *Packet) MergePropertiesFrom(other *Packet, predicate func(props.Key, props.Value) bool) {
	for i := 0; i < other.props.Len(); i++ {
		k, v, _ := other.props.Enumerate(i)
		if predicate != nil && !predicate(k, v) {
			continue
		}
		p.props.Set(k, v)
	}
}

// Expand grows an allocated packet's buffer by nBytes before it has been
// sent, returning the new writable tail, its byte range and the new total
// size (spec.md §4.B expand). It is only valid before Send.
func (p *Packet) Expand(nBytes int) (buf []byte, newRange [2]int, newSize int, err error) {
	if p.sent {
		return nil, [2]int{}, 0, errPacketAlreadySent
	}
	if p.kind != KindAllocated {
		return nil, [2]int{}, 0, errPacketNotAllocated
	}
	start := len(p.buf)
	p.buf = append(p.buf, make([]byte, nBytes)...)
	return p.buf[start:], [2]int{start, len(p.buf)}, len(p.buf), nil
}

// Truncate shrinks an allocated packet's buffer to size bytes.
func (p *Packet) Truncate(size int) error {
	if p.sent {
		return errPacketAlreadySent
	}
	if size < 0 || size > len(p.buf) {
		return errPacketBadRange
	}
	p.buf = p.buf[:size]
	return nil
}

// MarkSent records that this packet has been dispatched to a PID queue and
// is no longer mutable by its producer (called by pkg/pidqueue on Send and
// Forward; Expand and Truncate check the flag and refuse once it is set).
func (p *Packet) MarkSent()    { p.sent = true }
func (p *Packet) IsSent() bool { return p.sent }
