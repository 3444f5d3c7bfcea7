// Package pidqueue implements the single-producer/single-consumer PID
// queue described in spec.md §3/§4.C: one output PID connects to exactly
// one input PID, sharing one Queue of packets, with byte/duration
// occupancy tracking, a latched end-of-stream flag and a versioned
// property dictionary that downstream reconfiguration watches.
//
// The backpressure and EOS-latch shape here is grounded on the teacher's
// destinationUpdateQueue (controller/api/destination/update_queue.go):
// a bounded channel-like FIFO, an overflow/would-block signal instead of a
// blocking send, and a latched "done" condition a drain loop checks
// alongside emptiness.
package pidqueue

import (
	"sync"
	"sync/atomic"

	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/fourcc"
	"github.com/gpac-go/fgraph/pkg/packet"
	"github.com/gpac-go/fgraph/pkg/props"
)

// Mode selects the queue's backing implementation. It is kept distinct from
// scheduler.Mode (which also governs the task list) so this package has no
// dependency on pkg/scheduler; pkg/fsession maps one onto the other.
type Mode int

const (
	ModeLockFree Mode = iota
	ModeLocked
)

// Direction distinguishes an output PID view from an input PID view over
// the same underlying Queue (spec.md §3: "an input PID view on a filter F
// is exactly the output PID view of some upstream filter G; they share the
// same queue").
type Direction int

const (
	DirOutput Direction = iota
	DirInput
)

// Stats mirrors spec.md's get_statistics counters.
type Stats struct {
	PacketsSent    uint64
	PacketsDropped uint64
	BytesSent      uint64
}

// ReconfigureFunc is invoked on the consumer side before GetPacket returns
// a packet dispatched after a structural property change, mirroring
// configure_pid(pid, is_remove=false) (spec.md §4.D, §4.E). Returning
// ferr.RequiresNewInstance or any other error causes the PID to be
// implicitly removed, matching spec.md §4.C's GetPacket contract.
type ReconfigureFunc func(q *Queue) error

// Queue is the shared state behind one output→input PID connection.
type Queue struct {
	name string

	producerName string
	consumerName string

	props                  *props.Dict
	info                   *props.Dict
	propVersionAtLastFetch uint64

	requiresFullBlocks bool
	clockModeOwner     bool
	stickyFlag         bool
	looseConnect       bool

	maxBufferBytes    int64
	maxBufferDuration int64 // microseconds

	backing backing

	occBytes    atomic.Int64
	occDuration atomic.Int64 // microseconds, approximated from packet Duration()

	eosLatched atomic.Bool

	stats Stats
	mu    sync.Mutex // guards stats and reconfigure bookkeeping

	onReconfigure ReconfigureFunc
	onRemove      func()
	removed       atomic.Bool

	notifyConsumer func() // hook the scheduler posts a task through
	notifyProducer func() // try_pull hook

	log *logging.Entry
}

// New creates a queue connecting an output PID named outName (owned by
// producerName) to an input PID consumed by consumerName.
func New(mode Mode, outName, producerName, consumerName string, log *logging.Entry) *Queue {
	q := &Queue{
		name:         outName,
		producerName: producerName,
		consumerName: consumerName,
		props:        props.NewDict(),
		info:         props.NewDict(),
		log:          log.WithField("pid", outName),
	}
	if mode == ModeLockFree {
		q.backing = newLockFreeBacking()
	} else {
		q.backing = newLockedBacking()
	}
	return q
}

func (q *Queue) Name() string { return q.name }

// SetNotifyConsumer/SetNotifyProducer wire the scheduler's task-posting
// hooks (spec.md §4.F: a packet dispatch posts a process task on the
// downstream filter; try_pull hints the scheduler to wake the upstream).
func (q *Queue) SetNotifyConsumer(f func()) { q.notifyConsumer = f }
func (q *Queue) SetNotifyProducer(f func()) { q.notifyProducer = f }

// SetReconfigureFunc wires the downstream filter's configure_pid callback.
func (q *Queue) SetReconfigureFunc(f ReconfigureFunc) { q.onReconfigure = f }

// SetOnRemove wires the cleanup invoked when GetPacket implicitly removes
// this PID after a failed reconfigure.
func (q *Queue) SetOnRemove(f func()) { q.onRemove = f }

// --- producer-side operations (spec.md §4.C) ---

// SetProperty mutates the PID's property dictionary. A built-in key is
// only treated as changing the dictionary's reconfiguration version when
// it is structural (pkg/fourcc.IsStructural); dynamic (name-keyed)
// properties and non-structural built-ins update silently. A version
// bump is observed as a deferred reconfiguration the next time the
// consumer calls GetPacket (spec.md §4.A, §4.E).
func (q *Queue) SetProperty(key props.Key, v props.Value) {
	if !key.IsName() && fourcc.IsStructural(key.Code()) {
		q.props.Set(key, v)
		return
	}
	q.props.SetSilent(key, v)
}

func (q *Queue) ResetProperties() { q.props.Reset() }

func (q *Queue) CopyProperties(src *props.Dict) { q.props.CopyFrom(src) }

func (q *Queue) Properties() *props.Dict { return q.props }

// SetInfo mutates the info dictionary. Unlike SetProperty, this never
// triggers reconfiguration (spec.md §3).
func (q *Queue) SetInfo(key props.Key, v props.Value) { q.info.Set(key, v) }

func (q *Queue) Info() *props.Dict { return q.info }

func (q *Queue) SetFramingMode(requiresFullBlocks bool) { q.requiresFullBlocks = requiresFullBlocks }
func (q *Queue) FramingMode() bool                      { return q.requiresFullBlocks }

func (q *Queue) SetMaxBuffer(bytes int64, durationUs int64) {
	q.maxBufferBytes = bytes
	q.maxBufferDuration = durationUs
}

func (q *Queue) SetEOS() {
	q.eosLatched.Store(true)
	if q.notifyConsumer != nil {
		q.notifyConsumer()
	}
}

func (q *Queue) ClearEOS() { q.eosLatched.Store(false) }

// IsEOS reports whether the queue is both drained and EOS-latched
// (spec.md §4.C: "draining continues until both 'queue empty' and 'EOS
// latched' hold").
func (q *Queue) IsEOS() bool {
	return q.eosLatched.Load() && q.backing.len() == 0
}

// WouldBlock reports backpressure: true when byte-occupancy exceeds the
// high-water mark AND duration-occupancy exceeds the PID's max buffer
// (spec.md §4.C — both conditions, not either).
func (q *Queue) WouldBlock() bool {
	if q.maxBufferBytes <= 0 && q.maxBufferDuration <= 0 {
		return false
	}
	byteExceeded := q.maxBufferBytes > 0 && q.occBytes.Load() > q.maxBufferBytes
	durExceeded := q.maxBufferDuration > 0 && q.occDuration.Load() > q.maxBufferDuration
	if q.maxBufferBytes <= 0 {
		return durExceeded
	}
	if q.maxBufferDuration <= 0 {
		return byteExceeded
	}
	return byteExceeded && durExceeded
}

func (q *Queue) SetClockMode(filterInCharge bool) { q.clockModeOwner = filterInCharge }
func (q *Queue) ClockMode() bool                  { return q.clockModeOwner }

func (q *Queue) SetLooseConnect(v bool) { q.looseConnect = v }
func (q *Queue) LooseConnect() bool     { return q.looseConnect }

func (q *Queue) SetSticky(v bool) { q.stickyFlag = v }
func (q *Queue) Sticky() bool     { return q.stickyFlag }

// GetBufferOccupancy reports current occupancy against configured maxima
// (spec.md §4.C).
func (q *Queue) GetBufferOccupancy() (maxSlots int, nbPck int, maxDuration int64, duration int64) {
	return -1, q.backing.len(), q.maxBufferDuration, q.occDuration.Load()
}

func (q *Queue) GetStatistics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Send dispatches p to the queue: ownership passes from the producer to
// the queue (spec.md §4.B). The PID's current properties are merged onto
// the packet's own property overlay, but only for keys p doesn't already
// carry — a property set directly on p via packet.SetProperty before Send
// (e.g. PCKSenderNTP) survives untouched (spec.md §3, §4.B). Properties
// set on the PID after this call are not visible when this packet is
// later fetched (spec.md §8).
func (q *Queue) Send(p *packet.Packet) {
	snap := q.props.Snapshot()
	p.Properties().MergeFrom(snap, func(k props.Key, v props.Value) bool {
		_, exists := p.Properties().Get(k)
		return !exists
	})
	q.sendInternal(p)
}

func (q *Queue) sendInternal(p *packet.Packet) {
	p.MarkSent()
	q.backing.push(p)
	q.occBytes.Add(int64(len(p.Data())))
	if d, ok := p.Duration(); ok && p.Timescale() > 0 {
		q.occDuration.Add(int64(d) * 1_000_000 / int64(p.Timescale()))
	}
	q.mu.Lock()
	q.stats.PacketsSent++
	q.stats.BytesSent += uint64(len(p.Data()))
	q.mu.Unlock()
	if q.notifyConsumer != nil {
		q.notifyConsumer()
	}
}

// Forward dispatches a new packet sharing reference's bytes and inheriting
// its properties (spec.md §4.B forward).
func (q *Queue) Forward(reference *packet.Packet) {
	fwd := packet.NewReference(reference)
	q.sendInternal(fwd)
}

// --- consumer-side operations (spec.md §4.C) ---

// GetPacket returns the head packet, or nil if the queue is empty. If the
// PID's property version has advanced since the last fetch, the wired
// ReconfigureFunc is called first; a failing reconfigure implicitly
// removes the PID and GetPacket returns nil (spec.md §4.C, §4.E).
func (q *Queue) GetPacket() (*packet.Packet, error) {
	if q.removed.Load() {
		return nil, nil
	}
	if q.onReconfigure != nil && q.props.Version() != q.propVersionAtLastFetch {
		if err := q.onReconfigure(q); err != nil {
			q.removed.Store(true)
			if q.onRemove != nil {
				q.onRemove()
			}
			return nil, err
		}
		q.propVersionAtLastFetch = q.props.Version()
	}
	p, ok := q.backing.peek()
	if !ok {
		return nil, nil
	}
	return p, nil
}

// DropPacket removes and releases the head packet.
func (q *Queue) DropPacket() {
	p, ok := q.backing.pop()
	if !ok {
		return
	}
	q.occBytes.Add(-int64(len(p.Data())))
	if d, ok := p.Duration(); ok && p.Timescale() > 0 {
		q.occDuration.Add(-int64(d) * 1_000_000 / int64(p.Timescale()))
	}
	p.Unref()
	if q.notifyProducer != nil {
		q.notifyProducer()
	}
}

func (q *Queue) GetPacketCount() int { return q.backing.len() }

// GetFirstPacketCTS returns the head packet's CTS, or (NoTS, false) if
// empty.
func (q *Queue) GetFirstPacketCTS() (uint64, bool) {
	p, ok := q.backing.peek()
	if !ok {
		return packet.NoTS, false
	}
	return p.CTS(), true
}

func (q *Queue) FirstPacketIsEmpty() bool {
	p, ok := q.backing.peek()
	if !ok {
		return true
	}
	return len(p.Data()) == 0
}

// CheckCaps reports whether the PID's current properties still satisfy
// pred — used by a consumer to notice an incompatible structural change
// without waiting for the next GetPacket (spec.md §4.C).
func (q *Queue) CheckCaps(pred func(*props.Dict) bool) bool { return pred(q.props) }

// TryPull hints that the upstream filter may be idle and should be given a
// scheduler slot (spec.md §4.C).
func (q *Queue) TryPull() {
	if q.notifyProducer != nil {
		q.notifyProducer()
	}
}
