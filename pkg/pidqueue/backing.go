package pidqueue

import (
	"sync"
	"sync/atomic"

	"github.com/gpac-go/fgraph/pkg/packet"
)

// backing is the FIFO storage strategy behind a Queue. Two implementations
// exist — a lock-free atomic linked list and a mutex-protected deque — and
// the choice is never exposed to filter code (spec.md §4.C, §9): Queue
// picks one at construction time based on the session's scheduler Mode.
type backing interface {
	push(p *packet.Packet)
	pop() (*packet.Packet, bool)
	peek() (*packet.Packet, bool)
	len() int
}

// node is a lock-free linked-list cell. next is written with a Release
// store by the producer and read with an Acquire load by the consumer,
// giving the single-producer/single-consumer handoff its memory-ordering
// guarantee without a mutex (spec.md §9 "Lock-free queues").
type node struct {
	p    *packet.Packet
	next atomic.Pointer[node]
}

// lockFreeBacking implements backing as a singly linked list with atomic
// head/tail cursors, used by the LOCK_FREE and LOCK_FREE_X scheduler modes.
type lockFreeBacking struct {
	head atomic.Pointer[node] // dummy sentinel; head.next is the real head
	tail atomic.Pointer[node]
	n    atomic.Int64
}

func newLockFreeBacking() *lockFreeBacking {
	sentinel := &node{}
	b := &lockFreeBacking{}
	b.head.Store(sentinel)
	b.tail.Store(sentinel)
	return b
}

func (b *lockFreeBacking) push(p *packet.Packet) {
	n := &node{p: p}
	old := b.tail.Swap(n)
	old.next.Store(n)
	b.n.Add(1)
}

func (b *lockFreeBacking) pop() (*packet.Packet, bool) {
	head := b.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}
	b.head.Store(next)
	b.n.Add(-1)
	p := next.p
	next.p = nil
	return p, true
}

func (b *lockFreeBacking) peek() (*packet.Packet, bool) {
	head := b.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}
	return next.p, true
}

func (b *lockFreeBacking) len() int { return int(b.n.Load()) }

// lockedBacking implements backing as a mutex-protected deque, used by the
// LOCK and LOCK_FORCE scheduler modes.
type lockedBacking struct {
	mu    sync.Mutex
	items []*packet.Packet
}

func newLockedBacking() *lockedBacking {
	return &lockedBacking{}
}

func (b *lockedBacking) push(p *packet.Packet) {
	b.mu.Lock()
	b.items = append(b.items, p)
	b.mu.Unlock()
}

func (b *lockedBacking) pop() (*packet.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	p := b.items[0]
	b.items = b.items[1:]
	return p, true
}

func (b *lockedBacking) peek() (*packet.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	return b.items[0], true
}

func (b *lockedBacking) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
