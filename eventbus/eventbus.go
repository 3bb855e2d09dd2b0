// Package eventbus implements the packet MITM core's event dispatch: a
// synchronous pre/post listener registry keyed by (phase, packet FQID), plus
// a one-shot WaitFor rendezvous. It is the Go rendering of
// event_base/event_base.py's EventBase, specialized so listeners run
// synchronously (mutating a packet's Fields in place, exactly like the
// source's pre-dispatch "packet.data[...] = ..." patchers) instead of being
// scheduled as asyncio tasks.
package eventbus

import (
	"sync"

	"github.com/exserverd/mcmitm/protocol"
)

// Phase identifies whether a listener fires before a packet is forwarded
// (and may mutate or drop it) or after (pure notification).
type Phase int

const (
	// Pre listeners run before a packet is written onward; they may mutate
	// Fields in place or set Drop to suppress the write entirely.
	Pre Phase = iota
	// Post listeners run after a packet has been written onward.
	Post
)

// Key identifies one dispatch slot.
type Key struct {
	Phase Phase
	FQID  protocol.FQID
}

// Listener receives the packet at the given phase.
type Listener func(pkt *protocol.Packet)

// Bus is a synchronous, (phase, FQID)-keyed listener registry.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[Key]map[int]Listener
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[Key]map[int]Listener)}
}

// handle is an opaque token returned by AddListener, needed to remove that
// exact listener later (Go funcs aren't comparable, unlike Python's set of
// callables).
type handle struct {
	key Key
	id  int
}

// AddListener registers fn for key and returns a handle for RemoveListener.
func (b *Bus) AddListener(key Key, fn Listener) handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.listeners[key] == nil {
		b.listeners[key] = make(map[int]Listener)
	}
	b.listeners[key][id] = fn
	return handle{key: key, id: id}
}

// RemoveListener unregisters a listener previously returned by AddListener.
func (b *Bus) RemoveListener(h handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.listeners[h.key]
	if set == nil {
		return
	}
	delete(set, h.id)
	if len(set) == 0 {
		delete(b.listeners, h.key)
	}
}

// Notify synchronously invokes every listener registered for key, passing
// pkt. Iteration order is unspecified (listeners are stored in a map) — do
// not register more than one listener per key if ordering between them
// matters. Listeners that mutate pkt.Fields (a map, so mutation is visible
// to the caller) implement the pre-dispatch patching semantics; a listener
// may also set pkt.Drop to suppress a pending write.
func (b *Bus) Notify(key Key, pkt *protocol.Packet) {
	b.mu.Lock()
	set := b.listeners[key]
	fns := make([]Listener, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(pkt)
	}
}

// WaitFor returns a channel that receives exactly once, the next time a
// packet matching key is notified, then automatically unregisters — the
// one-shot rendezvous the PK MITM uses to hold the EncryptionResponse
// forwarding loop until the opposite direction observes LoginSuccess.
func (b *Bus) WaitFor(key Key) <-chan *protocol.Packet {
	ch := make(chan *protocol.Packet, 1)
	var h handle
	var once sync.Once
	fire := func(pkt *protocol.Packet) {
		once.Do(func() {
			ch <- pkt
			b.RemoveListener(h)
		})
	}
	h = b.AddListener(key, fire)
	return ch
}
