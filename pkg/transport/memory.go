package transport

import (
	"sync"
	"time"

	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

// Network is an in-memory message bus connecting any number of named
// endpoints, used by tests in place of the websocket transport. Every
// endpoint registered on a Network can reach every other by address.
type Network struct {
	mu        sync.Mutex
	endpoints map[txn.Address]*MemoryBus
	faults    *FaultInjector
}

// NewNetwork creates an empty in-memory network. faults may be nil, in
// which case every send is delivered exactly once, in order, immediately.
func NewNetwork(faults *FaultInjector) *Network {
	if faults == nil {
		faults = NewFaultInjector()
	}
	return &Network{endpoints: make(map[txn.Address]*MemoryBus), faults: faults}
}

// Endpoint registers addr on the network and returns its Bus.
func (n *Network) Endpoint(addr txn.Address) *MemoryBus {
	n.mu.Lock()
	defer n.mu.Unlock()
	b := &MemoryBus{self: addr, network: n, inbox: make(chan Envelope, 256)}
	n.endpoints[addr] = b
	return b
}

func (n *Network) deliver(from, to txn.Address, msg wire.Message) {
	n.mu.Lock()
	dest, ok := n.endpoints[to]
	n.mu.Unlock()
	if !ok {
		return
	}

	rule := n.faults.Decide(from, to, msg)
	if rule == nil {
		deliverTo(dest, from, msg)
		return
	}

	switch rule.Kind {
	case FaultDrop:
	case FaultDuplicate:
		deliverTo(dest, from, msg)
		deliverTo(dest, from, msg)
	case FaultDelay:
		time.Sleep(rule.Delay)
		deliverTo(dest, from, msg)
	case FaultReorder:
		// Hold this message off the calling goroutine entirely so that
		// whatever the sender delivers next on an unrelated call gets to
		// dest.inbox first, then release this one.
		go func() {
			time.Sleep(rule.Delay)
			deliverTo(dest, from, msg)
		}()
	default:
		deliverTo(dest, from, msg)
	}
}

func deliverTo(dest *MemoryBus, from txn.Address, msg wire.Message) {
	select {
	case dest.inbox <- Envelope{From: from, Msg: msg}:
	default:
	}
}

// MemoryBus is one endpoint's view of a Network.
type MemoryBus struct {
	self    txn.Address
	network *Network
	inbox   chan Envelope
	closed  bool
	mu      sync.Mutex
}

func (b *MemoryBus) Send(addr txn.Address, msg wire.Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil
	}
	b.network.deliver(b.self, addr, msg)
	return nil
}

func (b *MemoryBus) Inbox() <-chan Envelope { return b.inbox }

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbox)
	}
	return nil
}
