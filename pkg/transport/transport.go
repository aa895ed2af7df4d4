// Package transport implements the collage commit protocol's message bus:
// best-effort, address-routed delivery with no ordering or duplication
// guarantees, per spec.md §6.
package transport

import (
	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

// Envelope pairs an inbound message with the address it arrived from.
type Envelope struct {
	From txn.Address
	Msg  wire.Message
}

// Bus is the transport contract consumed by the role handlers. Send is
// best-effort: a failed send is swallowed (logged, not returned as a
// protocol error) by implementations, matching spec.md §7's "transport
// send failure" policy — reliability comes from the retry engine, not from
// this call succeeding.
type Bus interface {
	// Send delivers msg to addr. Implementations may drop or duplicate it.
	Send(addr txn.Address, msg wire.Message) error

	// Inbox returns the channel of messages arriving from any peer. This
	// stands in for the spec's blocking receive() — callers range over it.
	Inbox() <-chan Envelope

	Close() error
}
