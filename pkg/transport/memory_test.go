package transport

import (
	"testing"
	"time"

	"github.com/mnohosten/collage-2pc/pkg/wire"
)

func recvOrTimeout(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Envelope{}
	}
}

func TestNetworkDeliversInOrder(t *testing.T) {
	n := NewNetwork(nil)
	a := n.Endpoint("a")
	b := n.Endpoint("b")
	defer a.Close()
	defer b.Close()

	a.Send("b", wire.Message{Tag: wire.Prepare, TxnID: "1"})
	a.Send("b", wire.Message{Tag: wire.Prepare, TxnID: "2"})

	first := recvOrTimeout(t, b.Inbox())
	second := recvOrTimeout(t, b.Inbox())
	if first.Msg.TxnID != "1" || second.Msg.TxnID != "2" {
		t.Fatalf("got order %s, %s, want 1, 2", first.Msg.TxnID, second.Msg.TxnID)
	}
	if first.From != "a" {
		t.Fatalf("From = %s, want a", first.From)
	}
}

func TestNetworkDropsToUnknownEndpoint(t *testing.T) {
	n := NewNetwork(nil)
	a := n.Endpoint("a")
	defer a.Close()

	// No endpoint "b" registered: Send must not block or panic.
	if err := a.Send("b", wire.Message{Tag: wire.Prepare, TxnID: "1"}); err != nil {
		t.Fatalf("Send to unknown endpoint returned error: %v", err)
	}
}

func TestClosedBusIgnoresSend(t *testing.T) {
	n := NewNetwork(nil)
	a := n.Endpoint("a")
	b := n.Endpoint("b")
	defer b.Close()

	a.Close()
	if err := a.Send("b", wire.Message{Tag: wire.Prepare, TxnID: "1"}); err != nil {
		t.Fatalf("Send on closed bus returned error: %v", err)
	}
	select {
	case env := <-b.Inbox():
		t.Fatalf("unexpected delivery after sender closed: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}
