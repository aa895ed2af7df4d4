package transport

import (
	"testing"
	"time"

	"github.com/mnohosten/collage-2pc/pkg/wire"
)

func TestFaultInjectorDrop(t *testing.T) {
	n := NewNetwork(NewFaultInjector().Add(Rule{
		Kind:        FaultDrop,
		Tag:         wire.Commit,
		Probability: 1,
	}))
	a := n.Endpoint("a")
	b := n.Endpoint("b")
	defer a.Close()
	defer b.Close()

	a.Send("b", wire.Message{Tag: wire.Commit, TxnID: "1"})
	select {
	case env := <-b.Inbox():
		t.Fatalf("expected the COMMIT to be dropped, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFaultInjectorDuplicate(t *testing.T) {
	n := NewNetwork(NewFaultInjector().Add(Rule{
		Kind:        FaultDuplicate,
		Tag:         wire.Ack,
		Probability: 1,
	}))
	a := n.Endpoint("a")
	b := n.Endpoint("b")
	defer a.Close()
	defer b.Close()

	a.Send("b", wire.Message{Tag: wire.Ack, TxnID: "1"})
	recvOrTimeout(t, b.Inbox())
	recvOrTimeout(t, b.Inbox())
}

func TestFaultInjectorMaxApplies(t *testing.T) {
	fi := NewFaultInjector().Add(Rule{
		Kind:        FaultDrop,
		Tag:         wire.Vote,
		Probability: 1,
		MaxApplies:  1,
	})
	n := NewNetwork(fi)
	a := n.Endpoint("a")
	b := n.Endpoint("b")
	defer a.Close()
	defer b.Close()

	a.Send("b", wire.Message{Tag: wire.Vote, TxnID: "1"})
	select {
	case env := <-b.Inbox():
		t.Fatalf("expected the first VOTE to be dropped, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}

	a.Send("b", wire.Message{Tag: wire.Vote, TxnID: "2"})
	env := recvOrTimeout(t, b.Inbox())
	if env.Msg.TxnID != "2" {
		t.Fatalf("second VOTE should have been delivered, got %+v", env)
	}
}

func TestFaultInjectorReorderDeliversOutOfOrder(t *testing.T) {
	fi := NewFaultInjector().Add(Rule{
		Kind:        FaultReorder,
		Tag:         wire.Prepare,
		To:          "dest",
		Probability: 1,
		Delay:       50 * time.Millisecond,
		MaxApplies:  1,
	})
	n := NewNetwork(fi)
	a := n.Endpoint("a")
	dest := n.Endpoint("dest")
	defer a.Close()
	defer dest.Close()

	a.Send("dest", wire.Message{Tag: wire.Prepare, TxnID: "held"})
	a.Send("dest", wire.Message{Tag: wire.Prepare, TxnID: "immediate"})

	first := recvOrTimeout(t, dest.Inbox())
	if first.Msg.TxnID != "immediate" {
		t.Fatalf("first delivered message = %q, want the non-reordered one sent second", first.Msg.TxnID)
	}
	second := recvOrTimeout(t, dest.Inbox())
	if second.Msg.TxnID != "held" {
		t.Fatalf("second delivered message = %q, want the held one released after its delay", second.Msg.TxnID)
	}
}

func TestFaultInjectorDelayDoesNotSerializeOtherTraffic(t *testing.T) {
	fi := NewFaultInjector().Add(Rule{
		Kind:        FaultDelay,
		From:        "slow",
		Probability: 1,
		Delay:       200 * time.Millisecond,
	})
	n := NewNetwork(fi)
	slow := n.Endpoint("slow")
	fast := n.Endpoint("fast")
	dest := n.Endpoint("dest")
	defer slow.Close()
	defer fast.Close()
	defer dest.Close()

	go slow.Send("dest", wire.Message{Tag: wire.Prepare, TxnID: "slow"})

	done := make(chan struct{})
	go func() {
		fast.Send("dest", wire.Message{Tag: wire.Prepare, TxnID: "fast"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("a delayed send on one endpoint blocked an unrelated send")
	}
}
