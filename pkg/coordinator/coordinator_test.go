package coordinator

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/mnohosten/collage-2pc/pkg/transport"
	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestCoordinator(t *testing.T, bus transport.Bus) *Coordinator {
	t.Helper()
	c, err := New(t.TempDir(), bus, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStartCommitSendsPrepareToEachParticipant(t *testing.T) {
	net := transport.NewNetwork(nil)
	c := newTestCoordinator(t, net.Endpoint("coordinator"))
	go c.Run()

	p1 := net.Endpoint("p1")
	p2 := net.Endpoint("p2")

	id := c.StartCommit("collage.png", []byte("bytes"), []string{"p1:a.png", "p2:b.png"})

	for _, inbox := range []<-chan transport.Envelope{p1.Inbox(), p2.Inbox()} {
		select {
		case env := <-inbox:
			if env.Msg.Tag != wire.Prepare || env.Msg.TxnID != id {
				t.Fatalf("got %+v, want a PREPARE for %s", env.Msg, id)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for PREPARE")
		}
	}
}

func TestHandleVoteUnanimousCommits(t *testing.T) {
	net := transport.NewNetwork(nil)
	c := newTestCoordinator(t, net.Endpoint("coordinator"))
	go c.Run()

	p1 := net.Endpoint("p1")
	p2 := net.Endpoint("p2")

	id := c.StartCommit("collage.png", []byte("bytes"), []string{"p1:a.png", "p2:b.png"})
	<-p1.Inbox()
	<-p2.Inbox()

	p1.Send("coordinator", wire.Message{Tag: wire.Vote, TxnID: id, Vote: true, From: "p1"})
	p2.Send("coordinator", wire.Message{Tag: wire.Vote, TxnID: id, Vote: true, From: "p2"})

	for _, inbox := range []<-chan transport.Envelope{p1.Inbox(), p2.Inbox()} {
		select {
		case env := <-inbox:
			if env.Msg.Tag != wire.Commit {
				t.Fatalf("got %s, want COMMIT", env.Msg.Tag)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for COMMIT")
		}
	}

	snap, ok := c.GetTransaction(id)
	if !ok || snap.State != txn.StateCommitting {
		t.Fatalf("GetTransaction = %+v, ok=%v, want COMMITTING", snap, ok)
	}
}

func TestHandleVoteNoAborts(t *testing.T) {
	net := transport.NewNetwork(nil)
	c := newTestCoordinator(t, net.Endpoint("coordinator"))
	go c.Run()

	p1 := net.Endpoint("p1")
	id := c.StartCommit("collage.png", []byte("bytes"), []string{"p1:a.png"})
	<-p1.Inbox()

	p1.Send("coordinator", wire.Message{Tag: wire.Vote, TxnID: id, Vote: false, From: "p1"})

	select {
	case env := <-p1.Inbox():
		if env.Msg.Tag != wire.Abort {
			t.Fatalf("got %s, want ABORT", env.Msg.Tag)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ABORT")
	}

	snap, ok := c.GetTransaction(id)
	if !ok || snap.State != txn.StateAborting {
		t.Fatalf("GetTransaction = %+v, ok=%v, want ABORTING", snap, ok)
	}
}

func TestHandleAckCompletesTransaction(t *testing.T) {
	net := transport.NewNetwork(nil)
	c := newTestCoordinator(t, net.Endpoint("coordinator"))
	go c.Run()

	p1 := net.Endpoint("p1")
	id := c.StartCommit("collage.png", []byte("bytes"), []string{"p1:a.png"})
	<-p1.Inbox()

	p1.Send("coordinator", wire.Message{Tag: wire.Vote, TxnID: id, Vote: true, From: "p1"})
	<-p1.Inbox() // COMMIT

	p1.Send("coordinator", wire.Message{Tag: wire.Ack, TxnID: id, From: "p1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := c.GetTransaction(id); ok && snap.State == txn.StateCommitted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transaction never reached COMMITTED after ACK")
}

func TestListTransactions(t *testing.T) {
	net := transport.NewNetwork(nil)
	c := newTestCoordinator(t, net.Endpoint("coordinator"))
	go c.Run()
	net.Endpoint("p1")

	c.StartCommit("a.png", []byte("x"), []string{"p1:a.png"})
	c.StartCommit("b.png", []byte("y"), []string{"p1:b.png"})

	got := c.ListTransactions()
	if len(got) != 2 {
		t.Fatalf("ListTransactions() has %d entries, want 2", len(got))
	}
}

func TestGetTransactionUnknown(t *testing.T) {
	net := transport.NewNetwork(nil)
	c := newTestCoordinator(t, net.Endpoint("coordinator"))
	go c.Run()

	if _, ok := c.GetTransaction("missing"); ok {
		t.Fatal("GetTransaction(missing) = ok, want not found")
	}
}
