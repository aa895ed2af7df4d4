// Package participant implements the participant side of the collage
// commit protocol: PREPARE/COMMIT/ABORT handling, the source-file lock
// manager, and the local user-approval oracle.
package participant

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/mnohosten/collage-2pc/pkg/durablelog"
	"github.com/mnohosten/collage-2pc/pkg/imagestore"
	"github.com/mnohosten/collage-2pc/pkg/transport"
	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

// Participant holds one node's locked-image state and source filesystem.
type Participant struct {
	id     txn.Address
	store  *imagestore.Store
	log    *durablelog.Log[snapshot]
	bus    transport.Bus
	oracle ApprovalOracle
	logger *log.Logger

	mu                 sync.Mutex
	activeTransactions map[txn.ID][]string
	lockedImages       map[string]txn.ID

	stop     chan struct{}
	stopOnce sync.Once
}

// New opens dataDir (both the source image filesystem and the durable log
// live there), replays the log, and returns a ready Participant. The
// caller must call Run to start consuming inbound messages.
func New(id txn.Address, dataDir string, bus transport.Bus, oracle ApprovalOracle, logger *log.Logger) (*Participant, error) {
	if logger == nil {
		logger = log.Default()
	}
	store, err := imagestore.Open(dataDir)
	if err != nil {
		return nil, err
	}

	p := &Participant{
		id:                 id,
		store:              store,
		bus:                bus,
		oracle:             oracle,
		logger:             logger,
		activeTransactions: make(map[txn.ID][]string),
		lockedImages:       make(map[string]txn.ID),
		stop:               make(chan struct{}),
	}
	p.log = durablelog.New[snapshot](filepath.Join(dataDir, fmt.Sprintf("usernode_%s_log.dat", id)), logger)

	if err := p.recover(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Participant) recover() error {
	snap, ok, err := p.log.Load()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.ActiveTransactions != nil {
		p.activeTransactions = snap.ActiveTransactions
	}
	if snap.LockedImages != nil {
		p.lockedImages = snap.LockedImages
	}
	return nil
}

// Run consumes inbound messages until the bus closes or Close is called.
func (p *Participant) Run() {
	for {
		select {
		case <-p.stop:
			return
		case env, ok := <-p.bus.Inbox():
			if !ok {
				return
			}
			p.DeliverMessage(env.From, env.Msg)
		}
	}
}

// Close stops Run and closes the transport. Safe to call more than once.
func (p *Participant) Close() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stop)
		err = p.bus.Close()
	})
	return err
}

// DeliverMessage handles one inbound message from from. It returns true if
// the tag was recognized and consumed, matching the participant's public
// contract in spec.md §4.2.
func (p *Participant) DeliverMessage(from txn.Address, msg wire.Message) bool {
	switch msg.Tag {
	case wire.Prepare:
		p.handlePrepare(from, msg)
		return true
	case wire.Commit:
		p.handleCommit(from, msg)
		return true
	case wire.Abort:
		p.handleAbort(from, msg)
		return true
	default:
		p.logger.Printf("participant %s: dropping unexpected tag %q from %s", p.id, msg.Tag, from)
		return false
	}
}

func (p *Participant) handlePrepare(from txn.Address, msg wire.Message) {
	p.mu.Lock()
	if _, exists := p.activeTransactions[msg.TxnID]; exists {
		// Re-delivery of PREPARE for a txn we already hold locks for:
		// idempotent, vote YES again without re-checking or re-prompting.
		p.mu.Unlock()
		p.sendVote(from, msg.TxnID, true)
		return
	}

	ok := p.filesAvailableLocked(msg.TxnID, msg.Filenames)
	if ok {
		p.mu.Unlock()
		approved, err := p.oracle.Ask(context.Background(), msg.ImageBytes, msg.Filenames)
		if err != nil {
			p.logger.Printf("participant %s: approval oracle error for %s: %v", p.id, msg.TxnID, err)
			approved = false
		}
		p.mu.Lock()
		ok = approved
	}

	if ok {
		p.activeTransactions[msg.TxnID] = msg.Filenames
		for _, f := range msg.Filenames {
			p.lockedImages[f] = msg.TxnID
		}
		p.flushLocked()
		p.mu.Unlock()
		p.sendVote(from, msg.TxnID, true)
		return
	}

	// A NO vote on a transaction that already has an entry releases any
	// locks it might hold, even though the normal path above never creates
	// an entry before voting YES — this is a safety net against a
	// transaction record left behind by an earlier, partially-applied
	// PREPARE.
	p.releaseLocked(msg.TxnID)
	p.mu.Unlock()
	p.sendVote(from, msg.TxnID, false)
}

// filesAvailableLocked reports whether every filename is present on disk
// and either unlocked or locked by txnID itself. Caller holds p.mu.
func (p *Participant) filesAvailableLocked(txnID txn.ID, filenames []string) bool {
	for _, f := range filenames {
		if !p.store.Exists(f) {
			return false
		}
		if owner, locked := p.lockedImages[f]; locked && owner != txnID {
			return false
		}
	}
	return true
}

func (p *Participant) handleCommit(from txn.Address, msg wire.Message) {
	p.mu.Lock()
	files, exists := p.activeTransactions[msg.TxnID]
	if !exists {
		// Already applied (or never known locally): at-most-once effect
		// under retries means this is a no-op that still ACKs.
		p.mu.Unlock()
		p.sendAck(from, msg.TxnID)
		return
	}

	for _, f := range files {
		if err := p.store.Delete(f); err != nil {
			p.logger.Printf("participant %s: deleting %s for %s: %v", p.id, f, msg.TxnID, err)
		}
		if owner, locked := p.lockedImages[f]; locked && owner == msg.TxnID {
			delete(p.lockedImages, f)
		}
	}
	delete(p.activeTransactions, msg.TxnID)
	p.flushLocked()
	p.mu.Unlock()
	p.sendAck(from, msg.TxnID)
}

func (p *Participant) handleAbort(from txn.Address, msg wire.Message) {
	p.mu.Lock()
	p.releaseLocked(msg.TxnID)
	p.mu.Unlock()
	p.sendAck(from, msg.TxnID)
}

// releaseLocked drops txnID's entry and any locks it still holds. A no-op
// (including no log flush) if txnID has no entry, so an ABORT for an
// unknown transaction leaves the state untouched. Caller holds p.mu.
func (p *Participant) releaseLocked(txnID txn.ID) {
	files, exists := p.activeTransactions[txnID]
	if !exists {
		return
	}
	for _, f := range files {
		if owner, locked := p.lockedImages[f]; locked && owner == txnID {
			delete(p.lockedImages, f)
		}
	}
	delete(p.activeTransactions, txnID)
	p.flushLocked()
}

func (p *Participant) sendVote(to txn.Address, id txn.ID, vote bool) {
	p.bus.Send(to, wire.Message{Tag: wire.Vote, TxnID: id, Vote: vote, From: p.id})
}

func (p *Participant) sendAck(to txn.Address, id txn.ID) {
	p.bus.Send(to, wire.Message{Tag: wire.Ack, TxnID: id, From: p.id})
}

// LockCount returns the number of currently locked source files, for tests
// asserting no-lock-leakage after a transaction terminates.
func (p *Participant) LockCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lockedImages)
}

// LockOwner returns the transaction id currently holding filename, if any.
func (p *Participant) LockOwner(filename string) (txn.ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.lockedImages[filename]
	return id, ok
}
