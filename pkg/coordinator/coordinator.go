// Package coordinator implements the coordinator side of the collage
// commit protocol: transaction initiation, vote and ack handling, the
// PREPARE deadline and decision-sweep retry engine, and crash recovery.
package coordinator

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/mnohosten/collage-2pc/pkg/durablelog"
	"github.com/mnohosten/collage-2pc/pkg/imagestore"
	"github.com/mnohosten/collage-2pc/pkg/transport"
	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

const (
	// PrepareDeadline bounds how long a transaction may sit in PREPARING
	// before it is unilaterally aborted.
	PrepareDeadline = 3 * time.Second

	// HeartbeatPeriod is how often the decision sweeper resends COMMIT/ABORT
	// to participants still in a transaction's ackPending set.
	HeartbeatPeriod = 1 * time.Second
)

// Coordinator drives the protocol for every transaction it originates.
type Coordinator struct {
	dataDir string
	store   *imagestore.Store
	log     *durablelog.Log[logSnapshot]
	bus     transport.Bus
	logger  *log.Logger
	metrics *Metrics

	table   sync.Map // txn.ID -> *txn.Transaction
	timers  sync.Map // txn.ID -> *time.Timer
	counter struct {
		mu   sync.Mutex
		next uint64
	}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New opens (or creates) the coordinator's data directory, replays its
// durable log, and returns a ready Coordinator. The caller must call Run to
// start the dispatcher and retry sweeper.
func New(dataDir string, bus transport.Bus, logger *log.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = log.Default()
	}
	store, err := imagestore.Open(dataDir)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		dataDir: dataDir,
		store:   store,
		bus:     bus,
		logger:  logger,
		metrics: NewMetrics(),
		stop:    make(chan struct{}),
	}
	c.log = durablelog.New[logSnapshot](filepath.Join(dataDir, "server_log.dat"), logger)

	if err := c.recover(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) recover() error {
	snap, ok, err := c.log.Load()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	c.counter.mu.Lock()
	c.counter.next = snap.NextID
	c.counter.mu.Unlock()

	for _, ts := range snap.Transactions {
		imageBytes, derr := decompress(ts.ImageBytes)
		if derr != nil {
			c.logger.Printf("coordinator: recover %s: decompress image bytes: %v (keeping compressed form)", ts.ID, derr)
		} else {
			ts.ImageBytes = imageBytes
		}
		t := txn.FromSnapshot(ts)
		// Crash-recovery rule: a transaction found in PREPARING may have
		// lost in-flight votes, so it is conservatively forced to ABORTING.
		t.ForceAbortingIfPreparing()
		c.table.Store(t.ID, t)
		c.metrics.RecordState(t.State)
	}
	return c.flushAll()
}

// Run starts the message dispatcher and the retry/decision sweeper. It
// blocks until Close is called.
func (c *Coordinator) Run() {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.dispatchLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.sweepLoop()
	}()
	c.wg.Wait()
}

// Close stops the dispatcher and sweeper and closes the transport. Safe to
// call more than once.
func (c *Coordinator) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)
		err = c.bus.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Coordinator) dispatchLoop() {
	for {
		select {
		case <-c.stop:
			return
		case env, ok := <-c.bus.Inbox():
			if !ok {
				return
			}
			switch env.Msg.Tag {
			case wire.Vote:
				c.handleVote(env.Msg.TxnID, env.From, env.Msg.Vote)
			case wire.Ack:
				c.handleAck(env.Msg.TxnID, env.From)
			default:
				c.logger.Printf("coordinator: dropping unexpected tag %s from %s", env.Msg.Tag, env.From)
			}
		}
	}
}

func (c *Coordinator) nextID() txn.ID {
	c.counter.mu.Lock()
	defer c.counter.mu.Unlock()
	c.counter.next++
	return txn.ID(itoa(c.counter.next))
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// StartCommit is the single entry point an originator calls to propose a
// collage commit. sources is a list of "<participant>:<filename>"
// references; an unparseable one is dropped with a logged warning and does
// not block the rest of the commit.
func (c *Coordinator) StartCommit(filename string, imageBytes []byte, sources []string) txn.ID {
	participantImages := txn.GroupSources(sources, func(ref string, err error) {
		c.logger.Printf("coordinator: dropping malformed source reference %q: %v", ref, err)
	})

	id := c.nextID()
	fingerprint := blake2b.Sum256(imageBytes)
	t := txn.New(id, filename, imageBytes, fingerprint, participantImages)

	c.table.Store(id, t)

	t.Lock()
	c.flushLocked(t)
	t.Unlock()

	c.metrics.RecordState(txn.StatePreparing)

	for addr, filenames := range participantImages {
		c.bus.Send(addr, wire.Message{
			Tag:        wire.Prepare,
			TxnID:      id,
			ImageBytes: imageBytes,
			Filenames:  filenames,
		})
	}

	timer := time.AfterFunc(PrepareDeadline, func() { c.handleDeadline(id) })
	c.timers.Store(id, timer)

	return id
}

func (c *Coordinator) handleDeadline(id txn.ID) {
	v, ok := c.table.Load(id)
	if !ok {
		return
	}
	t := v.(*txn.Transaction)

	t.Lock()
	changed := t.DeadlineExpired()
	if changed {
		c.flushLocked(t)
	}
	t.Unlock()

	if changed {
		c.metrics.RecordState(txn.StateAborting)
		c.broadcastDecision(t)
	}
}

func (c *Coordinator) handleVote(id txn.ID, from txn.Address, vote bool) {
	v, ok := c.table.Load(id)
	if !ok {
		return
	}
	t := v.(*txn.Transaction)

	t.Lock()
	if t.State != txn.StatePreparing {
		// Late-arriving vote after a decision was already made: no-op.
		t.Unlock()
		return
	}

	c.metrics.IncVotes()
	if !vote {
		t.RecordVoteNo()
		c.flushLocked(t)
		t.Unlock()
		c.metrics.RecordState(txn.StateAborting)
		c.broadcastDecision(t)
		return
	}

	becameCommitting := t.RecordVoteYes(from)
	// Log-then-write: the transition to COMMITTING is flushed before the
	// composite is written, so recovery never sees a written file without
	// the state to match it.
	c.flushLocked(t)
	if becameCommitting {
		if err := c.store.Write(t.Filename, t.ImageBytes); err != nil {
			c.logger.Printf("coordinator: writing composite %s for %s: %v", t.Filename, id, err)
		}
	}
	t.Unlock()

	if becameCommitting {
		c.metrics.RecordState(txn.StateCommitting)
		c.broadcastDecision(t)
	}
}

func (c *Coordinator) handleAck(id txn.ID, from txn.Address) {
	v, ok := c.table.Load(id)
	if !ok {
		return
	}
	t := v.(*txn.Transaction)

	t.Lock()
	becameTerminal := t.RemoveAck(from)
	finalState := t.State
	c.flushLocked(t)
	t.Unlock()

	if becameTerminal {
		c.metrics.RecordState(finalState)
		if timer, ok := c.timers.LoadAndDelete(id); ok {
			timer.(*time.Timer).Stop()
		}
	}
}

// broadcastDecision sends the transaction's current decision (COMMIT or
// ABORT) to every participant still in ackPending. Called once immediately
// on the transition; after that, sweepOnce resends the same decision every
// HeartbeatPeriod until every participant has acknowledged.
func (c *Coordinator) broadcastDecision(t *txn.Transaction) {
	t.Lock()
	state := t.State
	targets := make([]txn.Address, 0, len(t.AckPending))
	for addr := range t.AckPending {
		targets = append(targets, addr)
	}
	t.Unlock()

	tag, ok := decisionTag(state)
	if !ok {
		return
	}
	for _, addr := range targets {
		c.bus.Send(addr, wire.Message{Tag: tag, TxnID: t.ID})
	}
}

func decisionTag(state txn.State) (wire.Tag, bool) {
	switch state {
	case txn.StateCommitting:
		return wire.Commit, true
	case txn.StateAborting:
		return wire.Abort, true
	default:
		return "", false
	}
}

// GetTransaction returns a snapshot of one transaction, for the admin API.
func (c *Coordinator) GetTransaction(id txn.ID) (txn.Snapshot, bool) {
	v, ok := c.table.Load(id)
	if !ok {
		return txn.Snapshot{}, false
	}
	return v.(*txn.Transaction).Snapshot(), true
}

// ListTransactions returns a snapshot of every transaction the coordinator
// knows about, in no particular order.
func (c *Coordinator) ListTransactions() []txn.Snapshot {
	var out []txn.Snapshot
	c.table.Range(func(_, v any) bool {
		out = append(out, v.(*txn.Transaction).Snapshot())
		return true
	})
	return out
}
