package coordinator

import (
	"time"

	"github.com/mnohosten/collage-2pc/pkg/txn"
	"github.com/mnohosten/collage-2pc/pkg/wire"
)

// sweepLoop is the single decision-retry sweeper: every HeartbeatPeriod it
// walks the transaction table and resends COMMIT/ABORT to every
// participant still outstanding in ackPending. It is never cancelled during
// normal operation; terminal transactions simply have nothing left to
// resend, which is what ends their retries.
func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Coordinator) sweepOnce() {
	c.table.Range(func(_, v any) bool {
		t := v.(*txn.Transaction)

		t.Lock()
		state := t.State
		var targets []txn.Address
		if state == txn.StateCommitting || state == txn.StateAborting {
			for addr := range t.AckPending {
				targets = append(targets, addr)
			}
		}
		t.Unlock()

		if len(targets) == 0 {
			return true
		}
		tag, ok := decisionTag(state)
		if !ok {
			return true
		}
		c.metrics.IncRetries()
		for _, addr := range targets {
			c.bus.Send(addr, wire.Message{Tag: tag, TxnID: t.ID})
		}
		return true
	})
}
