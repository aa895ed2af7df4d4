package participant

import "github.com/mnohosten/collage-2pc/pkg/txn"

// snapshot is the durable record of a participant's lock-manager state,
// flushed before any lock is acquired or released becomes visible to the
// next PREPARE/COMMIT/ABORT.
type snapshot struct {
	ActiveTransactions map[txn.ID][]string `json:"active_transactions"`
	LockedImages       map[string]txn.ID   `json:"locked_images"`
}

// flushLocked persists the current lock-manager state. Caller holds p.mu.
func (p *Participant) flushLocked() {
	snap := snapshot{
		ActiveTransactions: p.activeTransactions,
		LockedImages:       p.lockedImages,
	}
	if err := p.log.Flush(snap); err != nil {
		p.logger.Printf("participant %s: durable log flush failed: %v", p.id, err)
	}
}
