package coordinator

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/mnohosten/collage-2pc/pkg/txn"
)

// logSnapshot is the coordinator's full durable-log state: the id counter
// plus every transaction record, compressed composite bytes included.
type logSnapshot struct {
	NextID       uint64                `json:"next_id"`
	Transactions map[txn.ID]txn.Snapshot `json:"transactions"`
}

// flushLocked rewrites the entire durable log. The caller must already hold
// current's lock; every other transaction's fields are read under its own
// lock in turn, since flushing one record's change should not block
// unrelated transactions from making progress concurrently.
func (c *Coordinator) flushLocked(current *txn.Transaction) {
	snap := logSnapshot{Transactions: make(map[txn.ID]txn.Snapshot)}

	c.counter.mu.Lock()
	snap.NextID = c.counter.next
	c.counter.mu.Unlock()

	c.table.Range(func(_, v any) bool {
		t := v.(*txn.Transaction)
		var s txn.Snapshot
		if t == current {
			s = t.SnapshotLocked()
		} else {
			s = t.Snapshot()
		}
		compressed, err := compress(s.ImageBytes)
		if err != nil {
			c.logger.Printf("coordinator: compress image bytes for %s: %v", s.ID, err)
		} else {
			s.ImageBytes = compressed
		}
		snap.Transactions[s.ID] = s
		return true
	})

	if err := c.log.Flush(snap); err != nil {
		c.logger.Printf("coordinator: flush durable log: %v", err)
	}
}

// flushAll is used during recovery, before the caller has any per-record
// lock to piggyback on.
func (c *Coordinator) flushAll() error {
	snap := logSnapshot{Transactions: make(map[txn.ID]txn.Snapshot)}
	c.counter.mu.Lock()
	snap.NextID = c.counter.next
	c.counter.mu.Unlock()

	c.table.Range(func(_, v any) bool {
		t := v.(*txn.Transaction)
		s := t.Snapshot()
		compressed, err := compress(s.ImageBytes)
		if err == nil {
			s.ImageBytes = compressed
		}
		snap.Transactions[s.ID] = s
		return true
	})
	return c.log.Flush(snap)
}

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd read: %w", err)
	}
	return out, nil
}
